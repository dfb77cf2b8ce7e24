package stream

import (
	"errors"
	"sync"
)

// Buffer sizes.
const (
	// DefaultBufferSize is the channel capacity of a subscriber.
	DefaultBufferSize = 256
	// ReplayBufferSize is the number of recent revisions kept for resume.
	ReplayBufferSize = 4096
)

// Errors.
var (
	ErrRevisionTooOld = errors.New("stream: resume revision too old")
	ErrBrokerClosed   = errors.New("stream: broker is closed")
	ErrLagged         = errors.New("stream: subscriber fell behind")
)

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// ReplaySize is the number of recent revisions kept for SubscribeFrom.
	ReplaySize int
	// SubscriberBuffer is the channel capacity of each subscriber.
	SubscriberBuffer int
	// After is the last revision committed before the broker was created.
	// Resuming from an earlier revision fails with ErrRevisionTooOld.
	After uint64
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	Subscribers int
	Published   uint64
	// Lagged counts subscriptions closed with ErrLagged.
	Lagged       uint64
	LastRevision uint64
	Replayable   int
	// OldestReplayed is the oldest revision SubscribeFrom can replay, or
	// LastRevision+1 when nothing is buffered.
	OldestReplayed uint64
}

// Broker fans commit events out to subscribers and keeps a bounded history
// for resuming subscriptions.
type Broker struct {
	mu        sync.Mutex
	subs      map[uint64]*Subscriber
	nextID    uint64
	buffer    int
	history   *history
	last      uint64
	published uint64
	lagged    uint64
	closed    bool
}

// NewBroker creates a broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultBufferSize
	}
	return &Broker{
		subs:    make(map[uint64]*Subscriber),
		buffer:  cfg.SubscriberBuffer,
		history: newHistory(cfg.ReplaySize, cfg.After),
		last:    cfg.After,
	}
}

// Subscribe creates a subscription that receives events published from now on.
func (b *Broker) Subscribe(filter WatchFilter) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	return b.addLocked(filter, b.buffer, b.last), nil
}

// SubscribeFrom creates a subscription that first receives the buffered
// events of revisions after revision. Nothing published concurrently is
// missed or delivered twice.
func (b *Broker) SubscribeFrom(filter WatchFilter, revision uint64) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	events, ok := b.history.since(revision)
	if !ok {
		return nil, ErrRevisionTooOld
	}

	sub := b.addLocked(filter, b.buffer+len(events), revision)
	for _, e := range events {
		sub.offer(e)
	}
	return sub, nil
}

func (b *Broker) addLocked(filter WatchFilter, buffer int, position uint64) *Subscriber {
	b.nextID++
	sub := newSubscriber(b.nextID, filter, buffer, position)
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe ends a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close(nil)
}

// Publish records e and delivers it to every matching subscriber. Events
// must be published in increasing revision order.
func (b *Broker) Publish(e CommitEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.history.push(e)
	b.last = e.Revision
	b.published++
	for id, sub := range b.subs {
		if !sub.offer(e) {
			delete(b.subs, id)
			b.lagged++
		}
	}
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BrokerStats{
		Subscribers:    len(b.subs),
		Published:      b.published,
		Lagged:         b.lagged,
		LastRevision:   b.last,
		Replayable:     b.history.len(),
		OldestReplayed: b.history.first,
	}
}

// Close ends every subscription with ErrBrokerClosed. Later calls to
// Subscribe fail and Publish does nothing.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close(ErrBrokerClosed)
		delete(b.subs, id)
	}
}
