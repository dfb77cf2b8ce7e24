package stream

import "sync"

// Subscriber receives the commit events matching its filter, in revision
// order, on the channel returned by Events.
//
// A subscriber that does not keep up is closed with ErrLagged rather than
// silently skipping revisions. It can resume with a new subscription from
// Position.
type Subscriber struct {
	id     uint64
	filter WatchFilter
	events chan CommitEvent

	mu       sync.Mutex
	closed   bool
	err      error
	position uint64
}

func newSubscriber(id uint64, filter WatchFilter, buffer int, position uint64) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Subscriber{
		id:       id,
		filter:   filter,
		events:   make(chan CommitEvent, buffer),
		position: position,
	}
}

// ID returns the subscription id.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Filter returns the filter the subscription was created with.
func (s *Subscriber) Filter() WatchFilter {
	return s.filter
}

// Events returns the channel of matching events. It is closed when the
// subscription ends.
func (s *Subscriber) Events() <-chan CommitEvent {
	return s.events
}

// Err returns why the subscription ended: ErrLagged, ErrBrokerClosed, or
// nil while it is open or after Unsubscribe.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Position returns the revision up to which every matching event has been
// put on the channel.
func (s *Subscriber) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Closed reports whether the subscription has ended.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// offer delivers e if it matches the filter. It reports false when the
// subscription is closed, including when it just lagged.
func (s *Subscriber) offer(e CommitEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.filter.Matches(&e) {
		select {
		case s.events <- e:
		default:
			s.closeLocked(ErrLagged)
			return false
		}
	}
	s.position = e.Revision
	return true
}

func (s *Subscriber) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(err)
}

func (s *Subscriber) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
