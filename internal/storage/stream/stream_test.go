package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

func nodeChange(pageKey uint64) Change {
	return Change{Kind: page.KindNode, PageKey: pageKey, FirstKey: int64(pageKey) * 4, LastKey: int64(pageKey)*4 + 3}
}

func event(revision uint64, changes ...Change) CommitEvent {
	return CommitEvent{Revision: revision, CommittedAt: time.Now(), Changes: changes}
}

func receive(t *testing.T, sub *Subscriber) CommitEvent {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return CommitEvent{}
	}
}

func assertEmpty(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event for revision %d", e.Revision)
	default:
	}
}

func drain(sub *Subscriber) []uint64 {
	var revs []uint64
	for e := range sub.Events() {
		revs = append(revs, e.Revision)
	}
	return revs
}

func newBroker(t *testing.T, cfg BrokerConfig) *Broker {
	t.Helper()
	b := NewBroker(cfg)
	t.Cleanup(b.Close)
	return b
}

func subscribe(t *testing.T, b *Broker, f WatchFilter) *Subscriber {
	t.Helper()
	sub, err := b.Subscribe(f)
	require.NoError(t, err)
	return sub
}

func TestWatchFilterMatches(t *testing.T) {
	nameChange := Change{Kind: page.KindName, PageKey: 0, FirstKey: 0, LastKey: 3}

	tests := []struct {
		name    string
		filter  WatchFilter
		event   CommitEvent
		matches bool
	}{
		{"match all", MatchAll(), event(1, nodeChange(0)), true},
		{"match all empty commit", MatchAll(), event(1), true},
		{"key range overlaps", MatchKeys(2, 5), event(1, nodeChange(1)), true},
		{"key range touches first key", MatchKeys(0, 4), event(1, nodeChange(1)), true},
		{"key range disjoint", MatchKeys(8, 20), event(1, nodeChange(0), nodeChange(1)), false},
		{"key range ignores names", MatchKeys(0, 3), event(1, nameChange), false},
		{"key range empty commit", MatchKeys(0, 100), event(1), false},
		{"names", MatchNames(), event(1, nodeChange(0), nameChange), true},
		{"names without name change", MatchNames(), event(1, nodeChange(0)), false},
		{"revert matches everything", MatchKeys(100, 200), CommitEvent{Revision: 3, Reverted: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.filter.Matches(&tt.event))
		})
	}

	var f WatchFilter
	assert.False(t, f.Matches(nil))
}

func TestCommitEventClone(t *testing.T) {
	e := event(4, nodeChange(1))
	c := e.Clone()
	c.Changes[0].PageKey = 9
	assert.Equal(t, uint64(1), e.Changes[0].PageKey)
	assert.Equal(t, e.Revision, c.Revision)
}

func TestHistory(t *testing.T) {
	h := newHistory(3, 0)
	events, ok := h.since(0)
	assert.True(t, ok)
	assert.Empty(t, events)

	for rev := uint64(1); rev <= 5; rev++ {
		h.push(event(rev))
	}
	assert.Equal(t, 3, h.len())
	assert.Equal(t, uint64(3), h.first)

	t.Run("resume inside buffer", func(t *testing.T) {
		events, ok := h.since(3)
		require.True(t, ok)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(4), events[0].Revision)
		assert.Equal(t, uint64(5), events[1].Revision)
	})

	t.Run("resume at oldest", func(t *testing.T) {
		events, ok := h.since(2)
		assert.True(t, ok)
		assert.Len(t, events, 3)
		_, ok = h.since(1)
		assert.False(t, ok)
	})

	t.Run("resume up to date", func(t *testing.T) {
		events, ok := h.since(5)
		assert.True(t, ok)
		assert.Empty(t, events)
	})

	t.Run("gap restarts history", func(t *testing.T) {
		h.push(event(9))
		assert.Equal(t, 1, h.len())
		_, ok := h.since(5)
		assert.False(t, ok)
		events, ok := h.since(8)
		require.True(t, ok)
		assert.Equal(t, uint64(9), events[0].Revision)
	})
}

func TestHistoryStartsAfterOpenRevision(t *testing.T) {
	h := newHistory(8, 10)
	_, ok := h.since(9)
	assert.False(t, ok, "revision 10 was committed before the history existed")
	events, ok := h.since(10)
	assert.True(t, ok)
	assert.Empty(t, events)
}

func TestBrokerPublishWithFilter(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: 16})

	all := subscribe(t, b, MatchAll())
	keys := subscribe(t, b, MatchKeys(0, 3))
	assert.Equal(t, 2, b.Stats().Subscribers)

	b.Publish(event(1, nodeChange(0)))
	b.Publish(event(2, nodeChange(5)))

	assert.Equal(t, uint64(1), receive(t, all).Revision)
	assert.Equal(t, uint64(2), receive(t, all).Revision)
	assert.Equal(t, uint64(1), receive(t, keys).Revision)
	assertEmpty(t, keys)
	assert.Equal(t, uint64(2), keys.Position(), "filtered revisions still advance the position")

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(2), st.LastRevision)
	assert.Equal(t, 2, st.Replayable)
	assert.Equal(t, uint64(1), st.OldestReplayed)
}

func TestBrokerSubscribeFrom(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: 2})

	for rev := uint64(1); rev <= 3; rev++ {
		b.Publish(event(rev, nodeChange(rev)))
	}

	sub, err := b.SubscribeFrom(MatchAll(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receive(t, sub).Revision)
	assert.Equal(t, uint64(3), receive(t, sub).Revision)

	b.Publish(event(4))
	assert.Equal(t, uint64(4), receive(t, sub).Revision)

	_, err = b.SubscribeFrom(MatchAll(), 0)
	assert.ErrorIs(t, err, ErrRevisionTooOld)
}

func TestSubscriberLagsAndResumes(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: 16, SubscriberBuffer: 2})
	slow := subscribe(t, b, MatchAll())

	for rev := uint64(1); rev <= 4; rev++ {
		b.Publish(event(rev))
	}

	assert.True(t, slow.Closed())
	assert.ErrorIs(t, slow.Err(), ErrLagged)
	assert.Equal(t, []uint64{1, 2}, drain(slow))
	assert.Equal(t, uint64(2), slow.Position())

	st := b.Stats()
	assert.Equal(t, uint64(1), st.Lagged)
	assert.Zero(t, st.Subscribers)

	resumed, err := b.SubscribeFrom(slow.Filter(), slow.Position())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), receive(t, resumed).Revision)
	assert.Equal(t, uint64(4), receive(t, resumed).Revision)
	assert.NoError(t, resumed.Err())
}

func TestSubscribeFromReplayDoesNotLag(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: 16, SubscriberBuffer: 1})
	for rev := uint64(1); rev <= 5; rev++ {
		b.Publish(event(rev))
	}

	sub, err := b.SubscribeFrom(MatchAll(), 0)
	require.NoError(t, err)
	assert.False(t, sub.Closed())
	b.Publish(event(6))
	b.Unsubscribe(sub)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, drain(sub))
	assert.NoError(t, sub.Err())
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(BrokerConfig{ReplaySize: 4})
	sub := subscribe(t, b, MatchAll())

	b.Close()
	b.Close()

	assert.True(t, sub.Closed())
	assert.ErrorIs(t, sub.Err(), ErrBrokerClosed)
	_, err := b.Subscribe(MatchAll())
	assert.ErrorIs(t, err, ErrBrokerClosed)
	_, err = b.SubscribeFrom(MatchAll(), 0)
	assert.ErrorIs(t, err, ErrBrokerClosed)

	b.Publish(event(1))
	assert.Zero(t, b.Stats().Published)
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: 4})

	sub := subscribe(t, b, MatchAll())
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	assert.True(t, sub.Closed())
	assert.NoError(t, sub.Err())
	assert.Zero(t, b.Stats().Subscribers)
	b.Publish(event(1))
	assert.Zero(t, b.Stats().Lagged)
}

func TestBrokerConcurrent(t *testing.T) {
	b := newBroker(t, BrokerConfig{ReplaySize: ReplayBufferSize})

	subs := make([]*Subscriber, 10)
	for i := range subs {
		subs[i] = subscribe(t, b, MatchAll())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for rev := uint64(1); rev <= 100; rev++ {
			b.Publish(event(rev))
		}
	}()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.SubscribeFrom(MatchAll(), 0)
			if err != nil {
				return
			}
			b.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	for _, sub := range subs {
		var last uint64
		for i := 0; i < 100; i++ {
			e := receive(t, sub)
			assert.Equal(t, last+1, e.Revision)
			last = e.Revision
		}
		b.Unsubscribe(sub)
	}
}
