package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/stream"
	"github.com/KilimcininKorOglu/revtree/internal/storage/txn"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

var testLayout = page.Layout{Depth: 3, FanoutBits: 2, RecordBits: 2}

func testOptions() Options {
	return DefaultOptions().
		WithLayout(testLayout).
		WithCacheCapacity(8).
		WithPageCacheBytes(1 << 20).
		WithMaxReaders(4)
}

func openMemory(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := Open(backend.NewMemory(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func commit(t *testing.T, s *Session, fn func(w *txn.WriteState)) uint64 {
	t.Helper()
	w, err := s.BeginWrite()
	require.NoError(t, err)
	fn(w)
	rev := w.Revision()
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	return rev
}

func readValue(t *testing.T, r *txn.ReadState, key int64) string {
	t.Helper()
	v, ok, err := r.Value(key)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return string(v)
}

func TestOpenBootstrapsRevisionZero(t *testing.T) {
	s := openMemory(t, testOptions())

	assert.Equal(t, uint64(0), s.LastRevision())
	assert.Equal(t, testLayout, s.Layout())

	revs, err := s.Revisions()
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, uint64(0), revs[0].Revision)
	assert.Equal(t, int64(-1), revs[0].MaxNodeKey)
	assert.False(t, revs[0].CommittedAt.IsZero())

	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	_, ok, err := r.Value(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"bad layout", testOptions().WithLayout(page.Layout{Depth: 1, FanoutBits: 0, RecordBits: 2})},
		{"bad policy", testOptions().WithPolicy(versioning.Policy{Kind: versioning.Incremental})},
		{"sqlite without path", testOptions().WithSecondary(SecondarySQLite, "")},
		{"unknown tier", testOptions().WithSecondary("redis", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(backend.NewMemory(), tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestSingleWriter(t *testing.T) {
	s := openMemory(t, testOptions())

	w, err := s.BeginWrite()
	require.NoError(t, err)

	_, err = s.BeginWrite()
	assert.ErrorIs(t, err, ErrWriterActive)
	assert.ErrorIs(t, err, ErrUsage)

	require.NoError(t, w.Close())

	w2, err := s.BeginWrite()
	require.NoError(t, err)
	w2.Discard()
}

func TestCommitVisibleToNewReaders(t *testing.T) {
	s := openMemory(t, testOptions())
	ctx := context.Background()

	before, err := s.BeginReadLatest(ctx)
	require.NoError(t, err)
	defer before.Close()

	rev := commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(5, []byte("a")))
	})
	assert.Equal(t, uint64(1), rev)
	assert.Equal(t, uint64(1), s.LastRevision())

	after, err := s.BeginReadLatest(ctx)
	require.NoError(t, err)
	defer after.Close()

	assert.Equal(t, "", readValue(t, before, 5))
	assert.Equal(t, "a", readValue(t, after, 5))

	old, err := s.BeginRead(ctx, 0)
	require.NoError(t, err)
	defer old.Close()
	assert.Equal(t, "", readValue(t, old, 5))
}

func TestBeginReadOutOfRange(t *testing.T) {
	s := openMemory(t, testOptions())

	_, err := s.BeginRead(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRevisionOutOfRange)

	// The failed open returns its permit.
	for i := 0; i < 4; i++ {
		r, err := s.BeginRead(context.Background(), 0)
		require.NoError(t, err)
		defer r.Close()
	}
}

func TestReaderPermitsBlock(t *testing.T) {
	s := openMemory(t, testOptions().WithMaxReaders(1))

	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.BeginReadLatest(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		r2, err := s.BeginReadLatest(context.Background())
		if err == nil {
			r2.Close()
		}
		done <- err
	}()

	require.NoError(t, r.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked reader was not admitted after release")
	}
}

func TestWriterDoesNotTakeReaderPermit(t *testing.T) {
	s := openMemory(t, testOptions().WithMaxReaders(1))

	w, err := s.BeginWrite()
	require.NoError(t, err)
	defer w.Discard()

	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	r.Close()
}

func TestConcurrentReadersWithWriter(t *testing.T) {
	const revisions = 20
	s := openMemory(t, testOptions().WithMaxReaders(8))

	var g errgroup.Group
	g.Go(func() error {
		w, err := s.BeginWrite()
		if err != nil {
			return err
		}
		defer w.Close()
		for i := 1; i <= revisions; i++ {
			for key := int64(0); key < 8; key++ {
				if err := w.Put(key, []byte(strconv.Itoa(i))); err != nil {
					return err
				}
			}
			if err := w.Commit(); err != nil {
				return err
			}
		}
		return nil
	})

	for n := 0; n < 6; n++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				r, err := s.BeginReadLatest(context.Background())
				if err != nil {
					return err
				}
				want := ""
				if r.Revision() > 0 {
					want = strconv.FormatUint(r.Revision(), 10)
				}
				for key := int64(0); key < 8; key++ {
					v, ok, err := r.Value(key)
					if err != nil {
						r.Close()
						return err
					}
					if got := string(v); (ok || want != "") && got != want {
						r.Close()
						return fmt.Errorf("revision %d key %d: got %q, want %q", r.Revision(), key, got, want)
					}
				}
				r.Close()
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(revisions), s.LastRevision())
	assert.Equal(t, uint64(revisions), s.Stats().Commits)
}

func TestStats(t *testing.T) {
	s := openMemory(t, testOptions())
	ctx := context.Background()

	r1, err := s.BeginReadLatest(ctx)
	require.NoError(t, err)
	r2, err := s.BeginReadLatest(ctx)
	require.NoError(t, err)
	w, err := s.BeginWrite()
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.Readers)
	assert.True(t, st.WriterOpen)
	assert.Equal(t, testLayout, st.Layout)
	assert.Equal(t, versioning.DefaultPolicy(), st.Policy)

	require.NoError(t, w.Put(1, []byte("x")))
	require.NoError(t, w.Close())
	r1.Close()
	r2.Close()

	st = s.Stats()
	assert.Equal(t, 0, st.Readers)
	assert.False(t, st.WriterOpen)
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, uint64(1), st.LastRevision)
}

func TestRevisionsListsCommits(t *testing.T) {
	s := openMemory(t, testOptions())
	for i := 0; i < 3; i++ {
		commit(t, s, func(w *txn.WriteState) {
			_, err := w.Insert([]byte("v"))
			require.NoError(t, err)
		})
	}

	revs, err := s.Revisions()
	require.NoError(t, err)
	require.Len(t, revs, 4)
	for i, info := range revs {
		assert.Equal(t, uint64(i), info.Revision)
		assert.Equal(t, int64(i-1), info.MaxNodeKey)
	}
	assert.False(t, revs[3].CommittedAt.Before(revs[0].CommittedAt))
}

func TestCloseReleasesStates(t *testing.T) {
	s, err := Open(backend.NewMemory(), testOptions())
	require.NoError(t, err)

	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	w, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, w.Put(1, []byte("uncommitted")))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = r.Value(1)
	assert.ErrorIs(t, err, ErrTransactionClosed)
	assert.ErrorIs(t, w.Put(2, nil), ErrTransactionClosed)

	_, err = s.BeginWrite()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.BeginReadLatest(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Revisions()
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReopenFileStore(t *testing.T) {
	dir := t.TempDir()

	open := func(opts Options) (*Session, error) {
		f, err := backend.OpenFile(dir, backend.DefaultFileOptions())
		require.NoError(t, err)
		s, err := Open(f, opts)
		if err != nil {
			f.Close()
		}
		return s, err
	}

	full := testOptions().WithPolicy(versioning.Policy{Kind: versioning.Full, Milestone: 1})
	s, err := open(full)
	require.NoError(t, err)
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(3, []byte("persisted")))
		_, err := w.CreateName("alpha")
		require.NoError(t, err)
	})
	require.NoError(t, s.Close())

	t.Run("data survives", func(t *testing.T) {
		s, err := open(testOptions())
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, uint64(1), s.LastRevision())
		assert.Equal(t, versioning.Full, s.Stats().Policy.Kind)

		r, err := s.BeginReadLatest(context.Background())
		require.NoError(t, err)
		defer r.Close()
		assert.Equal(t, "persisted", readValue(t, r, 3))
		_, found, err := r.NameKey("alpha")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("zero layout adopts stored", func(t *testing.T) {
		s, err := open(testOptions().WithLayout(page.Layout{}))
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, testLayout, s.Layout())
	})

	t.Run("layout mismatch", func(t *testing.T) {
		_, err := open(testOptions().WithLayout(page.DefaultLayout()))
		assert.ErrorIs(t, err, ErrLayoutMismatch)
	})
}

func TestFailedCommitKeepsSessionRevision(t *testing.T) {
	faults := backend.NewFaultInjector(backend.NewMemory())
	s, err := Open(faults, testOptions())
	require.NoError(t, err)
	defer s.Close()

	w, err := s.BeginWrite()
	require.NoError(t, err)
	defer w.Discard()
	require.NoError(t, w.Put(1, []byte("x")))

	faults.FailRootWrites()
	err = w.Commit()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, uint64(0), s.LastRevision())

	faults.Reset()
	require.NoError(t, w.Commit())
	assert.Equal(t, uint64(1), s.LastRevision())
}

func TestSQLiteSecondaryTier(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions().
		WithCacheCapacity(1).
		WithSecondary(SecondarySQLite, dir+"/cache.db")
	s := openMemory(t, opts)

	commit(t, s, func(w *txn.WriteState) {
		for key := int64(0); key < 16; key += 4 {
			require.NoError(t, w.Put(key, []byte(strconv.FormatInt(key, 10))))
		}
	})

	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	for key := int64(0); key < 16; key += 4 {
		assert.Equal(t, strconv.FormatInt(key, 10), readValue(t, r, key))
	}
	assert.Positive(t, s.Stats().Cache.Evictions)
}

func TestErrorsAreClassified(t *testing.T) {
	s := openMemory(t, testOptions())
	_, err := s.BeginRead(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.False(t, errors.Is(err, ErrIO))
}

func nextEvent(t *testing.T, sub *stream.Subscriber) stream.CommitEvent {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no commit event")
		return stream.CommitEvent{}
	}
}

func TestWatchCommits(t *testing.T) {
	s := openMemory(t, testOptions())

	all, err := s.Watch(stream.MatchAll())
	require.NoError(t, err)
	low, err := s.Watch(stream.MatchKeys(0, 3))
	require.NoError(t, err)
	names, err := s.Watch(stream.MatchNames())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Stats().Watchers)

	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(1, []byte("a")))
		require.NoError(t, w.Put(6, []byte("b")))
	})
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(9, []byte("c")))
		_, err := w.CreateName("n")
		require.NoError(t, err)
	})

	e := nextEvent(t, all)
	assert.Equal(t, uint64(1), e.Revision)
	require.Len(t, e.Changes, 2)
	assert.Equal(t, stream.Change{Kind: page.KindNode, PageKey: 1, FirstKey: 4, LastKey: 7}, e.Changes[1])
	assert.False(t, e.CommittedAt.IsZero())
	assert.Equal(t, uint64(2), nextEvent(t, all).Revision)

	assert.Equal(t, uint64(1), nextEvent(t, low).Revision)
	assert.Equal(t, uint64(2), nextEvent(t, names).Revision)

	s.Unwatch(low)
	_, ok := <-low.Events()
	assert.False(t, ok)
	assert.NoError(t, low.Err())

	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.RevertTo(0))
	})
	e = nextEvent(t, names)
	assert.Equal(t, uint64(3), e.Revision)
	assert.True(t, e.Reverted)
}

func TestWatchFromBeforeOpen(t *testing.T) {
	dir := t.TempDir()
	f, err := backend.OpenFile(dir, backend.DefaultFileOptions())
	require.NoError(t, err)
	s, err := Open(f, testOptions())
	require.NoError(t, err)
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(0, []byte("a")))
	})
	require.NoError(t, s.Close())

	f, err = backend.OpenFile(dir, backend.DefaultFileOptions())
	require.NoError(t, err)
	s, err = Open(f, testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.WatchFrom(stream.MatchAll(), 0)
	assert.ErrorIs(t, err, stream.ErrRevisionTooOld)
	sub, err := s.WatchFrom(stream.MatchAll(), 1)
	require.NoError(t, err)
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(1, []byte("b")))
	})
	assert.Equal(t, uint64(2), nextEvent(t, sub).Revision)
}

func TestWatchFromReplays(t *testing.T) {
	s := openMemory(t, testOptions())
	for i := 0; i < 3; i++ {
		commit(t, s, func(w *txn.WriteState) {
			_, err := w.Insert([]byte("v"))
			require.NoError(t, err)
		})
	}

	sub, err := s.WatchFrom(stream.MatchAll(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nextEvent(t, sub).Revision)
	assert.Equal(t, uint64(3), nextEvent(t, sub).Revision)

	_, err = s.WatchFrom(stream.MatchAll(), 0)
	require.NoError(t, err, "revision 0 predates the session but nothing after it is missing")

	require.NoError(t, s.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), stream.ErrBrokerClosed)

	_, err = s.Watch(stream.MatchAll())
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.WatchFrom(stream.MatchAll(), 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
