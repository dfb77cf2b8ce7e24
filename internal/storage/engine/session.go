package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/cache"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
	"github.com/KilimcininKorOglu/revtree/internal/storage/stream"
	"github.com/KilimcininKorOglu/revtree/internal/storage/txn"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// Session errors.
var (
	ErrLayoutMismatch = errors.New("store layout differs from the requested layout")
	ErrInvalidOptions = errors.New("invalid session options")
)

// Transaction errors, re-exported for callers of the engine.
var (
	ErrUsage              = txn.ErrUsage
	ErrIO                 = txn.ErrIO
	ErrCorrupt            = txn.ErrCorrupt
	ErrRevisionOutOfRange = txn.ErrRevisionOutOfRange
	ErrTransactionClosed  = txn.ErrTransactionClosed
	ErrWriterActive       = txn.ErrWriterActive
	ErrInvalidKey         = txn.ErrInvalidKey
	ErrSessionClosed      = txn.ErrSessionClosed
)

// RevisionInfo describes one committed revision.
type RevisionInfo struct {
	Revision    uint64
	CommittedAt time.Time
	MaxNodeKey  int64
}

// Stats reports session counters.
type Stats struct {
	LastRevision uint64
	Readers      int
	WriterOpen   bool
	Commits      uint64
	Layout       page.Layout
	Policy       versioning.Policy
	Cache        cache.Stats
	Pages        pager.Stats
	Watchers     int
}

// Session owns one store. It hands out read states pinned to committed
// revisions and at most one write state at a time.
type Session struct {
	storage backend.Storage
	pager   *pager.Pager
	cache   *cache.TwoTier
	env     *txn.Env
	broker  *stream.Broker
	logger  logging.Logger

	readers *semaphore.Weighted
	writer  *semaphore.Weighted
	nextID  atomic.Uint64
	commits atomic.Uint64

	mu     sync.Mutex
	uber   *page.UberPage
	active map[uint64]*txn.ReadState
	writeS *txn.WriteState
	closed bool
}

// Open opens a session over storage. A store without a committed revision is
// initialized with an empty revision 0. On success the session owns storage
// and closes it on Close.
func Open(storage backend.Storage, opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.WithTraceID(logging.NewTraceID())

	p, err := pager.New(storage, opts.PageCacheBytes, logger)
	if err != nil {
		return nil, err
	}

	uber, found, err := loadUber(p)
	if err != nil {
		p.Close()
		return nil, err
	}

	layout, policy := opts.Layout, opts.Policy
	if layout == (page.Layout{}) {
		layout = page.DefaultLayout()
	}
	if found {
		if opts.Layout != (page.Layout{}) && uber.Layout != opts.Layout {
			p.Close()
			return nil, fmt.Errorf("%w: stored %+v, requested %+v", ErrLayoutMismatch, uber.Layout, opts.Layout)
		}
		layout = uber.Layout
		stored, err := versioning.Decode(uber.Versioning)
		if err != nil {
			p.Close()
			return nil, &txn.IOError{Op: "open", Err: err}
		}
		if stored != policy {
			logger.Warn("store keeps its versioning policy",
				"stored", stored.Kind.String(), "requested", policy.Kind.String())
		}
		policy = stored
	}

	second, err := openSecondary(opts)
	if err != nil {
		p.Close()
		return nil, err
	}
	c, err := cache.New(opts.CacheCapacity, second, logger)
	if err != nil {
		if second != nil {
			second.Close()
		}
		p.Close()
		return nil, err
	}

	s := &Session{
		storage: storage,
		pager:   p,
		cache:   c,
		env:     txn.NewEnv(p, c, layout, policy, logger),
		logger:  logger,
		readers: semaphore.NewWeighted(opts.MaxReaders),
		writer:  semaphore.NewWeighted(1),
		active:  make(map[uint64]*txn.ReadState),
	}

	if !found {
		uber, err = txn.Bootstrap(s.env)
		if err != nil {
			c.Close()
			p.Close()
			return nil, err
		}
	}
	s.uber = uber
	s.broker = stream.NewBroker(stream.BrokerConfig{
		ReplaySize: stream.ReplayBufferSize,
		After:      uber.LastRevision(),
	})

	logger.Info("session opened",
		"revision", uber.LastRevision(),
		"versioning", policy.Kind.String(),
		"milestone", policy.Milestone)
	return s, nil
}

func loadUber(p *pager.Pager) (*page.UberPage, bool, error) {
	r, err := p.Reader()
	if err != nil {
		return nil, false, &txn.IOError{Op: "open", Err: err}
	}
	defer r.Close()

	uber, found, err := r.LoadUber()
	if err != nil {
		return nil, false, &txn.IOError{Op: "load uber page", Err: err}
	}
	return uber, found, nil
}

func openSecondary(opts Options) (cache.Tier, error) {
	switch opts.Secondary {
	case SecondaryNone:
		return nil, nil
	case SecondarySQLite:
		return cache.OpenSQLiteTier(opts.SecondaryPath)
	default:
		return cache.NewMemoryTier(), nil
	}
}

// BeginRead opens a read state pinned to revision. It blocks until a reader
// permit is available or ctx is done.
func (s *Session) BeginRead(ctx context.Context, revision uint64) (*txn.ReadState, error) {
	return s.beginRead(ctx, func(uber *page.UberPage) uint64 { return revision })
}

// BeginReadLatest opens a read state pinned to the last committed revision.
func (s *Session) BeginReadLatest(ctx context.Context) (*txn.ReadState, error) {
	return s.beginRead(ctx, func(uber *page.UberPage) uint64 { return uber.LastRevision() })
}

func (s *Session) beginRead(ctx context.Context, pick func(*page.UberPage) uint64) (*txn.ReadState, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if err := s.readers.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.readers.Release(1)
		return nil, ErrSessionClosed
	}
	uber := s.uber
	s.mu.Unlock()

	id := s.nextID.Add(1)
	state, err := txn.OpenRead(s.env, txn.ReadConfig{
		ID:       id,
		Uber:     uber,
		Revision: pick(uber),
		OnClose: func() {
			s.unregister(id)
			s.readers.Release(1)
		},
	})
	if err != nil {
		s.readers.Release(1)
		return nil, err
	}

	if !s.register(id, state, nil) {
		state.Close()
		return nil, ErrSessionClosed
	}
	return state, nil
}

// BeginWrite opens the write state. It fails with ErrWriterActive while
// another write state is open.
func (s *Session) BeginWrite() (*txn.WriteState, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.writer.TryAcquire(1) {
		return nil, ErrWriterActive
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writer.Release(1)
		return nil, ErrSessionClosed
	}
	uber := s.uber
	s.mu.Unlock()

	id := s.nextID.Add(1)
	state, err := txn.OpenWrite(s.env, txn.WriteConfig{
		ID:       id,
		Uber:     uber,
		OnCommit: s.publish,
		OnClose: func() {
			s.unregister(id)
			s.mu.Lock()
			s.writeS = nil
			s.mu.Unlock()
			s.writer.Release(1)
		},
	})
	if err != nil {
		s.writer.Release(1)
		return nil, err
	}

	if !s.register(id, &state.ReadState, state) {
		state.Discard()
		return nil, ErrSessionClosed
	}
	return state, nil
}

// publish makes a committed revision visible to new read states and
// notifies watchers.
func (s *Session) publish(info txn.CommitInfo) {
	s.mu.Lock()
	s.uber = info.Uber
	s.mu.Unlock()
	s.commits.Add(1)

	layout := s.env.Layout
	event := stream.CommitEvent{
		Revision:    info.Root.Revision,
		CommittedAt: time.Unix(0, info.Root.CommittedAt),
		Reverted:    info.Reverted,
	}
	for _, p := range info.Pages {
		first := int64(p.PageKey) << layout.RecordBits
		event.Changes = append(event.Changes, stream.Change{
			Kind:     p.Kind,
			PageKey:  p.PageKey,
			FirstKey: first,
			LastKey:  first + int64(layout.RecordsPerPage()) - 1,
		})
	}
	s.broker.Publish(event)
}

// Watch subscribes to commits matching filter. The subscriber's channel is
// closed by Unwatch, when the session closes, or when the subscriber falls
// behind; Subscriber.Err tells which.
func (s *Session) Watch(filter stream.WatchFilter) (*stream.Subscriber, error) {
	sub, err := s.broker.Subscribe(filter)
	if errors.Is(err, stream.ErrBrokerClosed) {
		return nil, ErrSessionClosed
	}
	return sub, err
}

// WatchFrom subscribes to commits matching filter and first replays the
// commits after revision. Only commits made through this session since it
// opened can be replayed; older ones fail with stream.ErrRevisionTooOld.
func (s *Session) WatchFrom(filter stream.WatchFilter, revision uint64) (*stream.Subscriber, error) {
	sub, err := s.broker.SubscribeFrom(filter, revision)
	if errors.Is(err, stream.ErrBrokerClosed) {
		return nil, ErrSessionClosed
	}
	return sub, err
}

// Unwatch ends a subscription.
func (s *Session) Unwatch(sub *stream.Subscriber) {
	s.broker.Unsubscribe(sub)
}

// register records an open state. It reports false when the session closed
// in the meantime.
func (s *Session) register(id uint64, state *txn.ReadState, writer *txn.WriteState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.active[id]; ok {
		panic(fmt.Sprintf("engine: transaction %d registered twice", id))
	}
	s.active[id] = state
	if writer != nil {
		s.writeS = writer
	}
	return true
}

func (s *Session) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.active[id]; !ok {
		panic(fmt.Sprintf("engine: transaction %d is not registered", id))
	}
	delete(s.active, id)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastRevision returns the number of the last committed revision.
func (s *Session) LastRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uber.LastRevision()
}

// Layout returns the page layout of the store.
func (s *Session) Layout() page.Layout {
	return s.env.Layout
}

// Revisions lists every committed revision in ascending order.
func (s *Session) Revisions() ([]RevisionInfo, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	uber := s.uber
	s.mu.Unlock()

	r, err := s.pager.Reader()
	if err != nil {
		return nil, &txn.IOError{Op: "list revisions", Err: err}
	}
	defer r.Close()

	infos := make([]RevisionInfo, 0, uber.RevisionCount)
	err = s.env.Trie().Walk(r, uber.Revisions, func(key uint64, leaf *page.Reference) error {
		if key > uber.LastRevision() {
			return nil
		}
		pg, err := r.Load(leaf)
		if err != nil {
			return err
		}
		root, ok := pg.(*page.RevisionRoot)
		if !ok {
			return fmt.Errorf("revision %d: %w", key, page.ErrCorruptPage)
		}
		infos = append(infos, RevisionInfo{
			Revision:    root.Revision,
			CommittedAt: time.Unix(0, root.CommittedAt),
			MaxNodeKey:  root.MaxNodeKey,
		})
		return nil
	})
	if err != nil {
		return nil, &txn.IOError{Op: "list revisions", Err: err}
	}
	return infos, nil
}

// Stats returns session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		LastRevision: s.uber.LastRevision(),
		Readers:      len(s.active),
		WriterOpen:   s.writeS != nil,
	}
	s.mu.Unlock()
	if st.WriterOpen {
		st.Readers--
	}

	st.Commits = s.commits.Load()
	st.Layout = s.env.Layout
	st.Policy = s.env.Policy
	st.Cache = s.cache.Stats()
	st.Pages = s.pager.Stats()
	st.Watchers = s.broker.Stats().Subscribers
	return st
}

// Close discards an open write state, closes every read state and releases
// the store. No state may be in use while Close runs. Calling Close more than
// once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	writer := s.writeS
	states := make([]*txn.ReadState, 0, len(s.active))
	for _, st := range s.active {
		if writer == nil || st != &writer.ReadState {
			states = append(states, st)
		}
	}
	s.active = nil
	s.mu.Unlock()

	if writer != nil {
		writer.Discard()
	}
	s.broker.Close()
	for _, st := range states {
		st.Close()
	}

	var errs []error
	if err := s.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	s.pager.Close()
	if err := s.storage.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("session closed", "commits", s.commits.Load())
	return errors.Join(errs...)
}
