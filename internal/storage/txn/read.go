package txn

import (
	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/cache"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// pageID identifies one logical data page inside a revision.
type pageID struct {
	kind    page.Kind
	pageKey uint64
}

// ReadState is a transaction bound to one committed revision. It is not safe
// for concurrent use; one goroutine drives it at a time.
type ReadState struct {
	id     uint64
	env    *Env
	logger logging.Logger
	reader *pager.Reader

	// uber is the last committed UberPage when the state was opened; it
	// reaches every revision the pinned one may depend on.
	uber *page.UberPage
	root *page.RevisionRoot

	revisions map[uint64]*page.RevisionRoot
	transient map[int64]*page.Record
	// pending holds the write state's dirty containers; nil for readers.
	pending map[pageID]*page.Container

	onClose func()
	closed  bool
}

// ReadConfig carries what a session hands to a new transaction state.
type ReadConfig struct {
	ID   uint64
	Uber *page.UberPage
	// Revision is the revision to pin.
	Revision uint64
	// OnClose runs once when the state is closed.
	OnClose func()
}

// OpenRead opens a read state pinned to cfg.Revision, which must not exceed
// the last revision of cfg.Uber.
func OpenRead(env *Env, cfg ReadConfig) (*ReadState, error) {
	s := &ReadState{}
	if err := s.init(env, cfg); err != nil {
		return nil, err
	}
	s.logger.Debug("read transaction opened")
	return s, nil
}

func (s *ReadState) init(env *Env, cfg ReadConfig) error {
	reader, err := env.Pager.Reader()
	if err != nil {
		return wrapIO("open reader", err)
	}
	root, err := env.ResolveRevision(reader, cfg.Uber, cfg.Revision)
	if err != nil {
		reader.Close()
		return err
	}

	*s = ReadState{
		id:        cfg.ID,
		env:       env,
		logger:    env.Logger.WithFields("tx", cfg.ID, "revision", cfg.Revision),
		reader:    reader,
		uber:      cfg.Uber,
		root:      root,
		revisions: map[uint64]*page.RevisionRoot{root.Revision: root},
		transient: make(map[int64]*page.Record),
		onClose:   cfg.OnClose,
	}
	return nil
}

// ID returns the transaction identifier.
func (s *ReadState) ID() uint64 {
	return s.id
}

// Revision returns the pinned revision number.
func (s *ReadState) Revision() uint64 {
	return s.root.Revision
}

// RevisionRoot returns the pinned revision root.
func (s *ReadState) RevisionRoot() *page.RevisionRoot {
	return s.root
}

// MaxNodeKey returns the largest node key issued as of the pinned revision,
// or -1 when none was.
func (s *ReadState) MaxNodeKey() int64 {
	return s.root.MaxNodeKey
}

// CommittedAt returns the commit time of the pinned revision in unix nanoseconds.
func (s *ReadState) CommittedAt() int64 {
	return s.root.CommittedAt
}

// Record returns the node record stored under key. Keys outside the page
// store's key space are served from the transaction-local transient overlay.
// A tombstoned record is reported as not found.
func (s *ReadState) Record(key int64) (*page.Record, bool, error) {
	if s.closed {
		return nil, false, ErrTransactionClosed
	}
	if s.isTransient(key) {
		r, ok := s.transient[key]
		return r, ok, nil
	}
	return s.record(page.KindNode, key)
}

// Value returns the value of the node record stored under key.
func (s *ReadState) Value(key int64) ([]byte, bool, error) {
	r, ok, err := s.Record(key)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.Value, true, nil
}

// PutTransient stores a record in the transient overlay. key must lie
// outside the page store's key space; such records are never persisted.
func (s *ReadState) PutTransient(key int64, value []byte) error {
	if s.closed {
		return ErrTransactionClosed
	}
	if !s.isTransient(key) {
		return ErrInvalidKey
	}
	s.transient[key] = page.NewRecord(value)
	return nil
}

// Close releases the reader handle and drops transaction-local state. It is
// safe to call more than once.
func (s *ReadState) Close() error {
	if s.closed {
		return nil
	}
	s.release()
	s.logger.Debug("read transaction closed")
	return nil
}

func (s *ReadState) release() {
	s.closed = true
	s.reader.Close()
	s.revisions = nil
	s.transient = nil
	s.pending = nil
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *ReadState) isTransient(key int64) bool {
	return key < 0 || key > s.env.Layout.MaxRecordKey()
}

func (s *ReadState) record(kind page.Kind, key int64) (*page.Record, bool, error) {
	pageKey, offset := s.env.Layout.Split(key)
	c, err := s.container(kind, pageKey)
	if err != nil || c == nil {
		return nil, false, err
	}
	r := c.Complete.Get(offset)
	if r == nil || r.Deleted {
		return nil, false, nil
	}
	return r, true, nil
}

// container returns the reconstructed page, preferring the write state's
// pending version. A nil container means the page was never written.
func (s *ReadState) container(kind page.Kind, pageKey uint64) (*page.Container, error) {
	if c, ok := s.pending[pageID{kind, pageKey}]; ok {
		return c, nil
	}

	key := cache.Key{Kind: kind, PageKey: pageKey, Revision: s.root.Revision}
	if c, ok := s.env.cacheGet(key); ok {
		return c, nil
	}

	chain, err := s.chain(s.root, kind, pageKey)
	if err != nil || chain == nil {
		return nil, err
	}
	complete, err := versioning.Combine(chain)
	if err != nil {
		return nil, wrapIO("reconstruct page", err)
	}
	c := page.NewContainer(complete, nil)
	s.env.cachePut(key, c)
	return c, nil
}

// chain collects the fragment chain of a page as of root, most recent first.
func (s *ReadState) chain(root *page.RevisionRoot, kind page.Kind, pageKey uint64) ([]*page.DataPage, error) {
	latest, err := s.fragment(root, kind, pageKey)
	if err != nil || latest == nil {
		return nil, err
	}
	chain, err := s.env.Policy.Collect(latest, func(revision uint64) (*page.DataPage, error) {
		r, err := s.revisionRoot(revision)
		if err != nil {
			return nil, err
		}
		return s.fragment(r, kind, pageKey)
	})
	if err != nil {
		return nil, wrapIO("collect fragments", err)
	}
	return chain, nil
}

// fragment returns the latest fragment of a page as of root.
func (s *ReadState) fragment(root *page.RevisionRoot, kind page.Kind, pageKey uint64) (*page.DataPage, error) {
	leaf, err := s.env.trie.Resolve(s.reader, root.Root(kind), pageKey)
	if err != nil {
		return nil, wrapIO("resolve page", err)
	}
	if leaf == nil {
		return nil, nil
	}
	pg, err := s.reader.Load(leaf)
	if err != nil {
		return nil, wrapIO("load page", err)
	}
	dp, ok := pg.(*page.DataPage)
	if !ok || dp.Kind() != kind || dp.PageKey() != pageKey {
		return nil, &IOError{Op: "load page", Err: page.ErrCorruptPage}
	}
	return dp, nil
}

func (s *ReadState) revisionRoot(revision uint64) (*page.RevisionRoot, error) {
	if r, ok := s.revisions[revision]; ok {
		return r, nil
	}
	r, err := s.env.ResolveRevision(s.reader, s.uber, revision)
	if err != nil {
		return nil, err
	}
	s.revisions[revision] = r
	return r, nil
}
