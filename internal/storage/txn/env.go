package txn

import (
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/cache"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
	"github.com/KilimcininKorOglu/revtree/internal/storage/trie"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// Env holds the session-owned resources shared by every transaction state.
type Env struct {
	Pager  *pager.Pager
	Cache  *cache.TwoTier
	Layout page.Layout
	Policy versioning.Policy
	Logger logging.Logger

	trie *trie.Trie
}

// NewEnv creates an environment. cache may be nil to disable container caching.
func NewEnv(p *pager.Pager, c *cache.TwoTier, layout page.Layout, policy versioning.Policy, logger logging.Logger) *Env {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Env{
		Pager:  p,
		Cache:  c,
		Layout: layout,
		Policy: policy,
		Logger: logger,
		trie:   trie.FromLayout(layout),
	}
}

// Trie returns the trie shared by node, name and revision lookups.
func (e *Env) Trie() *trie.Trie {
	return e.trie
}

func (e *Env) cacheGet(key cache.Key) (*page.Container, bool) {
	if e.Cache == nil {
		return nil, false
	}
	return e.Cache.Get(key)
}

func (e *Env) cachePut(key cache.Key, c *page.Container) {
	if e.Cache != nil {
		e.Cache.Put(key, c)
	}
}

// ResolveRevision returns the root of a committed revision reachable from uber.
func (e *Env) ResolveRevision(l trie.Loader, uber *page.UberPage, revision uint64) (*page.RevisionRoot, error) {
	if uber.RevisionCount == 0 || revision > uber.LastRevision() {
		return nil, ErrRevisionOutOfRange
	}
	leaf, err := e.trie.Resolve(l, uber.Revisions, revision)
	if err != nil {
		return nil, wrapIO("resolve revision", err)
	}
	if leaf == nil {
		return nil, &IOError{Op: "resolve revision", Err: versioning.ErrBrokenChain}
	}
	pg, err := l.Load(leaf)
	if err != nil {
		return nil, wrapIO("load revision root", err)
	}
	root, ok := pg.(*page.RevisionRoot)
	if !ok || root.Revision != revision {
		return nil, &IOError{Op: "load revision root", Err: trie.ErrUnexpectedPage}
	}
	return root, nil
}

// Bootstrap publishes revision 0, an empty revision, on a store that has never
// been committed to.
func Bootstrap(env *Env) (*page.UberPage, error) {
	w, err := env.Pager.Writer()
	if err != nil {
		return nil, wrapIO("open writer", err)
	}
	defer w.Close()

	root := page.NewRevisionRoot(0)
	root.CommittedAt = time.Now().UnixNano()
	key, err := w.Persist(root)
	if err != nil {
		return nil, wrapIO("bootstrap", err)
	}

	uber := page.NewUberPage(env.Layout)
	uber.Versioning = env.Policy.Encode()
	uber.RevisionCount = 1
	leaf, err := env.trie.Allocate(w, uber.Revisions, 0)
	if err != nil {
		return nil, wrapIO("bootstrap", err)
	}
	leaf.SetKey(key)
	leaf.SetPage(root)
	if _, err := env.trie.Persist(w, uber.Revisions); err != nil {
		return nil, wrapIO("bootstrap", err)
	}
	if err := w.Publish(uber); err != nil {
		return nil, wrapIO("bootstrap", err)
	}
	env.Logger.Info("store bootstrapped", "layout_depth", env.Layout.Depth, "versioning", env.Policy.Kind.String())
	return uber, nil
}
