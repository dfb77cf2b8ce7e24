package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KilimcininKorOglu/revtree/internal/config"
	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// Secondary cache tier kinds.
const (
	SecondaryNone   = "none"
	SecondaryMemory = "memory"
	SecondarySQLite = "sqlite"
)

// Options configures a Session.
type Options struct {
	// Layout is the page layout of a new store. Opening an existing store
	// with a different non-zero layout fails with ErrLayoutMismatch.
	// Default: 5 levels, 256-way, 256 records per page.
	Layout page.Layout

	// Policy is the versioning policy of a new store. Existing stores keep
	// the policy they were created with.
	// Default: incremental, milestone every 4 revisions.
	Policy versioning.Policy

	// CacheCapacity is the number of containers held in the first cache tier.
	// Default: 1024.
	CacheCapacity int

	// Secondary selects the second cache tier: none, memory or sqlite.
	// Default: memory.
	Secondary string

	// SecondaryPath is the SQLite file of the second tier.
	SecondaryPath string

	// PageCacheBytes bounds the decoded-page cache. Zero disables it.
	// Default: 64MiB.
	PageCacheBytes int64

	// MaxReaders is the number of read transactions that may be open at once.
	// Default: 64.
	MaxReaders int64

	// SyncOnCommit fsyncs file backends before each root replacement.
	// Default: true.
	SyncOnCommit bool

	// Handlers transform page payloads of file backends opened by a
	// Registry, in encode order.
	Handlers []backend.Handler

	// Logger receives session and transaction logs.
	// Default: a no-op logger.
	Logger logging.Logger
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{
		Layout:         page.DefaultLayout(),
		Policy:         versioning.DefaultPolicy(),
		CacheCapacity:  1024,
		Secondary:      SecondaryMemory,
		PageCacheBytes: 64 << 20,
		MaxReaders:     64,
		SyncOnCommit:   true,
	}
}

// Validate validates the options and fills in defaults for unset values.
func (o *Options) Validate() error {
	if o.Layout != (page.Layout{}) {
		if err := o.Layout.Validate(); err != nil {
			return err
		}
	}
	if err := o.Policy.Validate(); err != nil {
		return err
	}

	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 1024
	}

	switch o.Secondary {
	case "":
		o.Secondary = SecondaryMemory
	case SecondaryNone, SecondaryMemory:
	case SecondarySQLite:
		if o.SecondaryPath == "" {
			return fmt.Errorf("%w: sqlite cache tier needs a path", ErrInvalidOptions)
		}
	default:
		return fmt.Errorf("%w: unknown cache tier %q", ErrInvalidOptions, o.Secondary)
	}

	if o.PageCacheBytes < 0 {
		o.PageCacheBytes = 0
	}

	if o.MaxReaders <= 0 {
		o.MaxReaders = 64
	}

	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}

	return nil
}

// WithLayout sets the page layout.
func (o Options) WithLayout(layout page.Layout) Options {
	o.Layout = layout
	return o
}

// WithPolicy sets the versioning policy.
func (o Options) WithPolicy(policy versioning.Policy) Options {
	o.Policy = policy
	return o
}

// WithCacheCapacity sets the first-tier cache capacity.
func (o Options) WithCacheCapacity(capacity int) Options {
	o.CacheCapacity = capacity
	return o
}

// WithSecondary sets the second cache tier and its path.
func (o Options) WithSecondary(kind, path string) Options {
	o.Secondary = kind
	o.SecondaryPath = path
	return o
}

// WithPageCacheBytes sets the decoded-page cache budget.
func (o Options) WithPageCacheBytes(n int64) Options {
	o.PageCacheBytes = n
	return o
}

// WithMaxReaders sets the reader permit count.
func (o Options) WithMaxReaders(n int64) Options {
	o.MaxReaders = n
	return o
}

// WithSyncOnCommit enables or disables fsync before root replacement.
func (o Options) WithSyncOnCommit(sync bool) Options {
	o.SyncOnCommit = sync
	return o
}

// WithHandlers sets the byte handlers of registry-opened stores.
func (o Options) WithHandlers(handlers ...backend.Handler) Options {
	o.Handlers = handlers
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(logger logging.Logger) Options {
	o.Logger = logger
	return o
}

// OptionsFromConfig derives session options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	kind, err := versioning.ParseKind(strings.ToLower(cfg.Versioning.Kind))
	if err != nil {
		return Options{}, err
	}
	pageCache, err := cfg.Cache.PageCacheSize()
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	opts := DefaultOptions().
		WithLayout(page.Layout{
			Depth:      cfg.Trie.Depth,
			FanoutBits: cfg.Trie.FanoutBits,
			RecordBits: cfg.Trie.RecordBits,
		}).
		WithPolicy(versioning.Policy{Kind: kind, Milestone: int(cfg.Versioning.Milestone)}).
		WithCacheCapacity(cfg.Cache.Capacity).
		WithPageCacheBytes(pageCache).
		WithMaxReaders(cfg.Session.MaxReaders).
		WithSyncOnCommit(cfg.Store.SyncOnCommit)

	secondary := strings.ToLower(cfg.Cache.Secondary)
	secondaryPath := cfg.Cache.SecondaryPath
	if secondary == SecondarySQLite && secondaryPath == "" && cfg.Store.Backend == "file" {
		secondaryPath = filepath.Join(cfg.Store.Path, "cache.db")
	}
	opts = opts.WithSecondary(secondary, secondaryPath)

	var handlers []backend.Handler
	if strings.ToLower(cfg.Store.Compression) == "xz" {
		handlers = append(handlers, backend.NewXZ())
	}
	if cfg.Store.EncryptionKeyFile != "" {
		key, err := backend.LoadKeyFile(cfg.Store.EncryptionKeyFile)
		if err != nil {
			return Options{}, err
		}
		enc, err := backend.NewEncryption(key)
		if err != nil {
			return Options{}, err
		}
		handlers = append(handlers, enc)
	}
	opts.Handlers = handlers

	return opts, nil
}

// OpenStorage opens the durable store a configuration names, wrapped in the
// configured byte handlers.
func OpenStorage(cfg *config.Config, opts Options) (backend.Storage, error) {
	var s backend.Storage
	switch cfg.Store.Backend {
	case "memory":
		s = backend.NewMemory()
	case "file", "":
		f, err := backend.OpenFile(cfg.Store.Path, backend.FileOptions{
			SyncOnCommit: opts.SyncOnCommit,
			CreateIfNew:  true,
		})
		if err != nil {
			return nil, err
		}
		s = f
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidOptions, cfg.Store.Backend)
	}
	if len(opts.Handlers) > 0 {
		s = backend.WithHandlers(s, opts.Handlers...)
	}
	return s, nil
}
