package pager

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/dgraph-io/ristretto/v2"
)

// Errors returned by the pager.
var (
	ErrNilReference = errors.New("nil page reference")
	ErrEmptyRoot    = errors.New("root slot holds no uber page")
)

// Stats reports decoded-page cache counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Added  uint64
}

// Pager decodes pages read from a backend and keeps decoded committed pages in
// a cost-bounded cache keyed by durable key. Committed pages are immutable, so
// one decoded instance is shared by every transaction.
type Pager struct {
	storage backend.Storage
	cache   *ristretto.Cache[int64, page.Page]
	logger  logging.Logger
}

// New creates a pager over storage. cacheBytes bounds the decoded-page cache;
// zero disables it.
func New(storage backend.Storage, cacheBytes int64, logger logging.Logger) (*Pager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pager{storage: storage, logger: logger}
	if cacheBytes > 0 {
		c, err := ristretto.NewCache(&ristretto.Config[int64, page.Page]{
			NumCounters: 1 << 16,
			MaxCost:     cacheBytes,
			BufferItems: 64,
			Metrics:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create page cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

// Storage returns the underlying storage.
func (p *Pager) Storage() backend.Storage {
	return p.storage
}

// Reader opens a read handle.
func (p *Pager) Reader() (*Reader, error) {
	r, err := p.storage.OpenReader()
	if err != nil {
		return nil, err
	}
	return &Reader{p: p, r: r}, nil
}

// Writer opens a write handle.
func (p *Pager) Writer() (*Writer, error) {
	w, err := p.storage.OpenWriter()
	if err != nil {
		return nil, err
	}
	return &Writer{Reader: Reader{p: p, r: w}, w: w}, nil
}

// Stats returns decoded-page cache counters.
func (p *Pager) Stats() Stats {
	if p.cache == nil || p.cache.Metrics == nil {
		return Stats{}
	}
	m := p.cache.Metrics
	return Stats{
		Hits:   m.Hits(),
		Misses: m.Misses(),
		Added:  m.KeysAdded(),
	}
}

// Close releases the page cache. The storage is not closed.
func (p *Pager) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

func (p *Pager) cached(key int64) (page.Page, bool) {
	if p.cache == nil {
		return nil, false
	}
	return p.cache.Get(key)
}

func (p *Pager) remember(key int64, pg page.Page, cost int) {
	if p.cache == nil {
		return
	}
	p.cache.Set(key, pg, int64(cost))
}

// Reader resolves page references through the decoded-page cache and the backend.
type Reader struct {
	p *Pager
	r backend.Reader
}

// Load returns the page behind ref. A page already attached to the reference
// is returned directly; otherwise it is read by durable key and attached.
func (r *Reader) Load(ref *page.Reference) (page.Page, error) {
	if ref == nil {
		return nil, ErrNilReference
	}
	if pg := ref.Page(); pg != nil {
		return pg, nil
	}
	if !ref.IsPersisted() {
		return nil, nil
	}

	key := ref.Key()
	if pg, ok := r.p.cached(key); ok {
		ref.SetPage(pg)
		return pg, nil
	}

	data, err := r.r.ReadPage(key)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", key, err)
	}
	pg, err := page.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", key, err)
	}
	if r.p.logger.Enabled(logging.LevelDebug) {
		r.p.logger.Debug("page loaded", "key", key, "kind", pg.Kind().String(), "bytes", len(data))
	}
	r.p.remember(key, pg, len(data))
	ref.SetPage(pg)
	return pg, nil
}

// LoadUber reads the published UberPage. found is false on a store that has
// never been committed to.
func (r *Reader) LoadUber() (uber *page.UberPage, found bool, err error) {
	data, err := r.r.ReadRoot()
	if err != nil {
		return nil, false, fmt.Errorf("read root: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	pg, err := page.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode root: %w", err)
	}
	u, ok := pg.(*page.UberPage)
	if !ok {
		return nil, false, fmt.Errorf("%w: root holds %s page", ErrEmptyRoot, pg.Kind())
	}
	return u, true, nil
}

// Close releases the backend handle.
func (r *Reader) Close() error {
	return r.r.Close()
}

// Writer extends Reader with page persistence and root publication.
type Writer struct {
	Reader
	w backend.Writer
}

// Persist writes pg and returns its durable key. Every reference reachable
// from pg must already be persisted.
func (w *Writer) Persist(pg page.Page) (int64, error) {
	data, err := page.Marshal(pg)
	if err != nil {
		return page.NullKey, fmt.Errorf("encode %s page: %w", pg.Kind(), err)
	}
	key, err := w.w.WritePage(data)
	if err != nil {
		return page.NullKey, fmt.Errorf("write %s page: %w", pg.Kind(), err)
	}
	w.p.remember(key, pg, len(data))
	return key, nil
}

// Publish atomically replaces the published UberPage. This is the only point
// at which a commit becomes visible.
func (w *Writer) Publish(uber *page.UberPage) error {
	data, err := page.Marshal(uber)
	if err != nil {
		return fmt.Errorf("encode uber page: %w", err)
	}
	if err := w.w.WriteRoot(data); err != nil {
		return fmt.Errorf("write root: %w", err)
	}
	return nil
}
