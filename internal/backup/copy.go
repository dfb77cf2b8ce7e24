package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
)

// Copy writes every committed revision of src into dst. dst must not hold a
// published root. The destination root is published last, so a failed copy
// leaves dst without a visible revision.
func Copy(ctx context.Context, src, dst backend.Storage, opts Options) (*Stats, error) {
	if src == nil || dst == nil {
		return nil, ErrNilStorage
	}
	start := time.Now()
	logger := opts.logger()

	srcPager, err := pager.New(src, opts.CacheBytes, logger)
	if err != nil {
		return nil, err
	}
	defer srcPager.Close()
	r, err := srcPager.Reader()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	dstPager, err := pager.New(dst, 0, logger)
	if err != nil {
		return nil, err
	}
	defer dstPager.Close()
	w, err := dstPager.Writer()
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	defer w.Close()

	if _, found, err := w.LoadUber(); err != nil {
		return nil, fmt.Errorf("read destination root: %w", err)
	} else if found {
		return nil, ErrDestinationNotEmpty
	}

	uber, found, err := r.LoadUber()
	if err != nil {
		return nil, fmt.Errorf("read source root: %w", err)
	}
	if !found {
		return nil, ErrEmptySource
	}
	logger.Info("backup started", "revisions", uber.RevisionCount)

	wk := newWalker(ctx, r, logger)
	wk.persist = w.Persist
	revisions, err := wk.visit(uber.Revisions.Key())
	if err != nil {
		return nil, err
	}
	if err := checkRevisionCount(uber, wk.stats.Revisions); err != nil {
		return nil, err
	}

	copied := &page.UberPage{
		RevisionCount: uber.RevisionCount,
		Layout:        uber.Layout,
		Versioning:    uber.Versioning,
		Revisions:     page.NewReference(revisions),
	}
	if err := w.Publish(copied); err != nil {
		return nil, fmt.Errorf("publish destination root: %w", err)
	}

	stats := wk.stats
	stats.Pages++
	if size, ok := backend.Size(dst); ok {
		stats.Bytes = size
	}
	stats.Duration = time.Since(start)
	logger.Info("backup completed",
		"revisions", stats.Revisions,
		"pages", stats.Pages,
		"duration", stats.Duration.String())
	return &stats, nil
}

// walker visits the page graph below an uber page depth first, children
// before parents. With persist set it rewrites each page into the
// destination and returns the new key; otherwise it returns the source key.
type walker struct {
	ctx     context.Context
	r       *pager.Reader
	logger  logging.Logger
	persist func(page.Page) (int64, error)
	seen    map[int64]int64
	stats   Stats
}

func newWalker(ctx context.Context, r *pager.Reader, logger logging.Logger) *walker {
	return &walker{
		ctx:    ctx,
		r:      r,
		logger: logger,
		seen:   make(map[int64]int64),
	}
}

func (wk *walker) visit(key int64) (int64, error) {
	if key == page.NullKey {
		return page.NullKey, nil
	}
	if out, ok := wk.seen[key]; ok {
		return out, nil
	}
	if err := wk.ctx.Err(); err != nil {
		return page.NullKey, err
	}

	pg, err := wk.r.Load(page.NewReference(key))
	if err != nil {
		return page.NullKey, err
	}

	var out page.Page
	switch v := pg.(type) {
	case *page.IndirectPage:
		cp := page.NewIndirectPage(v.Fanout())
		for i := 0; i < v.Fanout(); i++ {
			ref := v.Reference(i)
			if ref == nil || ref.IsEmpty() {
				continue
			}
			child, err := wk.visit(ref.Key())
			if err != nil {
				return page.NullKey, err
			}
			cp.SetReference(i, page.NewReference(child))
		}
		out = cp
	case *page.RevisionRoot:
		node, err := wk.visit(v.NodeRoot.Key())
		if err != nil {
			return page.NullKey, fmt.Errorf("revision %d: %w", v.Revision, err)
		}
		name, err := wk.visit(v.NameRoot.Key())
		if err != nil {
			return page.NullKey, fmt.Errorf("revision %d: %w", v.Revision, err)
		}
		out = &page.RevisionRoot{
			Revision:    v.Revision,
			MaxNodeKey:  v.MaxNodeKey,
			CommittedAt: v.CommittedAt,
			NodeRoot:    page.NewReference(node),
			NameRoot:    page.NewReference(name),
		}
		wk.stats.Revisions++
		wk.logger.Debug("revision visited", "revision", v.Revision)
	case *page.DataPage:
		out = v
		wk.stats.DataPages++
	default:
		return page.NullKey, fmt.Errorf("%w: %s page at key %d", ErrUnexpectedPage, pg.Kind(), key)
	}
	wk.stats.Pages++

	result := key
	if wk.persist != nil {
		if result, err = wk.persist(out); err != nil {
			return page.NullKey, err
		}
	}
	wk.seen[key] = result
	return result, nil
}

func checkRevisionCount(uber *page.UberPage, visited uint64) error {
	if visited != uber.RevisionCount {
		return fmt.Errorf("%w: found %d, uber page records %d",
			ErrRevisionCountMismatch, visited, uber.RevisionCount)
	}
	return nil
}

// IsCorrupt reports whether err means the source graph is damaged, as
// opposed to an I/O failure or cancellation.
func IsCorrupt(err error) bool {
	return errors.Is(err, page.ErrChecksumMismatch) ||
		errors.Is(err, page.ErrCorruptPage) ||
		errors.Is(err, page.ErrInvalidKind) ||
		errors.Is(err, backend.ErrPageNotFound) ||
		errors.Is(err, backend.ErrCorruptData) ||
		errors.Is(err, ErrUnexpectedPage) ||
		errors.Is(err, ErrRevisionCountMismatch)
}
