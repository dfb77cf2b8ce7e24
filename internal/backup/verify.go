package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
)

// Verify reads and decodes every page reachable from the published root of
// s. A store with no committed revision verifies trivially.
func Verify(ctx context.Context, s backend.Storage, opts Options) (*Stats, error) {
	if s == nil {
		return nil, ErrNilStorage
	}
	start := time.Now()
	logger := opts.logger()

	p, err := pager.New(s, opts.CacheBytes, logger)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	r, err := p.Reader()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer r.Close()

	uber, found, err := r.LoadUber()
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}
	if !found {
		return &Stats{Duration: time.Since(start)}, nil
	}

	wk := newWalker(ctx, r, logger)
	if _, err := wk.visit(uber.Revisions.Key()); err != nil {
		return nil, err
	}
	if err := checkRevisionCount(uber, wk.stats.Revisions); err != nil {
		return nil, err
	}

	stats := wk.stats
	stats.Pages++
	if size, ok := backend.Size(s); ok {
		stats.Bytes = size
	}
	stats.Duration = time.Since(start)
	logger.Debug("store verified", "revisions", stats.Revisions, "pages", stats.Pages)
	return &stats, nil
}
