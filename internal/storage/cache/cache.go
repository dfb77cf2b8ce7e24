package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// Errors returned by cache tiers.
var (
	ErrTierClosed      = errors.New("cache tier is closed")
	ErrNotCacheable    = errors.New("container has no complete page")
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
)

// Key identifies a reconstructed page: one logical page of one kind as of
// one revision. Node and name pages share the cache but not the key space.
type Key struct {
	Kind     page.Kind
	PageKey  uint64
	Revision uint64
}

// String returns a compact representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d@%d", k.Kind, k.PageKey, k.Revision)
}

// Tier is a second-level cache. Implementations must store entries
// atomically: a Get never observes a partially written entry.
type Tier interface {
	Get(key Key) (*page.Container, bool, error)
	Put(key Key, c *page.Container) error
	Contains(key Key) (bool, error)
	Clear() error
	Len() (int, error)
	Close() error
}

// Stats reports cache counters.
type Stats struct {
	Entries       int
	Capacity      int
	Hits          uint64
	SecondaryHits uint64
	Misses        uint64
	Evictions     uint64
}

// TwoTier is a bounded LRU in front of an optional second tier. Entries
// evicted from the first tier move to the second; second-tier hits are
// served from there without promotion.
type TwoTier struct {
	mu       sync.Mutex
	capacity int
	first    *lru
	second   Tier
	logger   logging.Logger

	hits          atomic.Uint64
	secondaryHits atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
}

// New creates a two-tier cache holding up to capacity containers in memory.
// second may be nil, in which case evicted entries are dropped.
func New(capacity int, second Tier, logger logging.Logger) (*TwoTier, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TwoTier{
		capacity: capacity,
		first:    newLRU(),
		second:   second,
		logger:   logger,
	}, nil
}

// Get returns the container cached under key.
func (c *TwoTier) Get(key Key) (*page.Container, bool) {
	c.mu.Lock()
	container, ok := c.first.get(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		return container, true
	}

	if c.second != nil {
		container, ok, err := c.second.Get(key)
		if err != nil {
			c.logger.Warn("secondary cache read failed", "key", key.String(), "error", err)
		} else if ok {
			c.secondaryHits.Add(1)
			return container, true
		}
	}
	c.misses.Add(1)
	return nil, false
}

// Put caches container under key. If the first tier overflows, its least
// recently used entry is popped and then pushed to the second tier.
func (c *TwoTier) Put(key Key, container *page.Container) {
	if container == nil || container.Complete == nil {
		return
	}

	c.mu.Lock()
	c.first.put(key, container)
	var evicted *lruEntry
	if c.first.len() > c.capacity {
		evicted, _ = c.first.popOldest()
	}
	c.mu.Unlock()

	if c.second != nil {
		if exists, err := c.second.Contains(key); err != nil {
			c.logger.Warn("secondary cache lookup failed", "key", key.String(), "error", err)
		} else if exists {
			if err := c.second.Put(key, container); err != nil {
				c.logger.Warn("secondary cache update failed", "key", key.String(), "error", err)
			}
		}
	}

	if evicted != nil {
		c.evictions.Add(1)
		c.logger.Debug("cache eviction", "key", evicted.key.String())
		if c.second != nil {
			if err := c.second.Put(evicted.key, evicted.container); err != nil {
				c.logger.Warn("secondary cache write failed", "key", evicted.key.String(), "error", err)
			}
		}
	}
}

// Contains reports whether key is held by the first tier.
func (c *TwoTier) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first.contains(key)
}

// Keys returns the first-tier keys from most to least recently used.
func (c *TwoTier) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first.keys()
}

// Clear empties both tiers.
func (c *TwoTier) Clear() error {
	c.mu.Lock()
	c.first.clear()
	c.mu.Unlock()
	if c.second != nil {
		return c.second.Clear()
	}
	return nil
}

// Close clears the cache and closes the second tier.
func (c *TwoTier) Close() error {
	if err := c.Clear(); err != nil {
		c.logger.Warn("secondary cache clear failed", "error", err)
	}
	if c.second != nil {
		return c.second.Close()
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *TwoTier) Stats() Stats {
	c.mu.Lock()
	entries := c.first.len()
	c.mu.Unlock()
	return Stats{
		Entries:       entries,
		Capacity:      c.capacity,
		Hits:          c.hits.Load(),
		SecondaryHits: c.secondaryHits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
	}
}

// encode serializes the complete page of a container. Cached containers are
// committed state, so the modified fragment is never stored.
func encode(c *page.Container) ([]byte, error) {
	if c == nil || c.Complete == nil {
		return nil, ErrNotCacheable
	}
	return page.Marshal(c.Complete)
}

func decode(data []byte) (*page.Container, error) {
	pg, err := page.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	dp, ok := pg.(*page.DataPage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", page.ErrInvalidKind, pg.Kind())
	}
	return page.NewContainer(dp, nil), nil
}
