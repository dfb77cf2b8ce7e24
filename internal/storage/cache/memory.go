package cache

import (
	"sync"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// MemoryTier is an unbounded second tier holding encoded containers in memory.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[Key][]byte
	closed  bool
}

// NewMemoryTier creates an empty memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[Key][]byte)}
}

// Get implements Tier.
func (t *MemoryTier) Get(key Key) (*page.Container, bool, error) {
	t.mu.RLock()
	data, ok := t.entries[key]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, false, ErrTierClosed
	}
	if !ok {
		return nil, false, nil
	}
	c, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Put implements Tier.
func (t *MemoryTier) Put(key Key, c *page.Container) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTierClosed
	}
	t.entries[key] = data
	return nil
}

// Contains implements Tier.
func (t *MemoryTier) Contains(key Key) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false, ErrTierClosed
	}
	_, ok := t.entries[key]
	return ok, nil
}

// Clear implements Tier.
func (t *MemoryTier) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[Key][]byte)
	return nil
}

// Len implements Tier.
func (t *MemoryTier) Len() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries), nil
}

// Close implements Tier.
func (t *MemoryTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
	return nil
}
