package cache

import (
	"container/list"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// lru is the first tier: a map with recency order. It is not safe for
// concurrent use; TwoTier serializes access.
type lru struct {
	list    *list.List
	entries map[Key]*list.Element
}

type lruEntry struct {
	key       Key
	container *page.Container
}

func newLRU() *lru {
	return &lru{
		list:    list.New(),
		entries: make(map[Key]*list.Element),
	}
}

// get returns the entry for key and marks it most recently used.
func (c *lru) get(key Key) (*page.Container, bool) {
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.list.MoveToFront(elem)
	return elem.Value.(*lruEntry).container, true
}

// put inserts or replaces the entry for key and marks it most recently used.
func (c *lru) put(key Key, container *page.Container) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry).container = container
		c.list.MoveToFront(elem)
		return
	}
	c.entries[key] = c.list.PushFront(&lruEntry{key: key, container: container})
}

// popOldest removes and returns the least recently used entry.
func (c *lru) popOldest() (*lruEntry, bool) {
	elem := c.list.Back()
	if elem == nil {
		return nil, false
	}
	c.list.Remove(elem)
	entry := elem.Value.(*lruEntry)
	delete(c.entries, entry.key)
	return entry, true
}

func (c *lru) contains(key Key) bool {
	_, ok := c.entries[key]
	return ok
}

func (c *lru) len() int {
	return c.list.Len()
}

func (c *lru) clear() {
	c.list.Init()
	c.entries = make(map[Key]*list.Element)
}

// keys returns the keys from most to least recently used.
func (c *lru) keys() []Key {
	result := make([]Key, 0, c.list.Len())
	for elem := c.list.Front(); elem != nil; elem = elem.Next() {
		result = append(result, elem.Value.(*lruEntry).key)
	}
	return result
}
