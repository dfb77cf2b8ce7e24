package page

import "sync/atomic"

// Reference is a slot that holds a durable key, an in-memory page, or both.
// The page is resolved lazily and, once loaded, stays cached on the reference.
//
// The key is written only by the writer that owns an uncommitted reference,
// before the reference becomes reachable from a published root. The cached
// page may be set concurrently by readers sharing a committed reference.
type Reference struct {
	key  int64
	page atomic.Pointer[pageSlot]
}

type pageSlot struct {
	p Page
}

// NewReference creates a reference to the page stored under key.
func NewReference(key int64) *Reference {
	return &Reference{key: key}
}

// NewPageReference creates a reference to an in-memory page that has not been persisted.
func NewPageReference(p Page) *Reference {
	r := &Reference{key: NullKey}
	r.SetPage(p)
	return r
}

// Key returns the durable key, or NullKey.
func (r *Reference) Key() int64 {
	return r.key
}

// SetKey records the durable key after the page has been written.
func (r *Reference) SetKey(key int64) {
	r.key = key
}

// Page returns the cached page, or nil if it has not been loaded.
func (r *Reference) Page() Page {
	s := r.page.Load()
	if s == nil {
		return nil
	}
	return s.p
}

// SetPage caches a page on the reference.
func (r *Reference) SetPage(p Page) {
	if p == nil {
		r.page.Store(nil)
		return
	}
	r.page.Store(&pageSlot{p: p})
}

// IsPersisted reports whether the reference has a durable key.
func (r *Reference) IsPersisted() bool {
	return r.key != NullKey
}

// IsEmpty reports whether the reference points nowhere.
func (r *Reference) IsEmpty() bool {
	return r.key == NullKey && r.Page() == nil
}

// Clone returns a new reference with the same key and page.
func (r *Reference) Clone() *Reference {
	c := &Reference{key: r.key}
	if p := r.Page(); p != nil {
		c.SetPage(p)
	}
	return c
}
