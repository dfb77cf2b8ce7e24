package page

import "bytes"

// Record is one logical record. Records are immutable once stored in a page.
type Record struct {
	Value []byte
	// Deleted marks a tombstone. Slots are never removed from a page; a
	// deletion is stored as a record.
	Deleted bool
}

// NewRecord creates a record holding a copy of value.
func NewRecord(value []byte) *Record {
	v := make([]byte, len(value))
	copy(v, value)
	return &Record{Value: v}
}

// Tombstone creates a deletion marker.
func Tombstone() *Record {
	return &Record{Deleted: true}
}

// Equal reports whether two records hold the same content.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Deleted == o.Deleted && bytes.Equal(r.Value, o.Value)
}

// DataPage is the leaf unit holding up to 2^RecordBits records. A fragment
// written by one revision may be sparse; a milestone fragment is
// authoritative for every slot.
type DataPage struct {
	kind     Kind
	pageKey  uint64
	revision uint64
	previous int64
	records  []*Record
}

// NewDataPage creates an empty milestone page.
func NewDataPage(kind Kind, pageKey uint64, recordBits uint8, revision uint64) *DataPage {
	return &DataPage{
		kind:     kind,
		pageKey:  pageKey,
		revision: revision,
		previous: -1,
		records:  make([]*Record, 1<<recordBits),
	}
}

// NewDeltaPage creates an empty fragment chained to the fragment written in previous.
func NewDeltaPage(kind Kind, pageKey uint64, recordBits uint8, revision, previous uint64) *DataPage {
	p := NewDataPage(kind, pageKey, recordBits, revision)
	p.previous = int64(previous)
	return p
}

// Kind implements Page.
func (p *DataPage) Kind() Kind {
	return p.kind
}

// PageKey returns the logical page key.
func (p *DataPage) PageKey() uint64 {
	return p.pageKey
}

// Revision returns the revision that wrote this fragment.
func (p *DataPage) Revision() uint64 {
	return p.revision
}

// Previous returns the revision of the previous fragment, or -1 for a milestone.
func (p *DataPage) Previous() int64 {
	return p.previous
}

// IsMilestone reports whether the page is a full page ending a fragment chain.
func (p *DataPage) IsMilestone() bool {
	return p.previous < 0
}

// Slots returns the number of record slots.
func (p *DataPage) Slots() int {
	return len(p.records)
}

// Get returns the record at offset, or nil if the slot is unset.
func (p *DataPage) Get(offset int) *Record {
	if offset < 0 || offset >= len(p.records) {
		return nil
	}
	return p.records[offset]
}

// Set stores a record at offset.
func (p *DataPage) Set(offset int, r *Record) error {
	if offset < 0 || offset >= len(p.records) {
		return ErrOffsetOutOfRange
	}
	p.records[offset] = r
	return nil
}

// Populated returns the number of set slots.
func (p *DataPage) Populated() int {
	n := 0
	for _, r := range p.records {
		if r != nil {
			n++
		}
	}
	return n
}

// Each calls fn for every set slot in ascending offset order.
func (p *DataPage) Each(fn func(offset int, r *Record)) {
	for i, r := range p.records {
		if r != nil {
			fn(i, r)
		}
	}
}

// Clone returns a copy of the page that shares record values.
func (p *DataPage) Clone() *DataPage {
	c := &DataPage{
		kind:     p.kind,
		pageKey:  p.pageKey,
		revision: p.revision,
		previous: p.previous,
		records:  make([]*Record, len(p.records)),
	}
	copy(c.records, p.records)
	return c
}

// Rebase returns a copy of the page attributed to another revision and chain predecessor.
func (p *DataPage) Rebase(revision uint64, previous int64) *DataPage {
	c := p.Clone()
	c.revision = revision
	c.previous = previous
	return c
}

// Container pairs the complete page used for reads with the sparse
// fragment collecting the current transaction's writes. Modified is nil for
// containers holding committed, read-only state.
type Container struct {
	Complete *DataPage
	Modified *DataPage
}

// NewContainer creates a container.
func NewContainer(complete, modified *DataPage) *Container {
	return &Container{Complete: complete, Modified: modified}
}

// Set writes a record to both views of the container.
func (c *Container) Set(offset int, r *Record) error {
	if err := c.Modified.Set(offset, r); err != nil {
		return err
	}
	return c.Complete.Set(offset, r)
}
