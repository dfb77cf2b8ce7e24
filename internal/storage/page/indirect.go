package page

// IndirectPage is an internal node of an indirection trie: a fixed-size
// array of references to child pages.
type IndirectPage struct {
	refs []*Reference
}

// NewIndirectPage creates an empty indirect page with the given fan-out.
func NewIndirectPage(fanout int) *IndirectPage {
	return &IndirectPage{refs: make([]*Reference, fanout)}
}

// Kind implements Page.
func (p *IndirectPage) Kind() Kind {
	return KindIndirect
}

// Fanout returns the number of slots.
func (p *IndirectPage) Fanout() int {
	return len(p.refs)
}

// Reference returns the reference at offset, or nil if the slot is unset.
func (p *IndirectPage) Reference(offset int) *Reference {
	return p.refs[offset]
}

// SetReference replaces the reference at offset.
func (p *IndirectPage) SetReference(offset int, ref *Reference) {
	p.refs[offset] = ref
}

// Populated returns the number of set slots.
func (p *IndirectPage) Populated() int {
	n := 0
	for _, r := range p.refs {
		if r != nil && !r.IsEmpty() {
			n++
		}
	}
	return n
}

// Copy returns a page with fresh references to the same children.
// Children are shared; references are not.
func (p *IndirectPage) Copy() *IndirectPage {
	c := NewIndirectPage(len(p.refs))
	for i, r := range p.refs {
		if r != nil {
			c.refs[i] = r.Clone()
		}
	}
	return c
}
