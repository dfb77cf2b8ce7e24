package page

// RevisionRoot is the immutable root of one committed revision. It points at
// the node trie and the name trie of that revision.
type RevisionRoot struct {
	Revision    uint64
	MaxNodeKey  int64
	CommittedAt int64 // unix nanoseconds
	NodeRoot    *Reference
	NameRoot    *Reference
}

// NewRevisionRoot creates the root of an empty revision.
func NewRevisionRoot(revision uint64) *RevisionRoot {
	return &RevisionRoot{
		Revision:   revision,
		MaxNodeKey: -1,
		NodeRoot:   NewReference(NullKey),
		NameRoot:   NewReference(NullKey),
	}
}

// Kind implements Page.
func (r *RevisionRoot) Kind() Kind {
	return KindRevisionRoot
}

// Root returns the trie root for records of the given kind.
func (r *RevisionRoot) Root(kind Kind) *Reference {
	if kind == KindName {
		return r.NameRoot
	}
	return r.NodeRoot
}

// Successor returns the in-progress root of the next revision. Trie roots
// are shared through cloned references until the writer copies them.
func (r *RevisionRoot) Successor() *RevisionRoot {
	return &RevisionRoot{
		Revision:   r.Revision + 1,
		MaxNodeKey: r.MaxNodeKey,
		NodeRoot:   r.NodeRoot.Clone(),
		NameRoot:   r.NameRoot.Clone(),
	}
}

// UberPage is the store-wide root. Exactly one UberPage is the last
// committed one; a commit replaces it with a new one.
type UberPage struct {
	RevisionCount uint64
	Layout        Layout
	Versioning    Versioning
	// Revisions is the root of a trie keyed by revision number whose leaves
	// are RevisionRoot pages.
	Revisions *Reference
}

// NewUberPage creates the root of a store that has no committed revision yet.
func NewUberPage(layout Layout) *UberPage {
	return &UberPage{
		Layout:    layout,
		Revisions: NewReference(NullKey),
	}
}

// Kind implements Page.
func (u *UberPage) Kind() Kind {
	return KindUber
}

// LastRevision returns the number of the last committed revision.
// It is only meaningful when RevisionCount > 0.
func (u *UberPage) LastRevision() uint64 {
	return u.RevisionCount - 1
}

// Successor returns the in-progress UberPage for the next commit.
func (u *UberPage) Successor() *UberPage {
	return &UberPage{
		RevisionCount: u.RevisionCount + 1,
		Layout:        u.Layout,
		Versioning:    u.Versioning,
		Revisions:     u.Revisions.Clone(),
	}
}

// Versioning records the versioning policy a store was created with. Fragment
// chains on disk are only valid under the policy that wrote them.
type Versioning struct {
	Kind      uint8
	Milestone uint32
}
