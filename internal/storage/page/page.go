// Package page defines the page model of the revisioned store.
package page

import "errors"

// NullKey marks a reference that has not been written to durable storage.
const NullKey int64 = -1

// Kind identifies the type of a page.
type Kind uint8

const (
	// KindIndirect is an internal node of an indirection trie.
	KindIndirect Kind = iota + 1
	// KindNode is a data page holding node records.
	KindNode
	// KindName is a data page holding interned names.
	KindName
	// KindRevisionRoot is the root of one committed revision.
	KindRevisionRoot
	// KindUber is the store-wide root.
	KindUber
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindIndirect:
		return "Indirect"
	case KindNode:
		return "Node"
	case KindName:
		return "Name"
	case KindRevisionRoot:
		return "RevisionRoot"
	case KindUber:
		return "Uber"
	default:
		return "Unknown"
	}
}

// IsData reports whether pages of this kind hold records.
func (k Kind) IsData() bool {
	return k == KindNode || k == KindName
}

// Page is implemented by every page type.
type Page interface {
	Kind() Kind
}

// Errors for page operations.
var (
	ErrInvalidKind      = errors.New("invalid page kind")
	ErrOffsetOutOfRange = errors.New("record offset out of range")
	ErrUnpersisted      = errors.New("reference points to an unpersisted page")
	ErrChecksumMismatch = errors.New("page checksum mismatch")
	ErrCorruptPage      = errors.New("page payload is corrupted")
	ErrInvalidLayout    = errors.New("invalid page layout")
)

// Layout fixes the shape of a store for its whole lifetime.
type Layout struct {
	// Depth is the number of indirection trie levels.
	Depth uint8
	// FanoutBits is log2 of the trie fan-out.
	FanoutBits uint8
	// RecordBits is log2 of the number of records per data page.
	RecordBits uint8
}

// DefaultLayout returns the default layout: 5 levels, 256-way, 256 records per page.
func DefaultLayout() Layout {
	return Layout{Depth: 5, FanoutBits: 8, RecordBits: 8}
}

// Validate checks that the layout addresses at most 63 bits of key space.
func (l Layout) Validate() error {
	if l.Depth == 0 || l.FanoutBits == 0 || l.RecordBits == 0 {
		return ErrInvalidLayout
	}
	if l.FanoutBits > 16 || l.RecordBits > 16 {
		return ErrInvalidLayout
	}
	if int(l.Depth)*int(l.FanoutBits)+int(l.RecordBits) > 63 {
		return ErrInvalidLayout
	}
	return nil
}

// Fanout returns the number of slots of an indirect page.
func (l Layout) Fanout() int {
	return 1 << l.FanoutBits
}

// RecordsPerPage returns the number of record slots of a data page.
func (l Layout) RecordsPerPage() int {
	return 1 << l.RecordBits
}

// MaxRecordKey returns the largest logical key the layout can address.
func (l Layout) MaxRecordKey() int64 {
	return int64(1)<<(uint(l.Depth)*uint(l.FanoutBits)+uint(l.RecordBits)) - 1
}

// Split divides a logical key into its page key and in-page offset.
func (l Layout) Split(key int64) (pageKey uint64, offset int) {
	pageKey = uint64(key) >> l.RecordBits
	offset = int(uint64(key) - pageKey<<l.RecordBits)
	return pageKey, offset
}
