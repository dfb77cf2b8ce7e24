package txn

import (
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/cespare/xxhash/v2"
)

// maxNameProbes bounds linear probing in the name table.
const maxNameProbes = 1024

// nameSlot returns the home slot of a name in the name key space.
func (s *ReadState) nameSlot(name string) int64 {
	return int64(xxhash.Sum64String(name) & uint64(s.env.Layout.MaxRecordKey()))
}

func (s *ReadState) nextSlot(key int64) int64 {
	return (key + 1) & s.env.Layout.MaxRecordKey()
}

// Name returns the interned name stored under key.
func (s *ReadState) Name(key int64) (string, bool, error) {
	if s.closed {
		return "", false, ErrTransactionClosed
	}
	if s.isTransient(key) {
		return "", false, ErrInvalidKey
	}
	r, ok, err := s.record(page.KindName, key)
	if err != nil || !ok {
		return "", false, err
	}
	return string(r.Value), true, nil
}

// NameKey returns the key under which name is interned.
func (s *ReadState) NameKey(name string) (int64, bool, error) {
	if s.closed {
		return 0, false, ErrTransactionClosed
	}
	key, found, _, err := s.probe(name)
	return key, found, err
}

// probe walks the probe sequence of name. It returns the key holding name,
// or the first free key when the name is absent.
func (s *ReadState) probe(name string) (key int64, found, free bool, err error) {
	key = s.nameSlot(name)
	for i := 0; i < maxNameProbes; i++ {
		r, ok, err := s.record(page.KindName, key)
		if err != nil {
			return 0, false, false, err
		}
		if !ok {
			return key, false, true, nil
		}
		if string(r.Value) == name {
			return key, true, false, nil
		}
		key = s.nextSlot(key)
	}
	return 0, false, false, nil
}

// CreateName interns name and returns its key. Interning an existing name
// returns the existing key.
func (w *WriteState) CreateName(name string) (int64, error) {
	if w.closed {
		return 0, ErrTransactionClosed
	}
	key, found, free, err := w.probe(name)
	if err != nil {
		return 0, err
	}
	if found {
		return key, nil
	}
	if !free {
		return 0, ErrNameSpaceFull
	}
	if err := w.set(page.KindName, key, page.NewRecord([]byte(name))); err != nil {
		return 0, err
	}
	return key, nil
}
