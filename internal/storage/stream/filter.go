package stream

import "github.com/KilimcininKorOglu/revtree/internal/storage/page"

// KeyRange is an inclusive range of record keys.
type KeyRange struct {
	First int64
	Last  int64
}

// WatchFilter defines criteria for filtering commit events.
type WatchFilter struct {
	// Kinds filters by data page kind. Empty matches every kind.
	Kinds []page.Kind
	// Keys restricts matches to changes overlapping the range. Nil matches
	// every key, including commits that changed nothing.
	Keys *KeyRange
}

// Matches returns true if the event matches the filter criteria.
func (f *WatchFilter) Matches(event *CommitEvent) bool {
	if event == nil {
		return false
	}
	if event.Reverted {
		return true
	}
	if len(f.Kinds) == 0 && f.Keys == nil {
		return true
	}

	for _, c := range event.Changes {
		if f.matchesKind(c.Kind) && f.matchesKeys(c) {
			return true
		}
	}
	return false
}

func (f *WatchFilter) matchesKind(kind page.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *WatchFilter) matchesKeys(c Change) bool {
	if f.Keys == nil {
		return true
	}
	return c.FirstKey <= f.Keys.Last && f.Keys.First <= c.LastKey
}

// MatchAll returns a filter that matches all events.
func MatchAll() WatchFilter {
	return WatchFilter{}
}

// MatchKeys returns a filter that matches commits writing node records in
// [first, last].
func MatchKeys(first, last int64) WatchFilter {
	return WatchFilter{
		Kinds: []page.Kind{page.KindNode},
		Keys:  &KeyRange{First: first, Last: last},
	}
}

// MatchNames returns a filter that matches commits interning names.
func MatchNames() WatchFilter {
	return WatchFilter{Kinds: []page.Kind{page.KindName}}
}
