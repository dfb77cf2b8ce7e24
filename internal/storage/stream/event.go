// Package stream delivers commit notifications of a session to subscribers.
// A subscription filters by record kind and key range, and can be resumed
// from the last revision it saw.
package stream

import (
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// CommitEvent describes one published revision.
type CommitEvent struct {
	// Revision is the published revision. It doubles as the resume token.
	Revision uint64
	// CommittedAt is the commit time recorded in the revision root.
	CommittedAt time.Time
	// Changes lists the data pages the revision wrote, by kind and page key.
	Changes []Change
	// Reverted marks a revision that restored an earlier one. Its content
	// may differ from its predecessor outside Changes.
	Reverted bool
}

// Change is one data page written by a revision together with the record
// keys it holds.
type Change struct {
	Kind     page.Kind
	PageKey  uint64
	FirstKey int64
	LastKey  int64
}

// Clone creates a copy of the event. Subscribers share the Changes slice of
// a delivered event; clone it before modifying.
func (e *CommitEvent) Clone() *CommitEvent {
	clone := *e
	if e.Changes != nil {
		clone.Changes = make([]Change, len(e.Changes))
		copy(clone.Changes, e.Changes)
	}
	return &clone
}
