package stream

// history keeps the events of the most recent consecutive revisions. The
// event of revision r lives at index r % len(events).
type history struct {
	events []CommitEvent
	// Buffered revisions are [first, next).
	first uint64
	next  uint64
}

// newHistory creates a history that has seen every revision up to and
// including after without buffering it.
func newHistory(capacity int, after uint64) *history {
	if capacity <= 0 {
		capacity = ReplayBufferSize
	}
	return &history{
		events: make([]CommitEvent, capacity),
		first:  after + 1,
		next:   after + 1,
	}
}

func (h *history) push(e CommitEvent) {
	if e.Revision != h.next {
		// A gap; nothing older than e can be replayed.
		h.first = e.Revision
	}
	h.events[e.Revision%uint64(len(h.events))] = e
	h.next = e.Revision + 1
	if h.next-h.first > uint64(len(h.events)) {
		h.first = h.next - uint64(len(h.events))
	}
}

// since returns the buffered events of revisions after revision. ok is
// false when some of those revisions are no longer buffered.
func (h *history) since(revision uint64) (events []CommitEvent, ok bool) {
	if revision+1 < h.first {
		return nil, false
	}
	for r := revision + 1; r < h.next; r++ {
		events = append(events, h.events[r%uint64(len(h.events))])
	}
	return events, true
}

func (h *history) len() int {
	return int(h.next - h.first)
}
