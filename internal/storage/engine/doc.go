// Package engine opens revtree stores and hands out transaction states.
//
// # Sessions
//
// A Session owns one durable store. It keeps the last committed UberPage and
// grants two kinds of permits:
//
//   - up to Options.MaxReaders read states, each pinned to one committed
//     revision; BeginRead blocks until a permit is free or the context ends
//   - one write state; BeginWrite fails with ErrWriterActive while another
//     writer is open
//
// Opening a store that has never been committed to publishes an empty
// revision 0:
//
//	s, err := engine.Open(backend.NewMemory(), engine.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	w, err := s.BeginWrite()
//	if err != nil {
//	    return err
//	}
//	key, err := w.Insert([]byte("value"))
//	if err != nil {
//	    return err
//	}
//	if err := w.Commit(); err != nil {
//	    return err
//	}
//	w.Close()
//
//	r, err := s.BeginReadLatest(ctx)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	value, found, err := r.Value(key)
//
// # Watching commits
//
// Watch subscribes to the revisions committed through the session:
//
//	sub, err := s.Watch(stream.MatchKeys(0, 255))
//	for event := range sub.Events() {
//	    // event.Revision, event.Changes
//	}
//	if errors.Is(sub.Err(), stream.ErrLagged) {
//	    sub, err = s.WatchFrom(sub.Filter(), sub.Position())
//	}
//
// # Registry
//
// A Registry shares one Session per store directory among callers that open
// the same path. Each Open is paired with a Release; the session closes when
// the last reference is released.
package engine
