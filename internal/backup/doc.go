// Package backup copies and verifies revtree stores.
//
// Copy reads the published uber page of a source store and writes every
// page reachable from it into an empty destination, then publishes a
// matching uber page there. Pages shared between revisions are copied once,
// so structural sharing survives the copy. Pages written by commits that
// never published are not reachable and are left behind, which makes a copy
// the way to compact a file store.
//
//	stats, err := backup.Copy(ctx, src, dst, backup.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("copied %d revisions in %v\n", stats.Revisions, stats.Duration)
//
// Verify walks the same graph without writing and fails on the first page
// that cannot be read or decoded. Every page carries a checksum, so a clean
// walk means every committed revision is readable.
//
// Both operations read the source through its published root, which is
// never modified in place, so they may run while a writer commits to the
// source. Revisions committed after the root was read are not included.
package backup
