// Package versioning reconstructs complete data pages from per-revision
// fragments.
//
// Every revision that changes a data page writes one fragment for it. A
// fragment records the revision of its predecessor; a milestone fragment is
// complete and ends the chain. Reconstruction collects the chain most recent
// first and merges it so that the newest value of every slot wins.
//
// The milestone distance M bounds the work. Incremental fragments hold only
// the slots a revision changed and a milestone is written once a chain would
// exceed M fragments. Differential fragments hold every change since the last
// milestone, which is rewritten every M revisions. Full versioning writes a
// milestone every time.
package versioning
