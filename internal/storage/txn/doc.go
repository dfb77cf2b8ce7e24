// Package txn implements the read and write transaction states of the
// revisioned page store.
//
// # Read states
//
// A ReadState is pinned to one committed revision for its whole life. A
// record key is split into a page key and an in-page offset; the page is
// looked up in the session cache under (kind, page key, revision) and, on a
// miss, reconstructed from its fragment chain through the indirection trie of
// the pinned revision. Keys outside the page store's key space address a
// transaction-local transient overlay that is never persisted.
//
// # Write states
//
// A WriteState collects pending page containers. The first write to a page
// copies its trie path in the in-progress revision and prepares the fragment
// that revision will write. Commit persists fragments in (kind, page key)
// order, then the new trie pages bottom-up, the RevisionRoot, the revision
// trie, and finally publishes the UberPage. Publishing is the only step that
// makes a revision visible, so a failed commit leaves the store unchanged.
//
// # Errors
//
// Errors match ErrUsage for rejected requests and ErrIO for durable-store
// failures; validation failures of stored data also match ErrCorrupt. Absent
// records are reported through the found result, never as errors.
package txn
