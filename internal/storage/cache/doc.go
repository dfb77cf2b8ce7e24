// Package cache provides the two-tier cache of reconstructed pages shared by
// all transactions of a session.
//
// The first tier is a bounded LRU of page containers. When it overflows, the
// least recently used entry is popped and then pushed into the second tier,
// which is either an in-memory map (MemoryTier) or a SQLite database
// (SQLiteTier). A Get checks the first tier, then the second; second-tier hits
// are not promoted. A Put mirrors the entry into the second tier when the
// key is already stored there.
//
// Entries are keyed by (kind, page key, revision) and hold committed state
// only, so they never change once cached. Failures of the second tier are
// logged and treated as misses.
package cache
