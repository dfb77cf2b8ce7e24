// Package trie implements the copy-on-write indirection trie that maps a
// page key (or a revision number) to a leaf page reference.
//
// A trie of depth D and fan-out F = 2^b addresses F^D keys. Level i uses the
// b bits starting at shift b*(D-1-i), so the default 5-level, 256-way trie
// uses shifts 32, 24, 16, 8 and 0.
//
// Readers call Resolve. The writer calls Allocate, which copies shared
// indirect pages along the written path, and Persist at commit time, which
// writes the new pages bottom-up.
package trie
