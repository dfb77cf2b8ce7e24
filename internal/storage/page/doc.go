// Package page defines the pages of the revisioned store and their binary
// encoding.
//
// # Page Graph
//
// Every committed revision is reachable from the UberPage:
//
//	UberPage
//	  └─ revision trie (IndirectPage levels, keyed by revision number)
//	       └─ RevisionRoot
//	            ├─ node trie (IndirectPage levels, keyed by page key)
//	            │    └─ DataPage fragments (KindNode)
//	            └─ name trie
//	                 └─ DataPage fragments (KindName)
//
// Pages are never modified after they are written. A new revision shares
// every page it did not touch with its predecessor; sharing happens at the
// page level, never at the Reference level.
//
// # Logical Keys
//
// A logical key k is split by the store Layout into
//
//	pageKey = k >> RecordBits
//	offset  = k - pageKey<<RecordBits
//
// # Encoding
//
// Marshal writes a kind byte, a little-endian body and a 32 byte BLAKE3
// checksum. Unmarshal rejects payloads whose checksum does not match.
package page
