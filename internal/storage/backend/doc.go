// Package backend defines the durable-store contract consumed by the page
// store and provides reference implementations of it.
//
// A Storage holds opaque page payloads addressed by int64 durable keys plus a
// single root slot. The root slot is replaced atomically: a root becomes
// visible to ReadRoot only after every page written before it is durable.
//
// # Implementations
//
//   - Memory keeps payloads in memory and is used by tests and ephemeral stores.
//   - File appends length-prefixed payloads to pages.rvt, where the durable key
//     is the record offset, and publishes the root through root.rvt using the
//     tmp + fsync + rename pattern.
//
// # Byte handlers
//
// WithHandlers layers a Handler pipeline underneath the contract. XZ
// compresses payloads; Encryption seals them with AES-256-GCM.
//
//	store := backend.WithHandlers(file, backend.NewXZ(), enc)
//
// # Fault injection
//
// FaultInjector wraps any Storage and fails selected operations, which is
// how commit atomicity is exercised in tests.
package backend
