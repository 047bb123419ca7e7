// Package interfaces defines the shared types, error taxonomy, and
// collaborator contracts for the docsafe document-encryption core.
//
// The package contains no cryptographic logic. It exists so that the
// crypto packages (masterkey, envelope, container, share, rotation) and
// the storage packages (escrow, blobstore) can depend on a common set of
// types without depending on each other.
//
// # Key material types
//
// A document is protected by a fresh 32-byte document key, generated at
// encryption time and never reused. The document key itself is never
// persisted in the clear: it travels inside a KeyEnvelope, authenticated-
// encrypted under some wrapping key. One document may have several
// envelopes at once (owner master key, administrative escrow key, one per
// active password share), each independently wrapped, with exactly one
// canonical envelope per wrapping-key reference.
//
// # Collaborator stores
//
// EscrowStore persists envelopes, share grants and account records. It is
// a simple keyed store with optimistic-concurrency semantics: writes carry
// the record version they were read at and fail with ErrRecordConflict if
// the stored version has moved on.
//
// BlobStore persists encrypted containers, addressed by the SHA-256 hash
// of the container bytes. Containers are opaque ciphertext, so any backend
// (local disk, S3, IPFS) preserves the zero-knowledge property.
package interfaces
