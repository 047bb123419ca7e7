// Package escrow provides implementations of the key escrow store, the
// durable home of key envelopes, share grants and account records.
//
// Backends:
//   - MemoryStore: in-process map store, used in tests and single-process
//     deployments.
//   - FileStore: JSON records on the local file system.
//   - VaultStore: records in a HashiCorp Vault KV v2 mount.
//   - RemoteStore: HTTP client for a remote escrow service.
//
// All backends share the same optimistic-concurrency contract: records
// carry a RecordVersion, a Put presents the version the record was read
// at, and a mismatch fails with interfaces.ErrRecordConflict. Envelopes
// and grants are append-only; revocation flips a status flag and never
// deletes the record.
//
// StoreFromURI creates a backend from a URI string (memory://, file://,
// vault://, http:// or https://), mirroring how storage backends are
// selected elsewhere in this codebase.
package escrow
