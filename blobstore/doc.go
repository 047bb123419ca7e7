// Package blobstore provides content-addressed storage for encrypted
// document containers. Containers are opaque ciphertext blobs addressed
// by the SHA-256 hash of their bytes, so any backend is just a dumb
// byte store; confidentiality never depends on where a container lands.
//
// Backends:
//   - MemoryBackend: in-process map, used in tests.
//   - FileBackend: local file system.
//   - S3Backend: Amazon S3 or compatible object storage.
//   - IPFSBackend: an IPFS node via its files API.
//
// BackendFor creates a backend from a location URI (memory://, file://,
// s3://, ipfs://).
package blobstore
