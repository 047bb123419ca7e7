package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when a derived master key does not
	// match the stored account verifier. It is only ever produced by pairing
	// a derivation against a verifier, never by guessing from ciphertext.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDecryptionFailed is returned on any AEAD authentication failure.
	// A wrong key and a tampered ciphertext are intentionally not
	// distinguished, to avoid giving an attacker an oracle.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrCorrupted is returned when a container is structurally damaged or
	// fails payload authentication. It wraps ErrDecryptionFailed: at the
	// AEAD layer a flipped byte and a wrong key are indistinguishable, so
	// errors.Is(ErrCorrupted, ErrDecryptionFailed) holds, while callers that
	// care can still tell "file damaged" from a plain wrong-password signal.
	ErrCorrupted = fmt.Errorf("%w: container corrupted or tampered", ErrDecryptionFailed)

	// ErrUnsupportedFormat is returned when container magic bytes or the
	// format version are not recognized. Detected before any key material
	// is touched.
	ErrUnsupportedFormat = errors.New("unsupported container format")

	// ErrKeyNotFound is returned when no active envelope exists for the
	// requested wrapping-key reference, or when a stored record is malformed.
	ErrKeyNotFound = errors.New("no active key envelope")

	// ErrExpired is returned when a session key or share grant is past its
	// TTL. A session key that reports ErrExpired has already been zeroed;
	// the caller must re-derive.
	ErrExpired = errors.New("key material expired")

	// ErrInvalidKeyMaterial is returned on key-length mismatches and unknown
	// algorithm variants, before any cryptographic operation runs.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrInvalidParams is returned when key-derivation parameters are
	// malformed (unknown KDF, short salt, zero cost factors).
	ErrInvalidParams = errors.New("invalid key derivation parameters")

	// ErrRecordConflict is returned by escrow stores when an optimistic
	// write loses a concurrent update.
	ErrRecordConflict = errors.New("record version conflict")

	// ErrRecordNotFound is returned by escrow stores for missing records.
	ErrRecordNotFound = errors.New("record not found")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible. Callers may retry these with backoff; cryptographic
	// failures above are never retried.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported
	// storage location URIs.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
