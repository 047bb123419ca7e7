package interfaces

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MasterKeySize is the size of every symmetric key in the system: master
// keys, share keys and document keys are all 32 bytes.
const MasterKeySize = 32

// DocumentKeySize is the size of a per-document symmetric key.
const DocumentKeySize = 32

// MinSaltSize is the minimum accepted KDF salt length.
const MinSaltSize = 16

// Algorithm is the closed set of AEAD and wrap algorithms. Unknown values
// are rejected at the boundary rather than deep inside crypto code.
type Algorithm uint8

const (
	// AlgorithmAES256GCM is AES-256 in Galois/Counter Mode.
	AlgorithmAES256GCM Algorithm = 1
	// AlgorithmChaCha20Poly1305 is ChaCha20-Poly1305.
	AlgorithmChaCha20Poly1305 Algorithm = 2
	// AlgorithmECIESP256 is an ECIES wrap under the administrative escrow
	// public key. It is valid only for escrow envelopes: the core produces
	// these but never decrypts them.
	AlgorithmECIESP256 Algorithm = 3
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmAES256GCM:
		return "aes256gcm"
	case AlgorithmChaCha20Poly1305:
		return "chacha20poly1305"
	case AlgorithmECIESP256:
		return "ecies-p256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// IsAEAD reports whether the algorithm is a symmetric AEAD usable for
// containers and envelope wraps.
func (a Algorithm) IsAEAD() bool {
	return a == AlgorithmAES256GCM || a == AlgorithmChaCha20Poly1305
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "aes256gcm", "aes-256-gcm":
		return AlgorithmAES256GCM, nil
	case "chacha20poly1305", "chacha20-poly1305":
		return AlgorithmChaCha20Poly1305, nil
	case "ecies-p256":
		return AlgorithmECIESP256, nil
	default:
		return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidKeyMaterial, s)
	}
}

// WrappingKeyKind identifies which class of key wrapped an envelope.
type WrappingKeyKind string

const (
	// WrappingKeyMaster means the owner's master key, at some version.
	WrappingKeyMaster WrappingKeyKind = "master"
	// WrappingKeyShare means a password-derived share key.
	WrappingKeyShare WrappingKeyKind = "share"
	// WrappingKeyEscrow means the administrative escrow public key.
	WrappingKeyEscrow WrappingKeyKind = "escrow"
)

// WrappingKeyRef names the key an envelope is wrapped under: a master-key
// version, a share id, or an escrow key id.
type WrappingKeyRef struct {
	Kind WrappingKeyKind `json:"kind"`
	ID   string          `json:"id"`
}

// MasterKeyRef returns a reference to a master-key version.
func MasterKeyRef(version uint32) WrappingKeyRef {
	return WrappingKeyRef{Kind: WrappingKeyMaster, ID: fmt.Sprintf("v%d", version)}
}

// ShareKeyRef returns a reference to a share key.
func ShareKeyRef(shareID uuid.UUID) WrappingKeyRef {
	return WrappingKeyRef{Kind: WrappingKeyShare, ID: shareID.String()}
}

// EscrowKeyRef returns a reference to an administrative escrow key.
func EscrowKeyRef(keyID string) WrappingKeyRef {
	return WrappingKeyRef{Kind: WrappingKeyEscrow, ID: keyID}
}

// String returns "kind/id", e.g. "master/v3".
func (r WrappingKeyRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Equal compares two references.
func (r WrappingKeyRef) Equal(other WrappingKeyRef) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// KeyDerivationParams holds the persisted, non-secret Argon2id parameters
// needed to re-derive a key deterministically.
type KeyDerivationParams struct {
	KDF         string `json:"kdf"`
	Salt        []byte `json:"salt"`
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory_kib"`
	Parallelism uint8  `json:"parallelism"`
	Version     uint8  `json:"version"`
}

// KDFArgon2id is the only supported key-derivation function.
const KDFArgon2id = "argon2id"

// NewKeyDerivationParams returns fresh parameters with a random 16-byte
// salt and interactive-strength Argon2id cost factors.
func NewKeyDerivationParams() KeyDerivationParams {
	salt := make([]byte, MinSaltSize)
	_, _ = rand.Read(salt)
	return KeyDerivationParams{
		KDF:         KDFArgon2id,
		Salt:        salt,
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		Version:     1,
	}
}

// Validate rejects malformed parameters before any derivation runs.
func (p KeyDerivationParams) Validate() error {
	if p.KDF != KDFArgon2id {
		return fmt.Errorf("%w: unknown kdf %q", ErrInvalidParams, p.KDF)
	}
	if len(p.Salt) < MinSaltSize {
		return fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidParams, MinSaltSize)
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 {
		return fmt.Errorf("%w: zero cost factor", ErrInvalidParams)
	}
	return nil
}

// EnvelopeStatus is the lifecycle state of a key envelope. Envelopes are
// append-only: revocation flips the status, it never deletes the record.
type EnvelopeStatus string

const (
	EnvelopeActive  EnvelopeStatus = "active"
	EnvelopeRotated EnvelopeStatus = "rotated"
	EnvelopeRevoked EnvelopeStatus = "revoked"
)

// KeyEnvelope is a document key encrypted under some wrapping key. The
// AEAD authentication tag is appended to WrappedKey, Go convention for
// cipher.AEAD output.
type KeyEnvelope struct {
	KeyID          uuid.UUID      `json:"key_id"`
	DocumentID     uuid.UUID      `json:"document_id"`
	WrappedKey     []byte         `json:"wrapped_key"`
	WrapAlgorithm  Algorithm      `json:"wrap_algorithm"`
	WrappingKeyRef WrappingKeyRef `json:"wrapping_key_ref"`
	Nonce          []byte         `json:"nonce"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         EnvelopeStatus `json:"status"`

	// RecordVersion supports optimistic concurrency in the escrow store.
	RecordVersion uint64 `json:"record_version"`
}

// Validate rejects structurally malformed envelope records coming back
// from an escrow store. Records are collaborator input, never trusted.
func (e *KeyEnvelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrKeyNotFound)
	}
	if e.KeyID == uuid.Nil || e.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: envelope missing identifiers", ErrKeyNotFound)
	}
	if len(e.WrappedKey) == 0 {
		return fmt.Errorf("%w: envelope has no wrapped key", ErrKeyNotFound)
	}
	switch e.WrapAlgorithm {
	case AlgorithmAES256GCM, AlgorithmChaCha20Poly1305:
		if len(e.Nonce) == 0 {
			return fmt.Errorf("%w: envelope missing nonce", ErrKeyNotFound)
		}
	case AlgorithmECIESP256:
		// Nonce travels inside the ECIES blob.
	default:
		return fmt.Errorf("%w: wrap algorithm %s", ErrUnsupportedFormat, e.WrapAlgorithm)
	}
	switch e.Status {
	case EnvelopeActive, EnvelopeRotated, EnvelopeRevoked:
	default:
		return fmt.Errorf("%w: envelope status %q", ErrKeyNotFound, e.Status)
	}
	return nil
}

// Clone returns a deep copy of the envelope.
func (e *KeyEnvelope) Clone() *KeyEnvelope {
	cp := *e
	cp.WrappedKey = append([]byte(nil), e.WrappedKey...)
	cp.Nonce = append([]byte(nil), e.Nonce...)
	return &cp
}

// ShareGrant is a time- and use-bounded authorization for a password-
// protected external share. Expiry and access-count limits are enforced by
// the grant store, not by the crypto core.
type ShareGrant struct {
	ShareID        uuid.UUID           `json:"share_id"`
	KeyEnvelopeID  uuid.UUID           `json:"key_envelope_id"`
	DocumentID     uuid.UUID           `json:"document_id"`
	ShareKDFParams KeyDerivationParams `json:"share_kdf_params"`
	ExpiresAt      time.Time           `json:"expires_at"`
	MaxAccessCount int                 `json:"max_access_count"`
	AccessCount    int                 `json:"access_count"`
	CreatedAt      time.Time           `json:"created_at"`
	Revoked        bool                `json:"revoked"`

	RecordVersion uint64 `json:"record_version"`
}

// Usable reports whether the grant still authorizes access at the given
// time. Revocation, expiry and access exhaustion all make a grant unusable.
func (g *ShareGrant) Usable(now time.Time) error {
	if g == nil {
		return ErrRecordNotFound
	}
	if g.Revoked {
		return fmt.Errorf("%w: share revoked", ErrKeyNotFound)
	}
	if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
		return fmt.Errorf("%w: share grant", ErrExpired)
	}
	if g.MaxAccessCount > 0 && g.AccessCount >= g.MaxAccessCount {
		return fmt.Errorf("%w: share access count exhausted", ErrExpired)
	}
	return nil
}

// AccountRecord is the persisted, non-secret per-account state: the KDF
// parameters for master-key derivation, the verifier tag used to
// distinguish a wrong password from a corrupted envelope, and the current
// master-key version.
type AccountRecord struct {
	AccountID        string              `json:"account_id"`
	KDFParams        KeyDerivationParams `json:"kdf_params"`
	Verifier         []byte              `json:"verifier"`
	MasterKeyVersion uint32              `json:"master_key_version"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`

	RecordVersion uint64 `json:"record_version"`
}

// DocumentMetadata is the secret metadata sealed inside a container.
type DocumentMetadata struct {
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ContainerInfo is the non-secret header information of a container,
// readable without the document key.
type ContainerInfo struct {
	FormatVersion uint8
	Algorithm     Algorithm
	CreatedAt     time.Time
	MetadataSize  int
	PayloadSize   int64
}

// ContainerID is the SHA-256 hash of a serialized container, used as its
// content address in a BlobStore.
type ContainerID [32]byte

// ComputeContainerID calculates the content address of container bytes.
func ComputeContainerID(data []byte) ContainerID {
	return ContainerID(sha256.Sum256(data))
}

// NewContainerIDFromHex parses a hex-encoded container id.
func NewContainerIDFromHex(s string) (ContainerID, error) {
	clean := strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != 32 {
		return ContainerID{}, fmt.Errorf("invalid container id %q", s)
	}
	var id ContainerID
	copy(id[:], raw)
	return id, nil
}

// String returns the hex representation.
func (id ContainerID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id ContainerID) Bytes() []byte {
	return id[:]
}

// Equal compares two container ids.
func (id ContainerID) Equal(other ContainerID) bool {
	return bytes.Equal(id[:], other[:])
}
