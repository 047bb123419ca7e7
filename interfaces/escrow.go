package interfaces

import (
	"context"

	"github.com/google/uuid"
)

// EscrowStore persists key envelopes, share grants and account records.
// Implementations live in the escrow package; the crypto core treats the
// store as a simple keyed store with optimistic-concurrency semantics:
// a Put carries the RecordVersion the record was read at and fails with
// ErrRecordConflict when the stored version has moved on. A Put with
// RecordVersion zero creates the record.
type EscrowStore interface {
	// PutEnvelope creates or updates an envelope record.
	PutEnvelope(ctx context.Context, env *KeyEnvelope) error

	// GetEnvelope retrieves a single envelope by key id.
	GetEnvelope(ctx context.Context, keyID uuid.UUID) (*KeyEnvelope, error)

	// GetEnvelopes retrieves all envelopes for a document, regardless of
	// status. Revoked and rotated envelopes are preserved for audit.
	GetEnvelopes(ctx context.Context, documentID uuid.UUID) ([]*KeyEnvelope, error)

	// EnvelopesByRef retrieves all envelopes wrapped under the given
	// wrapping-key reference.
	EnvelopesByRef(ctx context.Context, ref WrappingKeyRef) ([]*KeyEnvelope, error)

	// RevokeEnvelope flips an envelope's status to revoked. The record is
	// never deleted.
	RevokeEnvelope(ctx context.Context, keyID uuid.UUID) error

	// PutGrant creates or updates a share grant.
	PutGrant(ctx context.Context, grant *ShareGrant) error

	// GetGrant retrieves a share grant by share id.
	GetGrant(ctx context.Context, shareID uuid.UUID) (*ShareGrant, error)

	// RevokeGrant marks a grant revoked.
	RevokeGrant(ctx context.Context, shareID uuid.UUID) error

	// PutAccount creates or updates an account record.
	PutAccount(ctx context.Context, account *AccountRecord) error

	// GetAccount retrieves an account record.
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)
}

// BlobStore provides content-addressed storage for encrypted containers.
type BlobStore interface {
	// Get retrieves container bytes by content id.
	Get(ctx context.Context, id ContainerID) ([]byte, error)

	// Put saves container bytes and returns their content id.
	Put(ctx context.Context, data []byte) (ContainerID, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}
