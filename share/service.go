// Package share implements password-protected external shares. A share
// wraps a document key under a key derived from a share password with
// its own independent salt, so compromising one share password never
// reveals the owner's master key or any other share's key.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsafe/docsafe/container"
	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/envelope"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
)

// Options configures a new password share.
type Options struct {
	// ExpiresAt bounds the share in time. Zero means no expiry.
	ExpiresAt time.Time

	// MaxAccessCount bounds the number of validations. Zero means
	// unlimited.
	MaxAccessCount int

	// Algorithm selects the wrap cipher. Zero value defaults to
	// AES-256-GCM.
	Algorithm interfaces.Algorithm
}

// Service creates and validates password-protected shares. Envelope and
// grant records are persisted through the escrow store; containers are
// only touched on the expensive validation fallback path.
type Service struct {
	store interfaces.EscrowStore
	blobs interfaces.BlobStore
	log   *slog.Logger
}

// NewService creates a share service. The blob store may be nil when the
// deployment never uses download-validation.
func NewService(store interfaces.EscrowStore, blobs interfaces.BlobStore, log *slog.Logger) *Service {
	return &Service{store: store, blobs: blobs, log: log}
}

// CreatePasswordShare derives a share key from sharePassword with fresh
// KDF parameters, wraps documentKey under it, and persists the envelope
// and grant. The returned grant carries the KDF parameters a validator
// needs to re-derive the share key.
func (s *Service) CreatePasswordShare(ctx context.Context, documentID uuid.UUID, documentKey, sharePassword []byte, opts Options) (*interfaces.ShareGrant, *interfaces.KeyEnvelope, error) {
	if len(sharePassword) == 0 {
		return nil, nil, fmt.Errorf("%w: empty share password", interfaces.ErrInvalidParams)
	}

	alg := opts.Algorithm
	if alg == 0 {
		alg = interfaces.AlgorithmAES256GCM
	}

	// Each share gets its own salt; share keys are never related to
	// each other or to the master key.
	params := interfaces.NewKeyDerivationParams()
	shareKey, err := cryptoutils.DeriveKey(ctx, sharePassword, params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive share key: %w", err)
	}
	defer cryptoutils.Zero(shareKey)

	shareID := uuid.New()
	env, err := envelope.Wrap(documentKey, shareKey, documentID,
		interfaces.ShareKeyRef(shareID), alg)
	if err != nil {
		return nil, nil, err
	}

	grant := &interfaces.ShareGrant{
		ShareID:        shareID,
		KeyEnvelopeID:  env.KeyID,
		DocumentID:     documentID,
		ShareKDFParams: params,
		ExpiresAt:      opts.ExpiresAt,
		MaxAccessCount: opts.MaxAccessCount,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.PutEnvelope(ctx, env); err != nil {
		return nil, nil, fmt.Errorf("failed to persist share envelope: %w", err)
	}
	if err := s.store.PutGrant(ctx, grant); err != nil {
		return nil, nil, fmt.Errorf("failed to persist share grant: %w", err)
	}

	s.log.Info("Created password share",
		slog.String("share_id", shareID.String()),
		slog.String("document_id", documentID.String()),
		slog.String("algorithm", alg.String()))
	return grant, env, nil
}

// ValidatePassword checks a candidate share password against an envelope
// on the cheap path: re-derive the share key from the grant's KDF
// parameters and attempt an unwrap. A wrong password reports false with
// a nil error; there is no side channel beyond standard AEAD failure.
//
// Expiry and access limits are the grant store's concern, not checked
// here. The envelope must exist and be active.
func (s *Service) ValidatePassword(ctx context.Context, env *interfaces.KeyEnvelope, grant *interfaces.ShareGrant, candidate []byte) (bool, error) {
	if env == nil || grant == nil {
		return false, interfaces.ErrKeyNotFound
	}
	if env.Status != interfaces.EnvelopeActive {
		return false, fmt.Errorf("%w: envelope %s is %s", interfaces.ErrKeyNotFound, env.KeyID, env.Status)
	}

	shareKey, err := cryptoutils.DeriveKey(ctx, candidate, grant.ShareKDFParams)
	if err != nil {
		return false, fmt.Errorf("failed to derive candidate key: %w", err)
	}
	defer cryptoutils.Zero(shareKey)

	documentKey, err := envelope.Unwrap(env, shareKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrDecryptionFailed) {
			s.log.Debug("Share validation failed on cheap path",
				slog.String("share_id", grant.ShareID.String()))
			return false, nil
		}
		return false, err
	}
	cryptoutils.Zero(documentKey)

	s.log.Debug("Share validated on cheap path",
		slog.String("share_id", grant.ShareID.String()))
	return true, nil
}

// ValidatePasswordWithDownload checks a candidate share password by
// fetching the document's container and attempting a full decode. This
// is the expensive fallback for validators without local envelope state:
// the envelope and container both come from the collaborating stores.
func (s *Service) ValidatePasswordWithDownload(ctx context.Context, grant *interfaces.ShareGrant, containerID interfaces.ContainerID, candidate []byte) (bool, error) {
	if grant == nil {
		return false, interfaces.ErrKeyNotFound
	}
	if s.blobs == nil {
		return false, fmt.Errorf("%w: no blob store configured", interfaces.ErrBackendUnavailable)
	}

	env, err := s.store.GetEnvelope(ctx, grant.KeyEnvelopeID)
	if err != nil {
		return false, err
	}
	if env.Status != interfaces.EnvelopeActive {
		return false, fmt.Errorf("%w: envelope %s is %s", interfaces.ErrKeyNotFound, env.KeyID, env.Status)
	}

	shareKey, err := cryptoutils.DeriveKey(ctx, candidate, grant.ShareKDFParams)
	if err != nil {
		return false, fmt.Errorf("failed to derive candidate key: %w", err)
	}
	defer cryptoutils.Zero(shareKey)

	documentKey, err := envelope.Unwrap(env, shareKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrDecryptionFailed) {
			return false, nil
		}
		return false, err
	}
	defer cryptoutils.Zero(documentKey)

	blob, err := s.blobs.Get(ctx, containerID)
	if err != nil {
		return false, err
	}

	plaintext, _, err := container.Decode(blob, documentKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrDecryptionFailed) {
			s.log.Debug("Share validation failed on download path",
				slog.String("share_id", grant.ShareID.String()))
			return false, nil
		}
		return false, err
	}
	cryptoutils.Zero(plaintext)

	s.log.Debug("Share validated on download path",
		slog.String("share_id", grant.ShareID.String()))
	return true, nil
}

// RevokeShare revokes both the grant and its envelope. Either record may
// already be revoked; revocation is idempotent.
func (s *Service) RevokeShare(ctx context.Context, shareID uuid.UUID) error {
	grant, err := s.store.GetGrant(ctx, shareID)
	if err != nil {
		return err
	}
	if err := s.store.RevokeGrant(ctx, shareID); err != nil {
		return err
	}
	if err := s.store.RevokeEnvelope(ctx, grant.KeyEnvelopeID); err != nil {
		return err
	}

	s.log.Info("Revoked share", slog.String("share_id", shareID.String()))
	return nil
}
