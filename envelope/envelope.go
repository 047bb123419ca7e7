// Package envelope wraps per-document keys under wrapping keys.
//
// An envelope is the only persisted form of a document key. Wrapping is
// AEAD with associated data binding the envelope to its key id, document
// id and wrapping-key reference, so a stored envelope cannot be re-labeled
// and replayed against a different document or key reference. Rewrap
// (unwrap then wrap) is what makes key rotation and sharing O(1) per
// document: container ciphertext is never touched.
package envelope

import (
	"fmt"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
)

// aad binds an envelope's ciphertext to its identity. Any of these fields
// changing invalidates the authentication tag.
func aad(keyID, documentID uuid.UUID, ref interfaces.WrappingKeyRef) []byte {
	out := make([]byte, 0, 32+len(ref.Kind)+len(ref.ID)+1)
	out = append(out, keyID[:]...)
	out = append(out, documentID[:]...)
	out = append(out, ref.String()...)
	return out
}

// Wrap authenticated-encrypts a 32-byte document key under the wrapping
// key with a fresh random nonce. Key-length mismatches fail with
// ErrInvalidKeyMaterial before any encryption runs.
func Wrap(documentKey, wrappingKey []byte, documentID uuid.UUID, ref interfaces.WrappingKeyRef, alg interfaces.Algorithm) (*interfaces.KeyEnvelope, error) {
	if len(documentKey) != interfaces.DocumentKeySize {
		return nil, fmt.Errorf("%w: document key must be %d bytes, got %d",
			interfaces.ErrInvalidKeyMaterial, interfaces.DocumentKeySize, len(documentKey))
	}
	if !alg.IsAEAD() {
		return nil, fmt.Errorf("%w: cannot wrap with %s", interfaces.ErrInvalidKeyMaterial, alg)
	}

	keyID := uuid.New()
	nonce, wrapped, err := cryptoutils.Seal(alg, wrappingKey, documentKey, aad(keyID, documentID, ref))
	if err != nil {
		return nil, err
	}

	return &interfaces.KeyEnvelope{
		KeyID:          keyID,
		DocumentID:     documentID,
		WrappedKey:     wrapped,
		WrapAlgorithm:  alg,
		WrappingKeyRef: ref,
		Nonce:          nonce,
		CreatedAt:      time.Now().UTC(),
		Status:         interfaces.EnvelopeActive,
	}, nil
}

// WrapForEscrow produces an escrow envelope: the document key encrypted
// under the administrative escrow public key via ECIES. The envelope can
// only be opened server-side during recovery; Unwrap rejects it.
func WrapForEscrow(documentKey []byte, escrowPublicKeyPEM []byte, documentID uuid.UUID, escrowKeyID string) (*interfaces.KeyEnvelope, error) {
	wrapped, err := cryptoutils.WrapForEscrow(escrowPublicKeyPEM, documentKey)
	if err != nil {
		return nil, err
	}

	return &interfaces.KeyEnvelope{
		KeyID:          uuid.New(),
		DocumentID:     documentID,
		WrappedKey:     wrapped,
		WrapAlgorithm:  interfaces.AlgorithmECIESP256,
		WrappingKeyRef: interfaces.EscrowKeyRef(escrowKeyID),
		CreatedAt:      time.Now().UTC(),
		Status:         interfaces.EnvelopeActive,
	}, nil
}

// Unwrap recovers the document key from an envelope. Wrong key and
// tampered envelope are deliberately indistinguishable: both return
// ErrDecryptionFailed with no partial output. The caller owns the
// returned key and must zero it after use.
func Unwrap(env *interfaces.KeyEnvelope, wrappingKey []byte) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.WrapAlgorithm == interfaces.AlgorithmECIESP256 {
		return nil, fmt.Errorf("%w: escrow envelopes cannot be unwrapped client-side",
			interfaces.ErrInvalidKeyMaterial)
	}

	documentKey, err := cryptoutils.Open(env.WrapAlgorithm, wrappingKey, env.Nonce,
		env.WrappedKey, aad(env.KeyID, env.DocumentID, env.WrappingKeyRef))
	if err != nil {
		return nil, err
	}
	if len(documentKey) != interfaces.DocumentKeySize {
		cryptoutils.Zero(documentKey)
		return nil, fmt.Errorf("%w: unwrapped key has wrong length", interfaces.ErrKeyNotFound)
	}
	return documentKey, nil
}

// Rewrap unwraps an envelope with the old wrapping key and wraps the
// recovered document key under the new one, in a single operation. The
// intermediate document key is zeroed before returning. The resulting
// envelope keeps the key id and document id but carries the new
// reference, a fresh nonce, and the original record version so an
// optimistic store write can detect concurrent updates. On any failure
// the input envelope is untouched.
func Rewrap(env *interfaces.KeyEnvelope, oldWrappingKey, newWrappingKey []byte, newRef interfaces.WrappingKeyRef) (*interfaces.KeyEnvelope, error) {
	documentKey, err := Unwrap(env, oldWrappingKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(documentKey)

	nonce, wrapped, err := cryptoutils.Seal(env.WrapAlgorithm, newWrappingKey, documentKey,
		aad(env.KeyID, env.DocumentID, newRef))
	if err != nil {
		return nil, err
	}

	return &interfaces.KeyEnvelope{
		KeyID:          env.KeyID,
		DocumentID:     env.DocumentID,
		WrappedKey:     wrapped,
		WrapAlgorithm:  env.WrapAlgorithm,
		WrappingKeyRef: newRef,
		Nonce:          nonce,
		CreatedAt:      time.Now().UTC(),
		Status:         interfaces.EnvelopeActive,
		RecordVersion:  env.RecordVersion,
	}, nil
}
