package cryptoutils

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/docsafe/docsafe/interfaces"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// VerifierSize is the length of a stored master-key verifier: a 16-byte
// salt followed by a 32-byte HKDF check tag.
const VerifierSize = 16 + 32

var verifierInfo = []byte("docsafe/verifier/v1")

// DeriveKey runs Argon2id over the password with the given parameters and
// returns a 32-byte key. The derivation is deterministic for identical
// inputs and fails only on malformed parameters or context cancellation.
//
// Argon2id is deliberately slow, so the work runs in its own goroutine.
// If ctx is cancelled first, DeriveKey returns the context error
// immediately and the abandoned key is zeroed when the derivation
// finishes in the background. No partial key ever escapes.
func DeriveKey(ctx context.Context, password []byte, p interfaces.KeyDerivationParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	done := make(chan []byte, 1)
	go func() {
		done <- argon2.IDKey(password, p.Salt, p.Time, p.MemoryKiB, p.Parallelism, interfaces.MasterKeySize)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		go func() {
			Zero(<-done)
		}()
		return nil, ctx.Err()
	}
}

// NewVerifier derives a check tag from the master key that can be stored
// server-side without revealing anything about the key. The tag lets the
// client distinguish a wrong password from a corrupted envelope before it
// attempts any unwrap.
func NewVerifier(masterKey []byte) ([]byte, error) {
	if len(masterKey) != interfaces.MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes",
			interfaces.ErrInvalidKeyMaterial, interfaces.MasterKeySize)
	}

	salt, err := RandomBytes(16)
	if err != nil {
		return nil, err
	}

	tag := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, salt, verifierInfo), tag); err != nil {
		return nil, err
	}

	out := make([]byte, 0, VerifierSize)
	out = append(out, salt...)
	out = append(out, tag...)
	return out, nil
}

// VerifyKey checks a master key against a stored verifier in constant
// time. A malformed verifier verifies as false, never as an error: the
// caller treats both as invalid credentials.
func VerifyKey(masterKey, verifier []byte) bool {
	if len(masterKey) != interfaces.MasterKeySize || len(verifier) != VerifierSize {
		return false
	}

	salt := verifier[:16]
	expected := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, salt, verifierInfo), expected); err != nil {
		return false
	}
	defer Zero(expected)

	return hmac.Equal(expected, verifier[16:])
}
