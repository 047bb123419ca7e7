package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/docsafe/docsafe/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the nonce length for both supported AEAD algorithms.
const NonceSize = 12

// NewAEAD constructs the AEAD for the given algorithm and 32-byte key.
// Unknown algorithms and wrong key lengths are rejected with
// ErrInvalidKeyMaterial.
func NewAEAD(alg interfaces.Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != interfaces.MasterKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d",
			interfaces.ErrInvalidKeyMaterial, interfaces.MasterKeySize, len(key))
	}

	switch alg {
	case interfaces.AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyMaterial, err)
		}
		return cipher.NewGCM(block)
	case interfaces.AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyMaterial, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: algorithm %s is not an AEAD",
			interfaces.ErrInvalidKeyMaterial, alg)
	}
}

// Seal encrypts plaintext with a fresh random nonce and returns the nonce
// and the ciphertext (authentication tag appended).
func Seal(alg interfaces.Algorithm, key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Open decrypts and authenticates ciphertext produced by Seal. Any
// authentication failure, wrong key or tampered data alike, is reported as
// ErrDecryptionFailed with no further detail.
func Open(alg interfaces.Algorithm, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", interfaces.ErrDecryptionFailed)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return plaintext, nil
}

// RandomKey generates a fresh 32-byte symmetric key.
func RandomKey() ([]byte, error) {
	key := make([]byte, interfaces.MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
