package cryptoutils

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/docsafe/docsafe/interfaces"
)

// WrapForEscrow encrypts a document key under the administrative escrow
// public key using ECIES: a fresh ephemeral P-256 key per wrap, ECDH key
// agreement, SHA-256 key derivation, and AES-GCM for the payload. The
// fresh ephemeral key gives forward secrecy across wraps.
//
// Output layout: [ephemeral key length (2 bytes)][ephemeral public key]
// [nonce (12 bytes)][ciphertext]. Only the escrow holder can unwrap; this
// core never performs that operation.
func WrapForEscrow(escrowPublicKeyPEM []byte, documentKey []byte) ([]byte, error) {
	if len(documentKey) != interfaces.DocumentKeySize {
		return nil, fmt.Errorf("%w: document key must be %d bytes",
			interfaces.ErrInvalidKeyMaterial, interfaces.DocumentKeySize)
	}

	block, _ := pem.Decode(escrowPublicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode escrow public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow public key: %w", err)
	}

	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("escrow key is not an ECDSA public key")
	}
	escrowKey, err := ecdsaKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported escrow key curve: %w", err)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := ephemeral.ECDH(escrowKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}
	wrapKey := sha256.Sum256(shared)
	defer Zero(wrapKey[:])
	Zero(shared)

	nonce, ciphertext, err := Seal(interfaces.AlgorithmAES256GCM, wrapKey[:], documentKey, nil)
	if err != nil {
		return nil, err
	}

	ephemeralBytes := ephemeral.PublicKey().Bytes()
	out := make([]byte, 2, 2+len(ephemeralBytes)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(ephemeralBytes)))
	out = append(out, ephemeralBytes...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}
