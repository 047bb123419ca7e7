package client

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEscrowPublicKey generates a throwaway P-256 escrow key pair and
// returns the PEM-encoded public key. The private half is discarded;
// escrow wrapping is encrypt-only on this side.
func testEscrowPublicKey(t *testing.T) []byte {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(priv.PublicKey())
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}
