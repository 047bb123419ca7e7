package cryptoutils

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"testing"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/stretchr/testify/require"
)

// unwrapEscrow reverses WrapForEscrow. Only tests may do this; the
// production core never holds the escrow private key.
func unwrapEscrow(t *testing.T, priv *ecdsa.PrivateKey, wrapped []byte) ([]byte, error) {
	t.Helper()
	require.GreaterOrEqual(t, len(wrapped), 2)

	ephLen := binary.BigEndian.Uint16(wrapped[0:2])
	require.GreaterOrEqual(t, len(wrapped), int(2+ephLen+NonceSize))

	ephKey, err := ecdh.P256().NewPublicKey(wrapped[2 : 2+ephLen])
	require.NoError(t, err)

	privECDH, err := priv.ECDH()
	require.NoError(t, err)

	shared, err := privECDH.ECDH(ephKey)
	require.NoError(t, err)
	wrapKey := sha256.Sum256(shared)

	nonce := wrapped[2+ephLen : 2+int(ephLen)+NonceSize]
	ct := wrapped[2+int(ephLen)+NonceSize:]
	return Open(interfaces.AlgorithmAES256GCM, wrapKey[:], nonce, ct, nil)
}

func escrowKeyPair(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return priv, pubPEM
}

func TestWrapForEscrowRoundTrip(t *testing.T) {
	priv, pubPEM := escrowKeyPair(t)

	documentKey, err := RandomKey()
	require.NoError(t, err)

	wrapped, err := WrapForEscrow(pubPEM, documentKey)
	require.NoError(t, err)

	recovered, err := unwrapEscrow(t, priv, wrapped)
	require.NoError(t, err)
	require.Equal(t, documentKey, recovered)
}

func TestWrapForEscrowForwardSecrecy(t *testing.T) {
	_, pubPEM := escrowKeyPair(t)

	documentKey, err := RandomKey()
	require.NoError(t, err)

	w1, err := WrapForEscrow(pubPEM, documentKey)
	require.NoError(t, err)
	w2, err := WrapForEscrow(pubPEM, documentKey)
	require.NoError(t, err)

	// Fresh ephemeral key per wrap: identical input, different blobs.
	require.NotEqual(t, w1, w2)
}

func TestWrapForEscrowRejectsBadInput(t *testing.T) {
	_, pubPEM := escrowKeyPair(t)

	// Short document key.
	_, err := WrapForEscrow(pubPEM, make([]byte, 16))
	require.ErrorIs(t, err, interfaces.ErrInvalidKeyMaterial)

	// Garbage PEM.
	key, err := RandomKey()
	require.NoError(t, err)
	_, err = WrapForEscrow([]byte("not a valid PEM"), key)
	require.Error(t, err)
}

func TestWrapForEscrowWrongRecipient(t *testing.T) {
	_, pubPEM := escrowKeyPair(t)
	otherPriv, _ := escrowKeyPair(t)

	documentKey, err := RandomKey()
	require.NoError(t, err)

	wrapped, err := WrapForEscrow(pubPEM, documentKey)
	require.NoError(t, err)

	_, err = unwrapEscrow(t, otherPriv, wrapped)
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
}
