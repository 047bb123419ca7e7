package cryptoutils

import (
	"context"
	"testing"
	"time"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/stretchr/testify/require"
)

// fastParams keeps Argon2id cheap enough for tests while staying valid.
func fastParams() interfaces.KeyDerivationParams {
	p := interfaces.NewKeyDerivationParams()
	p.Time = 1
	p.MemoryKiB = 8 * 1024
	return p
}

func TestDeriveKeyDeterministic(t *testing.T) {
	p := fastParams()

	k1, err := DeriveKey(context.Background(), []byte("correct horse"), p)
	require.NoError(t, err)
	k2, err := DeriveKey(context.Background(), []byte("correct horse"), p)
	require.NoError(t, err)

	require.Equal(t, k1, k2)
	require.Len(t, k1, interfaces.MasterKeySize)
}

func TestDeriveKeyInputsMatter(t *testing.T) {
	p := fastParams()

	base, err := DeriveKey(context.Background(), []byte("password"), p)
	require.NoError(t, err)

	other, err := DeriveKey(context.Background(), []byte("Password"), p)
	require.NoError(t, err)
	require.NotEqual(t, base, other)

	p2 := fastParams() // fresh random salt
	salted, err := DeriveKey(context.Background(), []byte("password"), p2)
	require.NoError(t, err)
	require.NotEqual(t, base, salted)
}

func TestDeriveKeyMalformedParams(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*interfaces.KeyDerivationParams)
	}{
		{"unknown kdf", func(p *interfaces.KeyDerivationParams) { p.KDF = "scrypt" }},
		{"short salt", func(p *interfaces.KeyDerivationParams) { p.Salt = p.Salt[:8] }},
		{"zero time", func(p *interfaces.KeyDerivationParams) { p.Time = 0 }},
		{"zero memory", func(p *interfaces.KeyDerivationParams) { p.MemoryKiB = 0 }},
		{"zero parallelism", func(p *interfaces.KeyDerivationParams) { p.Parallelism = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := fastParams()
			tc.mutate(&p)
			_, err := DeriveKey(context.Background(), []byte("pw"), p)
			require.ErrorIs(t, err, interfaces.ErrInvalidParams)
		})
	}
}

func TestDeriveKeyCancellation(t *testing.T) {
	p := interfaces.NewKeyDerivationParams()
	p.Time = 16
	p.MemoryKiB = 256 * 1024

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := DeriveKey(ctx, []byte("pw"), p)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerifier(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	verifier, err := NewVerifier(key)
	require.NoError(t, err)
	require.Len(t, verifier, VerifierSize)

	require.True(t, VerifyKey(key, verifier))

	wrong, err := RandomKey()
	require.NoError(t, err)
	require.False(t, VerifyKey(wrong, verifier))

	// Truncated or garbage verifiers fail closed.
	require.False(t, VerifyKey(key, verifier[:16]))
	require.False(t, VerifyKey(key, nil))
	require.False(t, VerifyKey(key[:16], verifier))
}

func TestVerifierUnlinkable(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	v1, err := NewVerifier(key)
	require.NoError(t, err)
	v2, err := NewVerifier(key)
	require.NoError(t, err)

	// Fresh salt per verifier: same key, different stored bytes.
	require.NotEqual(t, v1, v2)
	require.True(t, VerifyKey(key, v1))
	require.True(t, VerifyKey(key, v2))
}
