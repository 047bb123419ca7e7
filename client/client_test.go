package client

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/docsafe/docsafe/blobstore"
	"github.com/docsafe/docsafe/escrow"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/docsafe/docsafe/share"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg func(*Config)) (*Client, *escrow.MemoryStore) {
	t.Helper()

	store := escrow.NewMemoryStore()
	config := Config{
		AccountID: "alice",
		Store:     store,
		Blobs:     blobstore.NewMemoryBackend(),
		Log:       slog.Default(),
	}
	if cfg != nil {
		cfg(&config)
	}

	c, err := New(config)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, store
}

func unlockedClient(t *testing.T, password []byte) (*Client, *escrow.MemoryStore) {
	t.Helper()
	c, store := newTestClient(t, nil)
	ctx := context.Background()
	require.NoError(t, c.CreateAccount(ctx, password))
	require.NoError(t, c.Unlock(ctx, password))
	return c, store
}

func TestUnlockWrongPassword(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, nil)
	require.NoError(t, c.CreateAccount(ctx, []byte("correct horse")))

	err := c.Unlock(ctx, []byte("battery staple"))
	require.ErrorIs(t, err, interfaces.ErrInvalidCredentials)
	require.Equal(t, StateLocked, c.State())

	require.NoError(t, c.Unlock(ctx, []byte("correct horse")))
	require.Equal(t, StateUnlocked, c.State())
}

func TestUnlockUnknownAccount(t *testing.T) {
	c, _ := newTestClient(t, nil)
	err := c.Unlock(context.Background(), []byte("pw"))
	require.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	require.Equal(t, StateLocked, c.State())
}

func TestEncryptDecryptDocument(t *testing.T) {
	ctx := context.Background()
	c, store := unlockedClient(t, []byte("pw"))

	plaintext := []byte("quarterly report, very secret")
	meta := interfaces.DocumentMetadata{
		Filename: "q3.txt",
		MimeType: "text/plain",
		Size:     int64(len(plaintext)),
	}

	result, err := c.EncryptDocument(ctx, plaintext, meta)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte(result.ContainerID), [32]byte{})

	// The persisted envelope is wrapped under the master key, v1.
	env, err := store.GetEnvelope(ctx, result.KeyID)
	require.NoError(t, err)
	require.Equal(t, interfaces.MasterKeyRef(1), env.WrappingKeyRef)

	doc, err := c.DecryptDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Equal(t, plaintext, doc.Plaintext)
	require.Equal(t, "q3.txt", doc.Metadata.Filename)
}

func TestOperationsRequireUnlock(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, nil)
	require.NoError(t, c.CreateAccount(ctx, []byte("pw")))

	_, err := c.EncryptDocument(ctx, []byte("data"), interfaces.DocumentMetadata{})
	require.ErrorIs(t, err, interfaces.ErrInvalidCredentials)

	require.NoError(t, c.Unlock(ctx, []byte("pw")))
	c.Lock()
	require.Equal(t, StateLocked, c.State())

	_, err = c.EncryptDocument(ctx, []byte("data"), interfaces.DocumentMetadata{})
	require.ErrorIs(t, err, interfaces.ErrInvalidCredentials)
}

func TestSessionExpiryForcesRederivation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, func(cfg *Config) {
		cfg.SessionTTL = time.Nanosecond
	})
	require.NoError(t, c.CreateAccount(ctx, []byte("pw")))
	require.NoError(t, c.Unlock(ctx, []byte("pw")))

	time.Sleep(10 * time.Millisecond)

	_, err := c.EncryptDocument(ctx, []byte("data"), interfaces.DocumentMetadata{})
	require.ErrorIs(t, err, interfaces.ErrExpired)
	require.Equal(t, StateLocked, c.State())

	// Unlocking again restores service.
	require.NoError(t, c.Unlock(ctx, []byte("pw")))
	_, err = c.EncryptDocument(ctx, []byte("data"), interfaces.DocumentMetadata{})
	require.NoError(t, err)
}

func TestEscrowEnvelopeProducedWhenConfigured(t *testing.T) {
	ctx := context.Background()
	escrowPub := testEscrowPublicKey(t)

	c, store := newTestClient(t, func(cfg *Config) {
		cfg.EscrowPublicKey = escrowPub
		cfg.EscrowKeyID = "org-escrow-1"
	})
	require.NoError(t, c.CreateAccount(ctx, []byte("pw")))
	require.NoError(t, c.Unlock(ctx, []byte("pw")))

	result, err := c.EncryptDocument(ctx, []byte("escrowed"), interfaces.DocumentMetadata{})
	require.NoError(t, err)

	escrowEnv, err := store.GetEnvelope(ctx, result.EscrowKeyID)
	require.NoError(t, err)
	require.Equal(t, interfaces.AlgorithmECIESP256, escrowEnv.WrapAlgorithm)
	require.Equal(t, interfaces.EscrowKeyRef("org-escrow-1"), escrowEnv.WrappingKeyRef)

	// Both envelopes reference the same document.
	envelopes, err := store.GetEnvelopes(ctx, result.DocumentID)
	require.NoError(t, err)
	require.Len(t, envelopes, 2)
}

func TestCreateShareAndValidateEndToEnd(t *testing.T) {
	ctx := context.Background()
	c, store := unlockedClient(t, []byte("owner-pw"))

	result, err := c.EncryptDocument(ctx, []byte("shared doc"), interfaces.DocumentMetadata{Filename: "s.txt"})
	require.NoError(t, err)

	grant, err := c.CreateShare(ctx, result.DocumentID, []byte("guest-pw"), share.Options{})
	require.NoError(t, err)

	// A recipient with only the grant, the envelope and the password
	// can validate, without the owner's master key.
	recipient := share.NewService(store, c.cfg.Blobs, slog.Default())
	env, err := store.GetEnvelope(ctx, grant.KeyEnvelopeID)
	require.NoError(t, err)

	ok, err := recipient.ValidatePassword(ctx, env, grant, []byte("guest-pw"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = recipient.ValidatePassword(ctx, env, grant, []byte("owner-pw"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRotateKeys(t *testing.T) {
	ctx := context.Background()
	c, store := unlockedClient(t, []byte("old-pw"))

	var results []*EncryptResult
	for i := 0; i < 3; i++ {
		r, err := c.EncryptDocument(ctx, []byte("doc"), interfaces.DocumentMetadata{})
		require.NoError(t, err)
		results = append(results, r)
	}

	rotated, err := c.RotateKeys(ctx, []byte("new-pw"))
	require.NoError(t, err)
	require.Len(t, rotated.Succeeded, 3)
	require.Empty(t, rotated.Failed)

	// The account record moved to version 2 with a new verifier.
	account, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint32(2), account.MasterKeyVersion)

	// The running session keeps working on the new key.
	doc, err := c.DecryptDocument(ctx, results[0].DocumentID)
	require.NoError(t, err)
	require.Equal(t, []byte("doc"), doc.Plaintext)

	// A fresh client unlocks with the new password, not the old one.
	fresh, err := New(Config{
		AccountID: "alice",
		Store:     store,
		Blobs:     c.cfg.Blobs,
		Log:       slog.Default(),
	})
	require.NoError(t, err)
	defer fresh.Close()

	err = fresh.Unlock(ctx, []byte("old-pw"))
	require.ErrorIs(t, err, interfaces.ErrInvalidCredentials)
	require.NoError(t, fresh.Unlock(ctx, []byte("new-pw")))

	doc, err = fresh.DecryptContainer(ctx, results[1].DocumentID, results[1].ContainerID)
	require.NoError(t, err)
	require.Equal(t, []byte("doc"), doc.Plaintext)
}

func TestRotateKeysLeavesSharesIntact(t *testing.T) {
	ctx := context.Background()
	c, store := unlockedClient(t, []byte("old-pw"))

	result, err := c.EncryptDocument(ctx, []byte("shared"), interfaces.DocumentMetadata{})
	require.NoError(t, err)
	grant, err := c.CreateShare(ctx, result.DocumentID, []byte("guest-pw"), share.Options{})
	require.NoError(t, err)

	_, err = c.RotateKeys(ctx, []byte("new-pw"))
	require.NoError(t, err)

	// Share envelopes are wrapped under share keys, not the master key,
	// so rotation must not have touched them.
	recipient := share.NewService(store, c.cfg.Blobs, slog.Default())
	env, err := store.GetEnvelope(ctx, grant.KeyEnvelopeID)
	require.NoError(t, err)
	ok, err := recipient.ValidatePassword(ctx, env, grant, []byte("guest-pw"))
	require.NoError(t, err)
	require.True(t, ok)
}
