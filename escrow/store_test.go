package escrow

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/envelope"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testEnvelope(t *testing.T) *interfaces.KeyEnvelope {
	t.Helper()

	documentKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)
	wrappingKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	env, err := envelope.Wrap(documentKey, wrappingKey, uuid.New(),
		interfaces.MasterKeyRef(1), interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)
	return env
}

// storeUnderTest lets the same contract tests run against every local backend.
func storesUnderTest(t *testing.T) map[string]interfaces.EscrowStore {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	return map[string]interfaces.EscrowStore{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestEnvelopeLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			env := testEnvelope(t)

			require.NoError(t, store.PutEnvelope(ctx, env))
			require.Equal(t, uint64(1), env.RecordVersion)

			got, err := store.GetEnvelope(ctx, env.KeyID)
			require.NoError(t, err)
			require.Equal(t, env.KeyID, got.KeyID)
			require.Equal(t, env.WrappedKey, got.WrappedKey)
			require.Equal(t, interfaces.EnvelopeActive, got.Status)

			// Lookup by document and by wrapping ref both find it.
			byDoc, err := store.GetEnvelopes(ctx, env.DocumentID)
			require.NoError(t, err)
			require.Len(t, byDoc, 1)

			byRef, err := store.EnvelopesByRef(ctx, interfaces.MasterKeyRef(1))
			require.NoError(t, err)
			require.Len(t, byRef, 1)

			require.NoError(t, store.RevokeEnvelope(ctx, env.KeyID))
			got, err = store.GetEnvelope(ctx, env.KeyID)
			require.NoError(t, err)
			require.Equal(t, interfaces.EnvelopeRevoked, got.Status)

			// Revocation never deletes; the record stays queryable.
			byDoc, err = store.GetEnvelopes(ctx, env.DocumentID)
			require.NoError(t, err)
			require.Len(t, byDoc, 1)
		})
	}
}

func TestEnvelopeVersionConflict(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			env := testEnvelope(t)
			require.NoError(t, store.PutEnvelope(ctx, env))

			// A writer holding a stale copy must be rejected.
			stale := env.Clone()
			stale.RecordVersion = 0
			err := store.PutEnvelope(ctx, stale)
			require.ErrorIs(t, err, interfaces.ErrRecordConflict)

			// The writer holding the current version succeeds.
			env.Status = interfaces.EnvelopeRotated
			require.NoError(t, store.PutEnvelope(ctx, env))
			require.Equal(t, uint64(2), env.RecordVersion)
		})
	}
}

func TestPutEnvelopeRejectsMalformed(t *testing.T) {
	store := NewMemoryStore()
	env := testEnvelope(t)
	env.WrappedKey = nil
	err := store.PutEnvelope(context.Background(), env)
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestGetEnvelopeNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetEnvelope(context.Background(), uuid.New())
			require.ErrorIs(t, err, interfaces.ErrRecordNotFound)
		})
	}
}

func TestStoredEnvelopeIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	env := testEnvelope(t)
	require.NoError(t, store.PutEnvelope(ctx, env))

	got, err := store.GetEnvelope(ctx, env.KeyID)
	require.NoError(t, err)

	// Mutating the returned copy must not affect the stored record.
	got.WrappedKey[0] ^= 0xFF
	again, err := store.GetEnvelope(ctx, env.KeyID)
	require.NoError(t, err)
	require.Equal(t, env.WrappedKey, again.WrappedKey)
}

func TestGrantLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			grant := &interfaces.ShareGrant{
				ShareID:        uuid.New(),
				KeyEnvelopeID:  uuid.New(),
				DocumentID:     uuid.New(),
				ShareKDFParams: interfaces.NewKeyDerivationParams(),
				ExpiresAt:      time.Now().Add(time.Hour).UTC(),
				MaxAccessCount: 3,
				CreatedAt:      time.Now().UTC(),
			}

			require.NoError(t, store.PutGrant(ctx, grant))
			require.Equal(t, uint64(1), grant.RecordVersion)

			got, err := store.GetGrant(ctx, grant.ShareID)
			require.NoError(t, err)
			require.Equal(t, grant.ShareID, got.ShareID)
			require.NoError(t, got.Usable(time.Now()))

			require.NoError(t, store.RevokeGrant(ctx, grant.ShareID))
			got, err = store.GetGrant(ctx, grant.ShareID)
			require.NoError(t, err)
			require.True(t, got.Revoked)
			require.Error(t, got.Usable(time.Now()))
		})
	}
}

func TestAccountLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			account := &interfaces.AccountRecord{
				AccountID:        "alice@example.com",
				KDFParams:        interfaces.NewKeyDerivationParams(),
				Verifier:         make([]byte, cryptoutils.VerifierSize),
				MasterKeyVersion: 1,
				CreatedAt:        time.Now().UTC(),
				UpdatedAt:        time.Now().UTC(),
			}

			if name == "file" {
				// File names come from the account id; keep it path-safe.
				account.AccountID = "alice"
			}

			require.NoError(t, store.PutAccount(ctx, account))

			got, err := store.GetAccount(ctx, account.AccountID)
			require.NoError(t, err)
			require.Equal(t, uint32(1), got.MasterKeyVersion)

			// Rotation bumps the version under the read record version.
			got.MasterKeyVersion = 2
			got.UpdatedAt = time.Now().UTC()
			require.NoError(t, store.PutAccount(ctx, got))

			stale := *account
			err = store.PutAccount(ctx, &stale)
			require.ErrorIs(t, err, interfaces.ErrRecordConflict)
		})
	}
}

func TestFileStoreReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)

	env := testEnvelope(t)
	require.NoError(t, store.PutEnvelope(ctx, env))

	// A fresh store over the same directory sees the persisted record.
	reloaded, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)

	got, err := reloaded.GetEnvelope(ctx, env.KeyID)
	require.NoError(t, err)
	require.Equal(t, env.WrappedKey, got.WrappedKey)
	require.Equal(t, env.RecordVersion, got.RecordVersion)
}

