package rotation

import (
	"context"
	"log/slog"
	"testing"

	"github.com/docsafe/docsafe/container"
	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/envelope"
	"github.com/docsafe/docsafe/escrow"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T) (oldKey, newKey []byte) {
	t.Helper()
	oldKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)
	newKey, err = cryptoutils.RandomKey()
	require.NoError(t, err)
	return oldKey, newKey
}

func wrapN(t *testing.T, n int, masterKey []byte) ([]*interfaces.KeyEnvelope, [][]byte) {
	t.Helper()
	envelopes := make([]*interfaces.KeyEnvelope, 0, n)
	keys := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		documentKey, err := cryptoutils.RandomKey()
		require.NoError(t, err)
		env, err := envelope.Wrap(documentKey, masterKey, uuid.New(),
			interfaces.MasterKeyRef(1), interfaces.AlgorithmAES256GCM)
		require.NoError(t, err)
		envelopes = append(envelopes, env)
		keys = append(keys, documentKey)
	}
	return envelopes, keys
}

func TestRotateMasterKey(t *testing.T) {
	oldKey, newKey := newKeys(t)
	envelopes, documentKeys := wrapN(t, 10, oldKey)

	svc := NewService(4, slog.Default())
	result := svc.RotateMasterKey(context.Background(), oldKey, newKey,
		interfaces.MasterKeyRef(2), envelopes)

	require.Len(t, result.Succeeded, 10)
	require.Empty(t, result.Failed)
	require.Empty(t, result.Skipped)

	// Every envelope now opens under the new key and carries the new ref.
	for i, env := range envelopes {
		require.Equal(t, interfaces.MasterKeyRef(2), env.WrappingKeyRef)
		got, err := envelope.Unwrap(env, newKey)
		require.NoError(t, err)
		require.Equal(t, documentKeys[i], got)

		_, err = envelope.Unwrap(env, oldKey)
		require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)
	}
}

func TestRotationNeverTouchesContainer(t *testing.T) {
	oldKey, newKey := newKeys(t)

	documentKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)
	blob, err := container.Encode([]byte("stable payload"),
		interfaces.DocumentMetadata{Filename: "a.txt", MimeType: "text/plain", Size: 14},
		documentKey, interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)
	originalBlob := append([]byte(nil), blob...)

	env, err := envelope.Wrap(documentKey, oldKey, uuid.New(),
		interfaces.MasterKeyRef(1), interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	svc := NewService(2, slog.Default())
	result := svc.RotateMasterKey(context.Background(), oldKey, newKey,
		interfaces.MasterKeyRef(2), []*interfaces.KeyEnvelope{env})
	require.Len(t, result.Succeeded, 1)

	// The container bytes are byte-for-byte identical after rotation
	// and still decode with the unwrapped document key.
	require.Equal(t, originalBlob, blob)

	unwrapped, err := envelope.Unwrap(env, newKey)
	require.NoError(t, err)
	plaintext, _, err := container.Decode(blob, unwrapped)
	require.NoError(t, err)
	require.Equal(t, []byte("stable payload"), plaintext)
}

func TestPartialFailureDoesNotAbortBatch(t *testing.T) {
	oldKey, newKey := newKeys(t)
	envelopes, _ := wrapN(t, 5, oldKey)

	// Corrupt one envelope so its rewrap must fail.
	bad := envelopes[2]
	bad.WrappedKey[0] ^= 0xFF
	badOriginal := bad.Clone()

	svc := NewService(4, slog.Default())
	result := svc.RotateMasterKey(context.Background(), oldKey, newKey,
		interfaces.MasterKeyRef(2), envelopes)

	require.Len(t, result.Succeeded, 4)
	require.Len(t, result.Failed, 1)
	require.Equal(t, bad.KeyID, result.Failed[0].KeyID)
	require.NotEmpty(t, result.Failed[0].Reason)

	// The failed envelope is untouched: same wrapped value, same ref.
	require.Equal(t, badOriginal.WrappedKey, bad.WrappedKey)
	require.Equal(t, badOriginal.WrappingKeyRef, bad.WrappingKeyRef)
}

func TestRotationSkipsNonMasterEnvelopes(t *testing.T) {
	oldKey, newKey := newKeys(t)

	documentKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)
	shareKey, err := cryptoutils.RandomKey()
	require.NoError(t, err)

	shareEnv, err := envelope.Wrap(documentKey, shareKey, uuid.New(),
		interfaces.ShareKeyRef(uuid.New()), interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)

	rotated, err := envelope.Wrap(documentKey, oldKey, uuid.New(),
		interfaces.MasterKeyRef(1), interfaces.AlgorithmAES256GCM)
	require.NoError(t, err)
	rotated.Status = interfaces.EnvelopeRotated

	svc := NewService(2, slog.Default())
	result := svc.RotateMasterKey(context.Background(), oldKey, newKey,
		interfaces.MasterKeyRef(2), []*interfaces.KeyEnvelope{shareEnv, rotated})

	require.Empty(t, result.Succeeded)
	require.Empty(t, result.Failed)
	require.Len(t, result.Skipped, 2)

	// The share envelope still opens under the share key.
	_, err = envelope.Unwrap(shareEnv, shareKey)
	require.NoError(t, err)
}

func TestRotateAndPersist(t *testing.T) {
	ctx := context.Background()
	oldKey, newKey := newKeys(t)
	store := escrow.NewMemoryStore()

	envelopes, documentKeys := wrapN(t, 3, oldKey)
	for _, env := range envelopes {
		require.NoError(t, store.PutEnvelope(ctx, env))
	}

	svc := NewService(2, slog.Default())
	result, err := svc.RotateAndPersist(ctx, store, oldKey, newKey,
		interfaces.MasterKeyRef(1), interfaces.MasterKeyRef(2))
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 3)
	require.Empty(t, result.Failed)

	// The persisted records all open under the new key.
	stored, err := store.EnvelopesByRef(ctx, interfaces.MasterKeyRef(2))
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, env := range stored {
		got, err := envelope.Unwrap(env, newKey)
		require.NoError(t, err)
		require.Contains(t, documentKeys, got)
	}

	// Nothing is left under the old reference.
	remaining, err := store.EnvelopesByRef(ctx, interfaces.MasterKeyRef(1))
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestConcurrentRotationOfLargeBatch(t *testing.T) {
	oldKey, newKey := newKeys(t)
	envelopes, _ := wrapN(t, 100, oldKey)

	svc := NewService(8, slog.Default())
	result := svc.RotateMasterKey(context.Background(), oldKey, newKey,
		interfaces.MasterKeyRef(2), envelopes)

	require.Len(t, result.Succeeded, 100)
	require.Empty(t, result.Failed)
	for _, env := range envelopes {
		_, err := envelope.Unwrap(env, newKey)
		require.NoError(t, err)
	}
}
