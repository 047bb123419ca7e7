package blobstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/stretchr/testify/require"
)

func backendsUnderTest(t *testing.T) map[string]interfaces.BlobStore {
	t.Helper()

	fileBackend, err := NewFileBackend(t.TempDir(), slog.Default())
	require.NoError(t, err)

	return map[string]interfaces.BlobStore{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("opaque container bytes")

			id, err := backend.Put(ctx, data)
			require.NoError(t, err)
			require.Equal(t, interfaces.ComputeContainerID(data), id)

			got, err := backend.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, data, got)

			require.True(t, backend.Available(ctx))
		})
	}
}

func TestGetUnknownID(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			id := interfaces.ComputeContainerID([]byte("never stored"))
			_, err := backend.Get(context.Background(), id)
			require.ErrorIs(t, err, interfaces.ErrRecordNotFound)
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	for name, backend := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("same bytes twice")

			id1, err := backend.Put(ctx, data)
			require.NoError(t, err)
			id2, err := backend.Put(ctx, data)
			require.NoError(t, err)
			require.True(t, id1.Equal(id2))
		})
	}
}

func TestFileBackendDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, slog.Default())
	require.NoError(t, err)

	data := []byte("container that will rot on disk")
	id, err := backend.Put(ctx, data)
	require.NoError(t, err)

	// Flip a byte behind the backend's back.
	path := filepath.Join(dir, id.String()[:2], id.String())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0600))

	_, err = backend.Get(ctx, id)
	require.ErrorIs(t, err, interfaces.ErrCorrupted)
}

func TestBackendFor(t *testing.T) {
	log := slog.Default()

	backend, err := BackendFor("memory://", log)
	require.NoError(t, err)
	require.Equal(t, "memory", backend.Name())

	backend, err = BackendFor("file://"+t.TempDir(), log)
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, backend)

	backend, err = BackendFor("s3://bucket/prefix?region=eu-west-1", log)
	require.NoError(t, err)
	require.Equal(t, "s3-bucket", backend.Name())

	backend, err = BackendFor("ipfs://127.0.0.1:5001/containers", log)
	require.NoError(t, err)
	require.Equal(t, "ipfs-127.0.0.1-5001", backend.Name())

	_, err = BackendFor("gopher://example.com", log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
