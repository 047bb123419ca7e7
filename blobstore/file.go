package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docsafe/docsafe/interfaces"
)

// FileBackend stores containers on the local file system. Blobs are
// sharded into subdirectories by the first byte of the content id so a
// large corpus does not end up in one flat directory.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file blob store rooted at baseDir, creating
// the directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) blobPath(id interfaces.ContainerID) string {
	hex := id.String()
	return filepath.Join(b.baseDir, hex[:2], hex)
}

// Get retrieves container bytes by content id.
func (b *FileBackend) Get(ctx context.Context, id interfaces.ContainerID) ([]byte, error) {
	path := b.blobPath(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: container %s", interfaces.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}

	// Containers are content-addressed; a hash mismatch means on-disk
	// corruption rather than absence.
	if got := interfaces.ComputeContainerID(data); !got.Equal(id) {
		b.log.Error("Container hash mismatch on disk",
			slog.String("path", path),
			slog.String("expected", id.String()),
			slog.String("actual", got.String()))
		return nil, fmt.Errorf("%w: container %s hash mismatch", interfaces.ErrCorrupted, id)
	}

	b.log.Debug("Fetched container from file",
		slog.String("path", path),
		slog.Int("size", len(data)))
	return data, nil
}

// Put saves container bytes and returns their content id.
func (b *FileBackend) Put(ctx context.Context, data []byte) (interfaces.ContainerID, error) {
	id := interfaces.ComputeContainerID(data)
	path := b.blobPath(id)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return id, fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return id, fmt.Errorf("failed to write container: %w", err)
	}

	b.log.Debug("Stored container in file",
		slog.String("path", path),
		slog.String("container_id", id.String()))
	return id, nil
}

// Available checks if the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI identifying this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
