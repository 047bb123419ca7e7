package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/docsafe/docsafe/interfaces"
)

// MemoryBackend stores containers in an in-process map.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[interfaces.ContainerID][]byte
}

// NewMemoryBackend creates an empty in-memory blob store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[interfaces.ContainerID][]byte)}
}

// Get retrieves container bytes by content id.
func (b *MemoryBackend) Get(ctx context.Context, id interfaces.ContainerID) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: container %s", interfaces.ErrRecordNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// Put saves container bytes and returns their content id.
func (b *MemoryBackend) Put(ctx context.Context, data []byte) (interfaces.ContainerID, error) {
	id := interfaces.ComputeContainerID(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

// Available always reports true for the in-memory backend.
func (b *MemoryBackend) Available(ctx context.Context) bool { return true }

// Name returns an identifier for logging.
func (b *MemoryBackend) Name() string { return "memory" }

// LocationURI returns the URI identifying this backend.
func (b *MemoryBackend) LocationURI() string { return "memory://" }
