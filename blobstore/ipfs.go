package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docsafe/docsafe/interfaces"
	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSBackend stores containers on an IPFS node. Containers are keyed in
// the node's mutable file system under their content id so lookups by
// ContainerID work without a separate CID mapping.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	rootDir     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS blob store connected to the node API at
// the given host and port.
func NewIPFSBackend(host, port, rootDir string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	if rootDir == "" {
		rootDir = "/containers"
	}
	rootDir = "/" + strings.Trim(rootDir, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		rootDir:     rootDir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, rootDir),
	}, nil
}

func (b *IPFSBackend) filePath(id interfaces.ContainerID) string {
	return b.rootDir + "/" + id.String()
}

// Get retrieves a container from the IPFS node by its content id.
func (b *IPFSBackend) Get(ctx context.Context, id interfaces.ContainerID) ([]byte, error) {
	start := time.Now()
	path := b.filePath(id)

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, path)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "file does not exist") {
			return nil, fmt.Errorf("%w: container %s", interfaces.ErrRecordNotFound, id)
		}
		b.log.Error("Failed to read container from IPFS",
			slog.String("path", path),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read container from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read container from IPFS: %w", err)
	}

	if got := interfaces.ComputeContainerID(data); !got.Equal(id) {
		return nil, fmt.Errorf("%w: container %s hash mismatch", interfaces.ErrCorrupted, id)
	}

	b.log.Debug("Fetched container from IPFS",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Put stores a container on the IPFS node and returns its content id.
func (b *IPFSBackend) Put(ctx context.Context, data []byte) (interfaces.ContainerID, error) {
	id := interfaces.ComputeContainerID(data)
	path := b.filePath(id)

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, path, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("failed to write container to IPFS: %w", err)
	}

	b.log.Debug("Stored container in IPFS",
		slog.String("path", path),
		slog.String("container_id", id.String()))
	return id, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI identifying this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
