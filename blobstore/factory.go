package blobstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/docsafe/docsafe/interfaces"
)

// BackendFor creates a blob store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process store, state lost on exit
//   - file:// - Local file system
//   - s3:// - Amazon S3 or compatible object storage,
//     s3://KEY:SECRET@bucket/prefix?region=r&endpoint=e
//   - ipfs:// - IPFS node API, ipfs://host:port/rootdir
func BackendFor(locationURI string, log *slog.Logger) (interfaces.BlobStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return nil, fmt.Errorf("%w: file URI has no path", interfaces.ErrInvalidLocationURI)
		}
		return NewFileBackend(path, log)
	case "s3":
		return s3BackendFromURI(u, log)
	case "ipfs":
		port := u.Port()
		if port == "" {
			port = "5001"
		}
		return NewIPFSBackend(u.Hostname(), port, u.Path, log)
	default:
		return nil, fmt.Errorf("%w: unsupported blob scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

func s3BackendFromURI(u *url.URL, log *slog.Logger) (*S3Backend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI has no bucket", interfaces.ErrInvalidLocationURI)
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(bucket, strings.TrimPrefix(u.Path, "/"), region,
		u.Query().Get("endpoint"), accessKey, secretKey, log)
}
