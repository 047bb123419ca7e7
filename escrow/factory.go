package escrow

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/docsafe/docsafe/interfaces"
)

// StoreFromURI creates an escrow store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process store, state lost on exit
//   - file:// - JSON records on the local file system
//   - vault:// - HashiCorp Vault KV v2 mount
//   - http:// or https:// - Remote escrow service
//
// Vault URIs carry the token in the userinfo part and the mount and data
// paths in the path: vault://TOKEN@host:8200/secret/docsafe
func StoreFromURI(locationURI string, log *slog.Logger) (interfaces.EscrowStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return nil, fmt.Errorf("%w: file URI has no path", interfaces.ErrInvalidLocationURI)
		}
		return NewFileStore(path, log)
	case "vault":
		return vaultStoreFromURI(u, log)
	case "http", "https":
		return NewRemoteStore(u.String()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported escrow scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

func vaultStoreFromURI(u *url.URL, log *slog.Logger) (*VaultStore, error) {
	if u.User == nil {
		return nil, fmt.Errorf("%w: vault URI requires a token", interfaces.ErrInvalidLocationURI)
	}
	token := u.User.Username()

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: vault URI requires /mount/path", interfaces.ErrInvalidLocationURI)
	}
	mountPath := parts[0]
	dataPath := strings.Join(parts[1:], "/")

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultStore(address, token, mountPath, dataPath, log)
}
