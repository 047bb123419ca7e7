// Package masterkey derives and installs the user's master key.
//
// The manager runs the Argon2id derivation with persisted parameters,
// optionally checks the result against a stored verifier, and on success
// installs the key into the session cache. Callers only ever receive a
// session handle, never the raw key.
package masterkey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/docsafe/docsafe/session"
)

// Manager derives master keys and owns their installation into the
// session cache.
type Manager struct {
	cache *session.Cache
	log   *slog.Logger
}

// NewManager creates a manager bound to a session cache.
func NewManager(cache *session.Cache, log *slog.Logger) *Manager {
	return &Manager{cache: cache, log: log}
}

// Derive runs the KDF and returns the raw 32-byte master key. Derivation
// is deterministic for identical inputs and fails only on malformed
// parameters or context cancellation; it cannot tell a wrong password
// from a right one on its own. Most callers want Unlock instead.
func (m *Manager) Derive(ctx context.Context, password []byte, params interfaces.KeyDerivationParams) ([]byte, error) {
	start := time.Now()
	key, err := cryptoutils.DeriveKey(ctx, password, params)
	if err != nil {
		return nil, err
	}

	if m.log != nil {
		m.log.Debug("Derived master key",
			slog.Duration("duration", time.Since(start)),
			slog.Uint64("memory_kib", uint64(params.MemoryKiB)))
	}
	return key, nil
}

// VerifyAgainstEscrow checks a derived key against the stored verifier
// tag. This distinguishes "wrong password" from "corrupted envelope"
// before any envelope unwrap is attempted, producing a fast and clear
// failure. An empty verifier verifies as true: accounts created before
// verifiers existed fall back to unwrap-time detection.
func (m *Manager) VerifyAgainstEscrow(masterKey, verifier []byte) bool {
	if len(verifier) == 0 {
		return true
	}
	return cryptoutils.VerifyKey(masterKey, verifier)
}

// Unlock derives the master key, verifies it, and installs it into the
// session cache with the given TTL. The raw key is zeroed before Unlock
// returns; the handle is the only way to reach it afterwards. A verifier
// mismatch is ErrInvalidCredentials.
func (m *Manager) Unlock(ctx context.Context, password []byte, params interfaces.KeyDerivationParams, verifier []byte, ttl time.Duration) (session.Handle, error) {
	key, err := m.Derive(ctx, password, params)
	if err != nil {
		return 0, err
	}
	defer cryptoutils.Zero(key)

	if !m.VerifyAgainstEscrow(key, verifier) {
		return 0, fmt.Errorf("%w: master key verifier mismatch", interfaces.ErrInvalidCredentials)
	}

	return m.cache.Install(key, ttl), nil
}

// NewVerifier derives a fresh verifier tag for a master key, for storage
// in the account record.
func (m *Manager) NewVerifier(masterKey []byte) ([]byte, error) {
	return cryptoutils.NewVerifier(masterKey)
}
