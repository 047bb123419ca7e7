package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
)

// FileStore persists escrow records as JSON files on the local file
// system, organized in per-kind subdirectories. The full record set is
// loaded into an in-memory working set at startup; reads are served
// from memory and writes go through the working set first so version
// checks happen before anything touches disk.
type FileStore struct {
	baseDir string
	log     *slog.Logger
	mem     *MemoryStore
}

const (
	envelopeDir = "envelopes"
	grantDir    = "grants"
	accountDir  = "accounts"
)

// NewFileStore creates a file-backed escrow store rooted at baseDir,
// creating the directory layout if needed and loading any existing
// records into the in-memory working set.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, sub := range []string{envelopeDir, grantDir, accountDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	s := &FileStore{
		baseDir: baseDir,
		log:     log,
		mem:     NewMemoryStore(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	if err := loadDir(filepath.Join(s.baseDir, envelopeDir), func(env *interfaces.KeyEnvelope) {
		s.mem.envelopes[env.KeyID] = env
	}); err != nil {
		return err
	}
	if err := loadDir(filepath.Join(s.baseDir, grantDir), func(g *interfaces.ShareGrant) {
		s.mem.grants[g.ShareID] = g
	}); err != nil {
		return err
	}
	if err := loadDir(filepath.Join(s.baseDir, accountDir), func(a *interfaces.AccountRecord) {
		s.mem.accounts[a.AccountID] = a
	}); err != nil {
		return err
	}

	s.log.Debug("Loaded escrow records from disk",
		slog.String("dir", s.baseDir),
		slog.Int("envelopes", len(s.mem.envelopes)),
		slog.Int("grants", len(s.mem.grants)),
		slog.Int("accounts", len(s.mem.accounts)))
	return nil
}

func loadDir[T any](dir string, add func(*T)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read record %s: %w", entry.Name(), err)
		}
		rec := new(T)
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to parse record %s: %w", entry.Name(), err)
		}
		add(rec)
	}
	return nil
}

func (s *FileStore) writeRecord(sub, name string, rec any) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	// Write-then-rename so a crash never leaves a half-written record.
	path := filepath.Join(s.baseDir, sub, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}

// PutEnvelope creates or updates an envelope record on disk.
func (s *FileStore) PutEnvelope(ctx context.Context, env *interfaces.KeyEnvelope) error {
	if err := s.mem.PutEnvelope(ctx, env); err != nil {
		return err
	}
	return s.writeRecord(envelopeDir, env.KeyID.String(), env)
}

// GetEnvelope retrieves a single envelope by key id.
func (s *FileStore) GetEnvelope(ctx context.Context, keyID uuid.UUID) (*interfaces.KeyEnvelope, error) {
	return s.mem.GetEnvelope(ctx, keyID)
}

// GetEnvelopes retrieves all envelopes for a document.
func (s *FileStore) GetEnvelopes(ctx context.Context, documentID uuid.UUID) ([]*interfaces.KeyEnvelope, error) {
	return s.mem.GetEnvelopes(ctx, documentID)
}

// EnvelopesByRef retrieves all envelopes wrapped under the given reference.
func (s *FileStore) EnvelopesByRef(ctx context.Context, ref interfaces.WrappingKeyRef) ([]*interfaces.KeyEnvelope, error) {
	return s.mem.EnvelopesByRef(ctx, ref)
}

// RevokeEnvelope flips an envelope's status to revoked.
func (s *FileStore) RevokeEnvelope(ctx context.Context, keyID uuid.UUID) error {
	if err := s.mem.RevokeEnvelope(ctx, keyID); err != nil {
		return err
	}
	env, err := s.mem.GetEnvelope(ctx, keyID)
	if err != nil {
		return err
	}
	return s.writeRecord(envelopeDir, keyID.String(), env)
}

// PutGrant creates or updates a share grant on disk.
func (s *FileStore) PutGrant(ctx context.Context, grant *interfaces.ShareGrant) error {
	if err := s.mem.PutGrant(ctx, grant); err != nil {
		return err
	}
	return s.writeRecord(grantDir, grant.ShareID.String(), grant)
}

// GetGrant retrieves a share grant by share id.
func (s *FileStore) GetGrant(ctx context.Context, shareID uuid.UUID) (*interfaces.ShareGrant, error) {
	return s.mem.GetGrant(ctx, shareID)
}

// RevokeGrant marks a grant revoked.
func (s *FileStore) RevokeGrant(ctx context.Context, shareID uuid.UUID) error {
	if err := s.mem.RevokeGrant(ctx, shareID); err != nil {
		return err
	}
	grant, err := s.mem.GetGrant(ctx, shareID)
	if err != nil {
		return err
	}
	return s.writeRecord(grantDir, shareID.String(), grant)
}

// PutAccount creates or updates an account record on disk.
func (s *FileStore) PutAccount(ctx context.Context, account *interfaces.AccountRecord) error {
	if err := s.mem.PutAccount(ctx, account); err != nil {
		return err
	}
	return s.writeRecord(accountDir, account.AccountID, account)
}

// GetAccount retrieves an account record.
func (s *FileStore) GetAccount(ctx context.Context, accountID string) (*interfaces.AccountRecord, error) {
	return s.mem.GetAccount(ctx, accountID)
}
