package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
)

// MemoryStore is an in-process escrow store. All records are deep-copied
// on the way in and out so callers can never mutate stored state through
// a retained pointer.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[uuid.UUID]*interfaces.KeyEnvelope
	grants    map[uuid.UUID]*interfaces.ShareGrant
	accounts  map[string]*interfaces.AccountRecord
}

// NewMemoryStore creates an empty in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[uuid.UUID]*interfaces.KeyEnvelope),
		grants:    make(map[uuid.UUID]*interfaces.ShareGrant),
		accounts:  make(map[string]*interfaces.AccountRecord),
	}
}

// PutEnvelope creates or updates an envelope record. The envelope's
// RecordVersion must match the stored version (zero for a new record);
// on success the stored version is incremented and written back into env.
func (s *MemoryStore) PutEnvelope(ctx context.Context, env *interfaces.KeyEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.envelopes[env.KeyID]
	if err := checkVersion(exists, versionOf(current), env.RecordVersion); err != nil {
		return fmt.Errorf("envelope %s: %w", env.KeyID, err)
	}

	cp := env.Clone()
	cp.RecordVersion++
	s.envelopes[env.KeyID] = cp
	env.RecordVersion = cp.RecordVersion
	return nil
}

// GetEnvelope retrieves a single envelope by key id.
func (s *MemoryStore) GetEnvelope(ctx context.Context, keyID uuid.UUID) (*interfaces.KeyEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: envelope %s", interfaces.ErrRecordNotFound, keyID)
	}
	return env.Clone(), nil
}

// GetEnvelopes retrieves all envelopes for a document, regardless of status.
func (s *MemoryStore) GetEnvelopes(ctx context.Context, documentID uuid.UUID) ([]*interfaces.KeyEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*interfaces.KeyEnvelope
	for _, env := range s.envelopes {
		if env.DocumentID == documentID {
			out = append(out, env.Clone())
		}
	}
	return out, nil
}

// EnvelopesByRef retrieves all envelopes wrapped under the given reference.
func (s *MemoryStore) EnvelopesByRef(ctx context.Context, ref interfaces.WrappingKeyRef) ([]*interfaces.KeyEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*interfaces.KeyEnvelope
	for _, env := range s.envelopes {
		if env.WrappingKeyRef.Equal(ref) {
			out = append(out, env.Clone())
		}
	}
	return out, nil
}

// RevokeEnvelope flips an envelope's status to revoked. Revoking an
// already revoked envelope is a no-op.
func (s *MemoryStore) RevokeEnvelope(ctx context.Context, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[keyID]
	if !ok {
		return fmt.Errorf("%w: envelope %s", interfaces.ErrRecordNotFound, keyID)
	}
	env.Status = interfaces.EnvelopeRevoked
	env.RecordVersion++
	return nil
}

// PutGrant creates or updates a share grant under the same versioning
// rules as PutEnvelope.
func (s *MemoryStore) PutGrant(ctx context.Context, grant *interfaces.ShareGrant) error {
	if grant == nil || grant.ShareID == uuid.Nil {
		return fmt.Errorf("%w: grant missing share id", interfaces.ErrInvalidParams)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.grants[grant.ShareID]
	var currentVersion uint64
	if exists {
		currentVersion = current.RecordVersion
	}
	if err := checkVersion(exists, currentVersion, grant.RecordVersion); err != nil {
		return fmt.Errorf("grant %s: %w", grant.ShareID, err)
	}

	cp := cloneGrant(grant)
	cp.RecordVersion++
	s.grants[grant.ShareID] = cp
	grant.RecordVersion = cp.RecordVersion
	return nil
}

// GetGrant retrieves a share grant by share id.
func (s *MemoryStore) GetGrant(ctx context.Context, shareID uuid.UUID) (*interfaces.ShareGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[shareID]
	if !ok {
		return nil, fmt.Errorf("%w: grant %s", interfaces.ErrRecordNotFound, shareID)
	}
	return cloneGrant(grant), nil
}

// RevokeGrant marks a grant revoked.
func (s *MemoryStore) RevokeGrant(ctx context.Context, shareID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[shareID]
	if !ok {
		return fmt.Errorf("%w: grant %s", interfaces.ErrRecordNotFound, shareID)
	}
	grant.Revoked = true
	grant.RecordVersion++
	return nil
}

// PutAccount creates or updates an account record.
func (s *MemoryStore) PutAccount(ctx context.Context, account *interfaces.AccountRecord) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("%w: account missing id", interfaces.ErrInvalidParams)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.accounts[account.AccountID]
	var currentVersion uint64
	if exists {
		currentVersion = current.RecordVersion
	}
	if err := checkVersion(exists, currentVersion, account.RecordVersion); err != nil {
		return fmt.Errorf("account %s: %w", account.AccountID, err)
	}

	cp := cloneAccount(account)
	cp.RecordVersion++
	s.accounts[account.AccountID] = cp
	account.RecordVersion = cp.RecordVersion
	return nil
}

// GetAccount retrieves an account record.
func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (*interfaces.AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", interfaces.ErrRecordNotFound, accountID)
	}
	return cloneAccount(account), nil
}

func versionOf(env *interfaces.KeyEnvelope) uint64 {
	if env == nil {
		return 0
	}
	return env.RecordVersion
}

func checkVersion(exists bool, current, presented uint64) error {
	if !exists && presented != 0 {
		return fmt.Errorf("%w: record does not exist at version %d", interfaces.ErrRecordConflict, presented)
	}
	if exists && presented != current {
		return fmt.Errorf("%w: stored version %d, presented %d", interfaces.ErrRecordConflict, current, presented)
	}
	return nil
}

func cloneGrant(g *interfaces.ShareGrant) *interfaces.ShareGrant {
	cp := *g
	cp.ShareKDFParams.Salt = append([]byte(nil), g.ShareKDFParams.Salt...)
	return &cp
}

func cloneAccount(a *interfaces.AccountRecord) *interfaces.AccountRecord {
	cp := *a
	cp.KDFParams.Salt = append([]byte(nil), a.KDFParams.Salt...)
	cp.Verifier = append([]byte(nil), a.Verifier...)
	return &cp
}
