// Package client is the facade tying the crypto core together for a
// single authenticated session: account unlock, document encrypt and
// decrypt, password shares and master-key rotation. Collaborating UIs
// only ever see this package, session handles and typed results; raw
// key material never crosses the facade boundary.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docsafe/docsafe/container"
	"github.com/docsafe/docsafe/cryptoutils"
	"github.com/docsafe/docsafe/envelope"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/docsafe/docsafe/masterkey"
	"github.com/docsafe/docsafe/rotation"
	"github.com/docsafe/docsafe/session"
	"github.com/docsafe/docsafe/share"
	"github.com/google/uuid"
)

// State is the session lifecycle of the client.
type State string

const (
	StateLocked    State = "locked"
	StateUnlocking State = "unlocking"
	StateUnlocked  State = "unlocked"
)

// Config wires the client to its collaborators.
type Config struct {
	// AccountID selects the account record in the escrow store.
	AccountID string

	// Store persists envelopes, grants and the account record.
	Store interfaces.EscrowStore

	// Blobs stores encrypted containers.
	Blobs interfaces.BlobStore

	// EscrowPublicKey, when set, is the PEM-encoded admin escrow public
	// key. Every encrypted document then also gets an escrow envelope.
	EscrowPublicKey []byte

	// EscrowKeyID labels the escrow key in envelope references.
	EscrowKeyID string

	// SessionTTL bounds how long an unlocked master key stays cached.
	// Zero means no expiry until Lock or Close.
	SessionTTL time.Duration

	// Algorithm is the cipher for new containers and envelopes. Zero
	// value defaults to AES-256-GCM.
	Algorithm interfaces.Algorithm

	// RotationWorkers bounds rewrap parallelism during RotateKeys.
	RotationWorkers int

	Log *slog.Logger
}

// EncryptResult describes a freshly encrypted document.
type EncryptResult struct {
	DocumentID  uuid.UUID
	ContainerID interfaces.ContainerID
	KeyID       uuid.UUID

	// EscrowKeyID is the id of the escrow envelope, or Nil when no
	// escrow key is configured.
	EscrowKeyID uuid.UUID
}

// Document is a decrypted document.
type Document struct {
	Plaintext []byte
	Metadata  interfaces.DocumentMetadata
}

// Client is the per-session facade. Exactly one session cache exists per
// client; all key state lives there and is zeroed on Lock and Close.
type Client struct {
	cfg     Config
	cache   *session.Cache
	keys    *masterkey.Manager
	shares  *share.Service
	rotator *rotation.Service
	log     *slog.Logger

	mu         sync.Mutex
	state      State
	handle     session.Handle
	account    *interfaces.AccountRecord
	containers map[uuid.UUID]interfaces.ContainerID
}

// New creates a locked client.
func New(cfg Config) (*Client, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("%w: missing account id", interfaces.ErrInvalidParams)
	}
	if cfg.Store == nil || cfg.Blobs == nil {
		return nil, fmt.Errorf("%w: missing store or blob backend", interfaces.ErrInvalidParams)
	}
	if cfg.Algorithm == 0 {
		cfg.Algorithm = interfaces.AlgorithmAES256GCM
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	cache := session.New(cfg.Log)
	return &Client{
		cfg:        cfg,
		cache:      cache,
		keys:       masterkey.NewManager(cache, cfg.Log),
		shares:     share.NewService(cfg.Store, cfg.Blobs, cfg.Log),
		rotator:    rotation.NewService(cfg.RotationWorkers, cfg.Log),
		log:        cfg.Log,
		state:      StateLocked,
		containers: make(map[uuid.UUID]interfaces.ContainerID),
	}, nil
}

// State reports the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CreateAccount provisions a new account record: fresh KDF parameters,
// a verifier for the derived master key, version 1. Fails with
// ErrRecordConflict if the account already exists.
func (c *Client) CreateAccount(ctx context.Context, password []byte) error {
	params := interfaces.NewKeyDerivationParams()
	key, err := c.keys.Derive(ctx, password, params)
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(key)

	verifier, err := c.keys.NewVerifier(key)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	account := &interfaces.AccountRecord{
		AccountID:        c.cfg.AccountID,
		KDFParams:        params,
		Verifier:         verifier,
		MasterKeyVersion: 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := c.cfg.Store.PutAccount(ctx, account); err != nil {
		return err
	}

	c.log.Info("Created account", slog.String("account_id", c.cfg.AccountID))
	return nil
}

// Unlock derives the master key from password using the account's stored
// KDF parameters, checks it against the stored verifier, and installs it
// into the session cache. A wrong password is ErrInvalidCredentials.
// Cancelling ctx aborts the derivation without leaving partial key state.
func (c *Client) Unlock(ctx context.Context, password []byte) error {
	c.mu.Lock()
	if c.state == StateUnlocked {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateUnlocking {
		c.mu.Unlock()
		return fmt.Errorf("%w: unlock already in progress", interfaces.ErrInvalidParams)
	}
	c.state = StateUnlocking
	c.mu.Unlock()

	account, err := c.cfg.Store.GetAccount(ctx, c.cfg.AccountID)
	if err != nil {
		c.setState(StateLocked)
		return err
	}

	handle, err := c.keys.Unlock(ctx, password, account.KDFParams, account.Verifier, c.cfg.SessionTTL)
	if err != nil {
		c.setState(StateLocked)
		return err
	}

	c.mu.Lock()
	c.handle = handle
	c.account = account
	c.state = StateUnlocked
	c.mu.Unlock()

	c.log.Info("Session unlocked",
		slog.String("account_id", c.cfg.AccountID),
		slog.Uint64("master_key_version", uint64(account.MasterKeyVersion)))
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Lock clears the cached master key and returns the client to the
// locked state. Safe to call in any state.
func (c *Client) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUnlocked {
		c.cache.Clear(c.handle)
	}
	c.handle = 0
	c.account = nil
	c.state = StateLocked
}

// Close zeroes all cached key state. The client is unusable afterwards.
func (c *Client) Close() {
	c.Lock()
	c.cache.Close()
}

// masterKey returns the cached master key and the account record. The
// returned slice is borrowed from the cache; callers must not retain it.
func (c *Client) masterKey() ([]byte, *interfaces.AccountRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnlocked {
		return nil, nil, fmt.Errorf("%w: session locked", interfaces.ErrInvalidCredentials)
	}
	key, err := c.cache.Get(c.handle)
	if err != nil {
		// TTL expiry forces a full re-derivation.
		c.handle = 0
		c.account = nil
		c.state = StateLocked
		return nil, nil, err
	}
	return key, c.account, nil
}

// EncryptDocument seals plaintext and metadata into a container, stores
// it in the blob store, and persists a key envelope wrapped under the
// current master key. When an escrow public key is configured a second,
// encrypt-only escrow envelope is persisted alongside.
func (c *Client) EncryptDocument(ctx context.Context, plaintext []byte, meta interfaces.DocumentMetadata) (*EncryptResult, error) {
	masterKey, account, err := c.masterKey()
	if err != nil {
		return nil, err
	}

	documentKey, err := cryptoutils.RandomKey()
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(documentKey)

	blob, err := container.Encode(plaintext, meta, documentKey, c.cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	containerID, err := c.cfg.Blobs.Put(ctx, blob)
	if err != nil {
		return nil, err
	}

	documentID := uuid.New()
	env, err := envelope.Wrap(documentKey, masterKey, documentID,
		interfaces.MasterKeyRef(account.MasterKeyVersion), c.cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Store.PutEnvelope(ctx, env); err != nil {
		return nil, err
	}

	result := &EncryptResult{
		DocumentID:  documentID,
		ContainerID: containerID,
		KeyID:       env.KeyID,
	}

	if len(c.cfg.EscrowPublicKey) > 0 {
		escrowEnv, err := envelope.WrapForEscrow(documentKey, c.cfg.EscrowPublicKey,
			documentID, c.cfg.EscrowKeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to create escrow envelope: %w", err)
		}
		if err := c.cfg.Store.PutEnvelope(ctx, escrowEnv); err != nil {
			return nil, err
		}
		result.EscrowKeyID = escrowEnv.KeyID
	}

	c.mu.Lock()
	c.containers[documentID] = containerID
	c.mu.Unlock()

	c.log.Info("Encrypted document",
		slog.String("document_id", documentID.String()),
		slog.String("container_id", containerID.String()),
		slog.Int("size", len(plaintext)))
	return result, nil
}

// DecryptDocument fetches and opens a document encrypted in this
// session. For documents from earlier sessions use DecryptContainer with
// an explicit container id.
func (c *Client) DecryptDocument(ctx context.Context, documentID uuid.UUID) (*Document, error) {
	c.mu.Lock()
	containerID, ok := c.containers[documentID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no container known for document %s", interfaces.ErrRecordNotFound, documentID)
	}
	return c.DecryptContainer(ctx, documentID, containerID)
}

// DecryptContainer unwraps the document key from the document's active
// master envelope and decodes the container.
func (c *Client) DecryptContainer(ctx context.Context, documentID uuid.UUID, containerID interfaces.ContainerID) (*Document, error) {
	masterKey, account, err := c.masterKey()
	if err != nil {
		return nil, err
	}

	env, err := c.activeMasterEnvelope(ctx, documentID, account.MasterKeyVersion)
	if err != nil {
		return nil, err
	}

	documentKey, err := envelope.Unwrap(env, masterKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(documentKey)

	blob, err := c.cfg.Blobs.Get(ctx, containerID)
	if err != nil {
		return nil, err
	}

	plaintext, meta, err := container.Decode(blob, documentKey)
	if err != nil {
		return nil, err
	}
	return &Document{Plaintext: plaintext, Metadata: meta}, nil
}

// activeMasterEnvelope finds the document's active envelope under the
// current master-key version.
func (c *Client) activeMasterEnvelope(ctx context.Context, documentID uuid.UUID, version uint32) (*interfaces.KeyEnvelope, error) {
	envelopes, err := c.cfg.Store.GetEnvelopes(ctx, documentID)
	if err != nil {
		return nil, err
	}

	want := interfaces.MasterKeyRef(version)
	var fallback *interfaces.KeyEnvelope
	for _, env := range envelopes {
		if env.Status != interfaces.EnvelopeActive ||
			env.WrappingKeyRef.Kind != interfaces.WrappingKeyMaster {
			continue
		}
		if env.WrappingKeyRef.Equal(want) {
			return env, nil
		}
		fallback = env
	}
	if fallback != nil {
		// An active envelope under another version means an unfinished
		// rotation; let the unwrap attempt report the mismatch.
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: no active master envelope for document %s", interfaces.ErrKeyNotFound, documentID)
}

// CreateShare wraps the document's key under a password-derived share
// key with independent KDF parameters.
func (c *Client) CreateShare(ctx context.Context, documentID uuid.UUID, sharePassword []byte, opts share.Options) (*interfaces.ShareGrant, error) {
	masterKey, account, err := c.masterKey()
	if err != nil {
		return nil, err
	}

	env, err := c.activeMasterEnvelope(ctx, documentID, account.MasterKeyVersion)
	if err != nil {
		return nil, err
	}

	documentKey, err := envelope.Unwrap(env, masterKey)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(documentKey)

	grant, _, err := c.shares.CreatePasswordShare(ctx, documentID, documentKey, sharePassword, opts)
	return grant, err
}

// RevokeShare revokes a share grant and its envelope.
func (c *Client) RevokeShare(ctx context.Context, shareID uuid.UUID) error {
	return c.shares.RevokeShare(ctx, shareID)
}

// RotateKeys re-derives the master key from newPassword with fresh KDF
// parameters, rewraps every envelope under the old master key, updates
// the account's verifier and version, and reinstalls the new key into
// the session. Container payloads are untouched.
//
// Per-item rewrap failures do not abort the rotation; they are reported
// in the returned result and the affected envelopes keep their old
// wrapped value, still openable with the old password.
func (c *Client) RotateKeys(ctx context.Context, newPassword []byte) (*rotation.Result, error) {
	oldKey, account, err := c.masterKey()
	if err != nil {
		return nil, err
	}

	// Hold a private copy; the cached slice dies with the old session.
	oldCopy := append([]byte(nil), oldKey...)
	defer cryptoutils.Zero(oldCopy)

	newParams := interfaces.NewKeyDerivationParams()
	newKey, err := c.keys.Derive(ctx, newPassword, newParams)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(newKey)

	newVerifier, err := c.keys.NewVerifier(newKey)
	if err != nil {
		return nil, err
	}

	oldRef := interfaces.MasterKeyRef(account.MasterKeyVersion)
	newRef := interfaces.MasterKeyRef(account.MasterKeyVersion + 1)

	result, err := c.rotator.RotateAndPersist(ctx, c.cfg.Store, oldCopy, newKey, oldRef, newRef)
	if err != nil {
		return nil, err
	}

	account.KDFParams = newParams
	account.Verifier = newVerifier
	account.MasterKeyVersion++
	account.UpdatedAt = time.Now().UTC()
	if err := c.cfg.Store.PutAccount(ctx, account); err != nil {
		return result, fmt.Errorf("rotation rewrapped %d envelopes but account update failed: %w",
			len(result.Succeeded), err)
	}

	// Swap the session over to the new key.
	c.mu.Lock()
	c.cache.Clear(c.handle)
	c.handle = c.cache.Install(newKey, c.cfg.SessionTTL)
	c.account = account
	c.mu.Unlock()

	c.log.Info("Rotated master key",
		slog.String("account_id", c.cfg.AccountID),
		slog.Uint64("new_version", uint64(account.MasterKeyVersion)),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}
