package escrow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
)

// VaultStore persists escrow records in a HashiCorp Vault KV v2 mount.
// Each record is stored as a single KV entry holding the JSON-encoded
// record; optimistic concurrency maps directly onto KV v2 check-and-set,
// so conflicting writers are rejected by Vault itself rather than by a
// client-side lock.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault-backed escrow store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token used for authentication
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path prefix within the mount (e.g. "docsafe")
//   - log: structured logger
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (s *VaultStore) recordPath(kind, id string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", s.mountPath, s.dataPath, kind, id)
}

// putRecord writes a JSON-encoded record using KV v2 check-and-set. The
// presented version is the record's RecordVersion from the last read;
// Vault rejects the write with a CAS error when the stored version has
// moved on.
func (s *VaultStore) putRecord(ctx context.Context, kind, id string, rec any, presentedVersion uint64) (uint64, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	path := s.recordPath(kind, id)
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"record": base64.StdEncoding.EncodeToString(encoded),
		},
		"options": map[string]interface{}{
			"cas": presentedVersion,
		},
	}

	secret, err := s.client.Logical().WriteWithContext(ctx, path, payload)
	if err != nil {
		if strings.Contains(err.Error(), "check-and-set") {
			return 0, fmt.Errorf("%w: %s %s", interfaces.ErrRecordConflict, kind, id)
		}
		s.log.Error("Failed to write record to Vault",
			slog.String("path", path), "err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	newVersion := presentedVersion + 1
	if secret != nil && secret.Data != nil {
		if v, ok := secret.Data["version"].(json.Number); ok {
			if parsed, err := v.Int64(); err == nil {
				newVersion = uint64(parsed)
			}
		}
	}
	return newVersion, nil
}

func (s *VaultStore) getRecord(ctx context.Context, kind, id string, out any) (uint64, error) {
	path := s.recordPath(kind, id)
	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read record from Vault",
			slog.String("path", path), "err", err)
		return 0, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return 0, fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("invalid data format in Vault response for %s", path)
	}
	encoded, ok := data["record"].(string)
	if !ok {
		return 0, fmt.Errorf("record key not found in Vault data for %s", path)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, fmt.Errorf("failed to decode record %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return 0, fmt.Errorf("failed to parse record %s: %w", path, err)
	}

	var version uint64
	if meta, ok := secret.Data["metadata"].(map[string]interface{}); ok {
		if v, ok := meta["version"].(json.Number); ok {
			if parsed, err := v.Int64(); err == nil {
				version = uint64(parsed)
			}
		}
	}
	return version, nil
}

// listRecords enumerates record ids below a kind prefix.
func (s *VaultStore) listRecords(ctx context.Context, kind string) ([]string, error) {
	path := fmt.Sprintf("%s/metadata/%s/%s", s.mountPath, s.dataPath, kind)
	secret, err := s.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if str, ok := k.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

// PutEnvelope creates or updates an envelope record in Vault.
func (s *VaultStore) PutEnvelope(ctx context.Context, env *interfaces.KeyEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	version, err := s.putRecord(ctx, "envelopes", env.KeyID.String(), env, env.RecordVersion)
	if err != nil {
		return err
	}
	env.RecordVersion = version
	return nil
}

// GetEnvelope retrieves a single envelope by key id.
func (s *VaultStore) GetEnvelope(ctx context.Context, keyID uuid.UUID) (*interfaces.KeyEnvelope, error) {
	env := new(interfaces.KeyEnvelope)
	version, err := s.getRecord(ctx, "envelopes", keyID.String(), env)
	if err != nil {
		return nil, err
	}
	env.RecordVersion = version
	return env, nil
}

// GetEnvelopes retrieves all envelopes for a document. Vault KV has no
// secondary indexes, so this lists and filters the envelope prefix.
func (s *VaultStore) GetEnvelopes(ctx context.Context, documentID uuid.UUID) ([]*interfaces.KeyEnvelope, error) {
	return s.filterEnvelopes(ctx, func(env *interfaces.KeyEnvelope) bool {
		return env.DocumentID == documentID
	})
}

// EnvelopesByRef retrieves all envelopes wrapped under the given reference.
func (s *VaultStore) EnvelopesByRef(ctx context.Context, ref interfaces.WrappingKeyRef) ([]*interfaces.KeyEnvelope, error) {
	return s.filterEnvelopes(ctx, func(env *interfaces.KeyEnvelope) bool {
		return env.WrappingKeyRef.Equal(ref)
	})
}

func (s *VaultStore) filterEnvelopes(ctx context.Context, keep func(*interfaces.KeyEnvelope) bool) ([]*interfaces.KeyEnvelope, error) {
	ids, err := s.listRecords(ctx, "envelopes")
	if err != nil {
		return nil, err
	}
	var out []*interfaces.KeyEnvelope
	for _, id := range ids {
		keyID, err := uuid.Parse(id)
		if err != nil {
			s.log.Warn("Skipping malformed envelope id in Vault", slog.String("id", id))
			continue
		}
		env, err := s.GetEnvelope(ctx, keyID)
		if err != nil {
			return nil, err
		}
		if keep(env) {
			out = append(out, env)
		}
	}
	return out, nil
}

// RevokeEnvelope flips an envelope's status to revoked.
func (s *VaultStore) RevokeEnvelope(ctx context.Context, keyID uuid.UUID) error {
	env, err := s.GetEnvelope(ctx, keyID)
	if err != nil {
		return err
	}
	env.Status = interfaces.EnvelopeRevoked
	return s.PutEnvelope(ctx, env)
}

// PutGrant creates or updates a share grant in Vault.
func (s *VaultStore) PutGrant(ctx context.Context, grant *interfaces.ShareGrant) error {
	if grant == nil || grant.ShareID == uuid.Nil {
		return fmt.Errorf("%w: grant missing share id", interfaces.ErrInvalidParams)
	}
	version, err := s.putRecord(ctx, "grants", grant.ShareID.String(), grant, grant.RecordVersion)
	if err != nil {
		return err
	}
	grant.RecordVersion = version
	return nil
}

// GetGrant retrieves a share grant by share id.
func (s *VaultStore) GetGrant(ctx context.Context, shareID uuid.UUID) (*interfaces.ShareGrant, error) {
	grant := new(interfaces.ShareGrant)
	version, err := s.getRecord(ctx, "grants", shareID.String(), grant)
	if err != nil {
		return nil, err
	}
	grant.RecordVersion = version
	return grant, nil
}

// RevokeGrant marks a grant revoked.
func (s *VaultStore) RevokeGrant(ctx context.Context, shareID uuid.UUID) error {
	grant, err := s.GetGrant(ctx, shareID)
	if err != nil {
		return err
	}
	grant.Revoked = true
	return s.PutGrant(ctx, grant)
}

// PutAccount creates or updates an account record in Vault.
func (s *VaultStore) PutAccount(ctx context.Context, account *interfaces.AccountRecord) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("%w: account missing id", interfaces.ErrInvalidParams)
	}
	version, err := s.putRecord(ctx, "accounts", account.AccountID, account, account.RecordVersion)
	if err != nil {
		return err
	}
	account.RecordVersion = version
	return nil
}

// GetAccount retrieves an account record.
func (s *VaultStore) GetAccount(ctx context.Context, accountID string) (*interfaces.AccountRecord, error) {
	account := new(interfaces.AccountRecord)
	version, err := s.getRecord(ctx, "accounts", accountID, account)
	if err != nil {
		return nil, err
	}
	account.RecordVersion = version
	return account, nil
}

// LocationURI returns the URI identifying this Vault store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}
