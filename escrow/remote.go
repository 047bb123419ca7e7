package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/google/uuid"
)

// RemoteStore is an HTTP client for a remote escrow service exposing the
// escrow REST API. Record versioning is enforced server-side; a version
// conflict comes back as 409 and is mapped to ErrRecordConflict.
type RemoteStore struct {
	BaseURL string
	Client  *http.Client

	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string
}

// NewRemoteStore creates a client for the escrow service at baseURL.
func NewRemoteStore(baseURL string) *RemoteStore {
	return &RemoteStore{
		BaseURL: baseURL,
		Client:  http.DefaultClient,
	}
}

func (s *RemoteStore) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read escrow response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, string(respBody))
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", interfaces.ErrRecordConflict, string(respBody))
	default:
		return fmt.Errorf("escrow service returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("could not parse escrow response: %w", err)
		}
	}
	return nil
}

// PutEnvelope creates or updates an envelope record. The server returns
// the record at its new version, which replaces the caller's copy.
func (s *RemoteStore) PutEnvelope(ctx context.Context, env *interfaces.KeyEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	var stored interfaces.KeyEnvelope
	if err := s.do(ctx, http.MethodPut, "/api/envelopes/"+env.KeyID.String(), env, &stored); err != nil {
		return err
	}
	env.RecordVersion = stored.RecordVersion
	return nil
}

// GetEnvelope retrieves a single envelope by key id.
func (s *RemoteStore) GetEnvelope(ctx context.Context, keyID uuid.UUID) (*interfaces.KeyEnvelope, error) {
	env := new(interfaces.KeyEnvelope)
	if err := s.do(ctx, http.MethodGet, "/api/envelopes/"+keyID.String(), nil, env); err != nil {
		return nil, err
	}
	return env, nil
}

// GetEnvelopes retrieves all envelopes for a document.
func (s *RemoteStore) GetEnvelopes(ctx context.Context, documentID uuid.UUID) ([]*interfaces.KeyEnvelope, error) {
	var out []*interfaces.KeyEnvelope
	path := "/api/documents/" + documentID.String() + "/envelopes"
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnvelopesByRef retrieves all envelopes wrapped under the given reference.
func (s *RemoteStore) EnvelopesByRef(ctx context.Context, ref interfaces.WrappingKeyRef) ([]*interfaces.KeyEnvelope, error) {
	var out []*interfaces.KeyEnvelope
	path := "/api/envelopes?ref=" + url.QueryEscape(ref.String())
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RevokeEnvelope flips an envelope's status to revoked.
func (s *RemoteStore) RevokeEnvelope(ctx context.Context, keyID uuid.UUID) error {
	return s.do(ctx, http.MethodPost, "/api/envelopes/"+keyID.String()+"/revoke", nil, nil)
}

// PutGrant creates or updates a share grant.
func (s *RemoteStore) PutGrant(ctx context.Context, grant *interfaces.ShareGrant) error {
	if grant == nil || grant.ShareID == uuid.Nil {
		return fmt.Errorf("%w: grant missing share id", interfaces.ErrInvalidParams)
	}
	var stored interfaces.ShareGrant
	if err := s.do(ctx, http.MethodPut, "/api/shares/"+grant.ShareID.String(), grant, &stored); err != nil {
		return err
	}
	grant.RecordVersion = stored.RecordVersion
	return nil
}

// GetGrant retrieves a share grant by share id.
func (s *RemoteStore) GetGrant(ctx context.Context, shareID uuid.UUID) (*interfaces.ShareGrant, error) {
	grant := new(interfaces.ShareGrant)
	if err := s.do(ctx, http.MethodGet, "/api/shares/"+shareID.String(), nil, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeGrant marks a grant revoked.
func (s *RemoteStore) RevokeGrant(ctx context.Context, shareID uuid.UUID) error {
	return s.do(ctx, http.MethodPost, "/api/shares/"+shareID.String()+"/revoke", nil, nil)
}

// PutAccount creates or updates an account record.
func (s *RemoteStore) PutAccount(ctx context.Context, account *interfaces.AccountRecord) error {
	if account == nil || account.AccountID == "" {
		return fmt.Errorf("%w: account missing id", interfaces.ErrInvalidParams)
	}
	var stored interfaces.AccountRecord
	if err := s.do(ctx, http.MethodPut, "/api/accounts/"+url.PathEscape(account.AccountID), account, &stored); err != nil {
		return err
	}
	account.RecordVersion = stored.RecordVersion
	return nil
}

// GetAccount retrieves an account record.
func (s *RemoteStore) GetAccount(ctx context.Context, accountID string) (*interfaces.AccountRecord, error) {
	account := new(interfaces.AccountRecord)
	if err := s.do(ctx, http.MethodGet, "/api/accounts/"+url.PathEscape(accountID), nil, account); err != nil {
		return nil, err
	}
	return account, nil
}
