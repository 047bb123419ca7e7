// Package httpserver exposes the share-access API: password validation
// for external shares and keyless container inspection. The server never
// sees a master key; the only key material it handles are share keys
// derived from candidate passwords, which live for the duration of one
// request.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docsafe/docsafe/container"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/docsafe/docsafe/metrics"
	"github.com/docsafe/docsafe/share"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// ValidateRequest is the body of a share validation request.
type ValidateRequest struct {
	Password string `json:"password"`

	// ContainerID, when set, requests the download-validation fallback
	// against this container.
	ContainerID string `json:"container_id,omitempty"`
}

// ValidateResponse reports the validation outcome.
type ValidateResponse struct {
	Valid           bool `json:"valid"`
	AccessesLeft    int  `json:"accesses_left,omitempty"`
	ValidationsUsed int  `json:"validations_used"`
}

// Handler processes share-access requests against the escrow store.
type Handler struct {
	store  interfaces.EscrowStore
	blobs  interfaces.BlobStore
	shares *share.Service
	log    *slog.Logger
}

// NewHandler creates a share-access handler.
func NewHandler(store interfaces.EscrowStore, blobs interfaces.BlobStore, log *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		blobs:  blobs,
		shares: share.NewService(store, blobs, log),
		log:    log,
	}
}

// HandleValidateShare validates a candidate password for a share.
//
// Status codes: 200 with a verdict for a processed request, 400 for a
// malformed request, 404 for an unknown share, 410 for a revoked,
// expired or exhausted grant. A wrong password is a 200 with
// valid=false, not an error status.
func (h *Handler) HandleValidateShare(w http.ResponseWriter, r *http.Request) {
	metrics.ShareValidationsTotal.Inc()

	shareID, err := uuid.Parse(chi.URLParam(r, "share_id"))
	if err != nil {
		h.replyError(w, http.StatusBadRequest, fmt.Errorf("invalid share id: %w", err))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.replyError(w, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err))
		return
	}
	var req ValidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.replyError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Password == "" {
		h.replyError(w, http.StatusBadRequest, errors.New("missing password"))
		return
	}

	grant, err := h.store.GetGrant(r.Context(), shareID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			h.replyError(w, http.StatusNotFound, err)
			return
		}
		h.replyError(w, http.StatusInternalServerError, err)
		return
	}

	// Expiry, revocation and access limits are enforced here, at the
	// grant store boundary, before any crypto runs.
	if err := grant.Usable(time.Now()); err != nil {
		metrics.ShareValidationDenied.Inc()
		h.replyError(w, http.StatusGone, err)
		return
	}

	valid, err := h.validate(r, grant, req)
	if err != nil {
		h.replyError(w, http.StatusInternalServerError, err)
		return
	}

	if !valid {
		metrics.ShareValidationFailures.Inc()
	}

	// Every processed validation attempt counts against the limit,
	// valid or not, so passwords cannot be brute-forced for free.
	grant.AccessCount++
	if err := h.store.PutGrant(r.Context(), grant); err != nil {
		h.log.Error("Failed to record share access",
			slog.String("share_id", shareID.String()), "err", err)
	}

	resp := ValidateResponse{
		Valid:           valid,
		ValidationsUsed: grant.AccessCount,
	}
	if grant.MaxAccessCount > 0 {
		resp.AccessesLeft = grant.MaxAccessCount - grant.AccessCount
	}
	h.replyJSON(w, http.StatusOK, resp)
}

func (h *Handler) validate(r *http.Request, grant *interfaces.ShareGrant, req ValidateRequest) (bool, error) {
	// Cheap path first: derive and unwrap against the stored envelope.
	env, err := h.store.GetEnvelope(r.Context(), grant.KeyEnvelopeID)
	if err == nil {
		return h.shares.ValidatePassword(r.Context(), env, grant, []byte(req.Password))
	}
	if !errors.Is(err, interfaces.ErrRecordNotFound) {
		return false, err
	}

	// Envelope not available here; fall back to a full container decode
	// when the request names one.
	if req.ContainerID == "" {
		return false, fmt.Errorf("%w: envelope %s", interfaces.ErrKeyNotFound, grant.KeyEnvelopeID)
	}
	containerID, err := interfaces.NewContainerIDFromHex(req.ContainerID)
	if err != nil {
		return false, err
	}
	return h.shares.ValidatePasswordWithDownload(r.Context(), grant, containerID, []byte(req.Password))
}

// HandleContainerInfo returns the keyless header information of a stored
// container: format version, algorithm, creation time and sizes. No key
// material is involved.
func (h *Handler) HandleContainerInfo(w http.ResponseWriter, r *http.Request) {
	containerID, err := interfaces.NewContainerIDFromHex(chi.URLParam(r, "container_id"))
	if err != nil {
		h.replyError(w, http.StatusBadRequest, err)
		return
	}

	blob, err := h.blobs.Get(r.Context(), containerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			h.replyError(w, http.StatusNotFound, err)
			return
		}
		h.replyError(w, http.StatusInternalServerError, err)
		return
	}

	info, err := container.PeekMetadata(blob)
	if err != nil {
		h.replyError(w, http.StatusUnprocessableEntity, err)
		return
	}

	h.replyJSON(w, http.StatusOK, map[string]any{
		"format_version": info.FormatVersion,
		"algorithm":      info.Algorithm.String(),
		"created_at":     info.CreatedAt,
		"metadata_size":  info.MetadataSize,
		"payload_size":   info.PayloadSize,
	})
}

func (h *Handler) replyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) replyError(w http.ResponseWriter, status int, err error) {
	h.log.Debug("Request failed", slog.Int("status", status), "err", err)
	h.replyJSON(w, status, map[string]string{"error": err.Error()})
}
