// ABOUTME: Admin handlers for issuing, listing, inspecting and revoking API keys
// ABOUTME: The plaintext key appears only in the issue response

package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/store"
)

// IssueKeyRequest is the body of POST /admin/keys.
type IssueKeyRequest struct {
	OwnerLabel         string     `json:"owner_label" validate:"required,max=128"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute" validate:"gte=0,lte=100000"`
	ExpiresIn          string     `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
	ExpiresAt          *time.Time `json:"expires_at,omitempty" validate:"excluded_with=ExpiresIn"`
}

// KeyResponse describes a stored key. It never carries the secret.
type KeyResponse struct {
	ID                 string     `json:"id"`
	OwnerLabel         string     `json:"owner_label"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	CreatedAt          time.Time  `json:"created_at"`
	Revoked            bool       `json:"revoked"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// IssueKeyResponse is returned once, at issue time.
type IssueKeyResponse struct {
	KeyResponse
	Key string `json:"key"`
}

func keyResponse(k *store.APIKey) KeyResponse {
	return KeyResponse{
		ID:                 k.ID,
		OwnerLabel:         k.OwnerLabel,
		RateLimitPerMinute: k.RateLimitPerMinute,
		CreatedAt:          k.CreatedAt,
		Revoked:            k.Revoked,
		RevokedAt:          k.RevokedAt,
		ExpiresAt:          k.ExpiresAt,
		LastUsedAt:         k.LastUsedAt,
	}
}

func (a *API) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := a.decodeBody(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	expiresAt := req.ExpiresAt
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			a.sendJSONError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		t := a.now().Add(d).UTC()
		expiresAt = &t
	}
	if expiresAt != nil && !expiresAt.After(a.now()) {
		a.sendJSONError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	key, plaintext, err := a.keys.Issue(r.Context(), auth.IssueRequest{
		OwnerLabel:         req.OwnerLabel,
		RateLimitPerMinute: req.RateLimitPerMinute,
		ExpiresAt:          expiresAt,
	})
	switch {
	case errors.Is(err, auth.ErrMissingOwner), errors.Is(err, auth.ErrInvalidRateLimit):
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("failed to issue api key", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to issue key")
		return
	}

	a.logger.Info("admin issued api key", "key_id", key.ID, "admin", actor(r))
	a.writeJSON(w, http.StatusCreated, IssueKeyResponse{KeyResponse: keyResponse(key), Key: plaintext})
}

func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	includeRevoked, _ := strconv.ParseBool(r.URL.Query().Get("include_revoked"))

	keys, err := a.keys.List(r.Context(), includeRevoked)
	if err != nil {
		a.logger.Error("failed to list api keys", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse(k))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"keys": out, "count": len(out)})
}

func (a *API) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.keys.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		a.sendJSONError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to load api key", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to load key")
		return
	}
	a.writeJSON(w, http.StatusOK, keyResponse(key))
}

func (a *API) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := a.keys.Revoke(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		a.sendJSONError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to revoke api key", "key_id", id, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}

	a.logger.Info("admin revoked api key", "key_id", id, "admin", actor(r))
	a.writeJSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}
