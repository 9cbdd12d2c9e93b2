// ABOUTME: Admin handler for minting additional admin tokens
// ABOUTME: Lets operators hand out scoped, expiring tokens instead of sharing the bootstrap token

package admin

import (
	"net/http"
	"time"
)

// Default TTL for tokens: 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

// Maximum TTL for tokens: 365 days.
const maxTokenTTL = 365 * 24 * time.Hour

// CreateTokenRequest is the body of POST /admin/tokens.
type CreateTokenRequest struct {
	Subject    string `json:"subject" validate:"required,max=128"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty" validate:"gte=0"`
}

// CreateTokenResponse carries the minted token.
type CreateTokenResponse struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil {
		a.sendJSONError(w, http.StatusServiceUnavailable, "token generation not configured (no jwt_secret)")
		return
	}

	var req CreateTokenRequest
	if err := a.decodeBody(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl > maxTokenTTL {
			a.sendJSONError(w, http.StatusBadRequest, "ttl_seconds exceeds maximum of 31536000")
			return
		}
	}

	token, err := a.tokens.Generate(req.Subject, ttl)
	if err != nil {
		a.logger.Error("failed to generate admin token", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	a.logger.Info("admin token issued", "subject", req.Subject, "ttl", ttl, "admin", actor(r))
	a.writeJSON(w, http.StatusCreated, CreateTokenResponse{
		Token:     token,
		Subject:   req.Subject,
		ExpiresAt: a.now().Add(ttl).UTC(),
	})
}
