// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the caller via context to handlers and the backend

package auth

import (
	"context"

	"github.com/2389/odoo-bridge/internal/store"
)

// AuthContext holds the authenticated identity for one request. API-key
// callers carry Key; admin callers carry Subject and Admin.
type AuthContext struct {
	Subject string
	Admin   bool
	Key     *store.APIKey
}

// ForKey builds the context for a verified API key.
func ForKey(key *store.APIKey) *AuthContext {
	return &AuthContext{Subject: key.ID, Key: key}
}

// IsAdmin reports whether the caller authenticated on the admin surface.
func (a *AuthContext) IsAdmin() bool {
	return a != nil && a.Admin
}

// KeyID returns the API key ID, or "" for non-key callers.
func (a *AuthContext) KeyID() string {
	if a == nil || a.Key == nil {
		return ""
	}
	return a.Key.ID
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
