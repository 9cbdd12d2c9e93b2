// ABOUTME: HTTP helpers for credential extraction and the admin JWT gate
// ABOUTME: API keys come from X-API-Key or a Bearer header; admin routes require a scoped JWT

package auth

import (
	"net/http"
	"strings"
)

// APIKeyHeader is the preferred header for presenting an API key.
const APIKeyHeader = "X-API-Key"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// APIKeyFromRequest returns the presented API key, or "" when none was sent.
// X-API-Key wins over Authorization.
func APIKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return ""
	}
	return token
}

// AdminMiddleware creates an HTTP middleware that requires an admin JWT and
// attaches the admin AuthContext.
func AdminMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{Subject: subject, Admin: true}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP rejects requests without an admin AuthContext.
// Must be used after AdminMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			if !authCtx.IsAdmin() {
				writeAuthError(w, "admin role required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
