// ABOUTME: Shared test helpers for admin package tests
// ABOUTME: Builds the admin API over a mock store with a real credential store and JWT verifier

package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/requestlog"
	"github.com/2389/odoo-bridge/internal/store"
)

// testSecret is a 32-byte secret that meets MinSecretLength requirement.
var testSecret = []byte("admin-token-test-secret-32bytes!")

type testEnv struct {
	api      *API
	mux      *http.ServeMux
	store    *store.MockStore
	creds    *auth.CredentialStore
	verifier *auth.JWTVerifier
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMockStore()
	creds := auth.NewCredentialStore(ms, auth.CredentialOptions{HashCost: bcrypt.MinCost, DefaultRateLimit: 60})
	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)
	pruner := requestlog.New(ms, requestlog.Options{Retention: 24 * time.Hour, MaxEntries: 1000})

	api, err := New(Config{
		Keys:     creds,
		Logs:     ms,
		Pruner:   pruner,
		Verifier: verifier,
		Tokens:   verifier,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	token, err := verifier.Generate("ops@example.com", time.Hour)
	require.NoError(t, err)

	return &testEnv{api: api, mux: mux, store: ms, creds: creds, verifier: verifier, token: token}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.request(t, method, path, e.token, body)
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
