// ABOUTME: Tests for the admin HTTP API
// ABOUTME: Covers the JWT gate, key lifecycle, log queries, stats, pruning and token minting

package admin

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/odoo-bridge/internal/auth"
	"github.com/2389/odoo-bridge/internal/store"
)

func TestNewValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(Config{Logs: env.store, Verifier: env.verifier})
	assert.Error(t, err)
	_, err = New(Config{Keys: env.creds, Verifier: env.verifier})
	assert.Error(t, err)
	_, err = New(Config{Keys: env.creds, Logs: env.store})
	assert.Error(t, err)
}

func TestAdminGate(t *testing.T) {
	env := newTestEnv(t)

	other, err := auth.NewJWTVerifier([]byte("a-completely-different-secret-32b"))
	require.NoError(t, err)
	forged, err := other.Generate("intruder", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", forged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(t, http.MethodGet, "/admin/keys", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("api key is not an admin token", func(t *testing.T) {
		_, plaintext, err := env.creds.Issue(context.Background(), auth.IssueRequest{OwnerLabel: "x"})
		require.NoError(t, err)
		rec := env.request(t, http.MethodGet, "/admin/keys", plaintext, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/keys", IssueKeyRequest{OwnerLabel: "claims-agent", RateLimitPerMinute: 30})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued IssueKeyResponse
	decodeInto(t, rec, &issued)
	assert.True(t, strings.HasPrefix(issued.Key, auth.KeyPrefix+"_"+issued.ID+"_"))
	assert.Equal(t, "claims-agent", issued.OwnerLabel)
	assert.Equal(t, 30, issued.RateLimitPerMinute)
	assert.NotContains(t, rec.Body.String(), "hashed")

	// the issued key works
	_, err := env.creds.Verify(context.Background(), issued.Key)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/admin/keys/"+issued.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got KeyResponse
	decodeInto(t, rec, &got)
	assert.Equal(t, issued.ID, got.ID)
	assert.NotContains(t, rec.Body.String(), issued.Key)

	rec = env.do(t, http.MethodDelete, "/admin/keys/"+issued.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.creds.Verify(context.Background(), issued.Key)
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)

	var list struct {
		Keys  []KeyResponse `json:"keys"`
		Count int           `json:"count"`
	}
	decodeInto(t, env.do(t, http.MethodGet, "/admin/keys", nil), &list)
	assert.Equal(t, 0, list.Count)

	decodeInto(t, env.do(t, http.MethodGet, "/admin/keys?include_revoked=true", nil), &list)
	require.Equal(t, 1, list.Count)
	assert.True(t, list.Keys[0].Revoked)
	assert.NotNil(t, list.Keys[0].RevokedAt)
}

func TestIssueKeyDefaultsAndExpiry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/keys", `{"owner_label":"ops","expires_in":"1h"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued IssueKeyResponse
	decodeInto(t, rec, &issued)
	assert.Equal(t, 60, issued.RateLimitPerMinute)
	require.NotNil(t, issued.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *issued.ExpiresAt, time.Minute)
}

func TestIssueKeyValidation(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing owner", `{}`, "owner_label"},
		{"owner too long", `{"owner_label":"` + strings.Repeat("x", 129) + `"}`, "owner_label"},
		{"negative limit", `{"owner_label":"a","rate_limit_per_minute":-1}`, "rate_limit_per_minute"},
		{"unknown field", `{"owner_label":"a","scope":"all"}`, "invalid JSON"},
		{"bad duration", `{"owner_label":"a","expires_in":"soon"}`, "expires_in"},
		{"expired", `{"owner_label":"a","expires_at":"` + past + `"}`, "future"},
		{"both expiries", `{"owner_label":"a","expires_in":"1h","expires_at":"` + future + `"}`, "expires_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/admin/keys", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}

	keys, err := env.creds.List(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/admin/keys/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/admin/keys/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/admin/keys/nope/revoke", nil).Code)
}

func seedLogs(t *testing.T, ms *store.MockStore, now time.Time) {
	t.Helper()
	entries := []store.RequestLogEntry{
		{RequestID: "r1", Timestamp: now.Add(-72 * time.Hour), APIKeyID: "k1", FrontDoor: "rest", Operation: "read", TargetModel: "res.partner", Status: "ok", LatencyMS: 10},
		{RequestID: "r2", Timestamp: now.Add(-2 * time.Hour), APIKeyID: "k1", FrontDoor: "mcp", Operation: "create", TargetModel: "sale.order", Status: "ok", LatencyMS: 20},
		{RequestID: "r3", Timestamp: now.Add(-time.Hour), APIKeyID: "k2", FrontDoor: "rest", Operation: "delete", TargetModel: "res.partner", Status: "error", LatencyMS: 30, ErrorKind: "validation_error"},
		{RequestID: "r4", Timestamp: now.Add(-time.Minute), FrontDoor: "mcp", Operation: "read", Status: "error", LatencyMS: 1, ErrorKind: "authentication_error"},
	}
	for i := range entries {
		require.NoError(t, ms.AppendRequestLog(context.Background(), &entries[i]))
	}
}

func TestListLogs(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	seedLogs(t, env.store, now)

	type page struct {
		Entries []LogEntryResponse `json:"entries"`
		Count   int                `json:"count"`
	}

	tests := []struct {
		name      string
		query     string
		wantIDs   []string
		wantError bool
	}{
		{name: "all newest first", query: "", wantIDs: []string{"r4", "r3", "r2", "r1"}},
		{name: "by key", query: "?api_key_id=k1", wantIDs: []string{"r2", "r1"}},
		{name: "by model", query: "?model=res.partner", wantIDs: []string{"r3", "r1"}},
		{name: "by operation and status", query: "?operation=read&status=error", wantIDs: []string{"r4"}},
		{name: "since", query: "?since=" + now.Add(-3*time.Hour).Format(time.RFC3339), wantIDs: []string{"r4", "r3", "r2"}},
		{name: "limit offset", query: "?limit=2&offset=1", wantIDs: []string{"r3", "r2"}},
		{name: "bad since", query: "?since=yesterday", wantError: true},
		{name: "bad limit", query: "?limit=-5", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/admin/logs"+tt.query, nil)
			if tt.wantError {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				return
			}
			require.Equal(t, http.StatusOK, rec.Code)
			var p page
			decodeInto(t, rec, &p)
			ids := make([]string, 0, len(p.Entries))
			for _, e := range p.Entries {
				ids = append(ids, e.RequestID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, len(tt.wantIDs), p.Count)
		})
	}
}

func TestLogStats(t *testing.T) {
	env := newTestEnv(t)
	seedLogs(t, env.store, time.Now().UTC())

	var out struct {
		Window string                `json:"window"`
		Stats  store.RequestLogStats `json:"stats"`
	}
	rec := env.do(t, http.MethodGet, "/admin/logs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &out)

	assert.Equal(t, "24h0m0s", out.Window)
	assert.Equal(t, 4, out.Stats.Total)
	assert.Equal(t, 3, out.Stats.Since)
	assert.Equal(t, 2, out.Stats.ByStatus["error"])
	assert.Equal(t, 1, out.Stats.ByErrorKind["authentication_error"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/admin/logs/stats?window=-1h", nil).Code)
}

func TestPruneLogs(t *testing.T) {
	t.Run("configured policy", func(t *testing.T) {
		env := newTestEnv(t)
		seedLogs(t, env.store, time.Now().UTC())

		var out struct {
			Removed int `json:"removed"`
		}
		rec := env.do(t, http.MethodPost, "/admin/logs/prune", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decodeInto(t, rec, &out)
		assert.Equal(t, 1, out.Removed)
	})

	t.Run("explicit policy", func(t *testing.T) {
		env := newTestEnv(t)
		seedLogs(t, env.store, time.Now().UTC())

		var out struct {
			Removed int `json:"removed"`
		}
		rec := env.do(t, http.MethodPost, "/admin/logs/prune", PruneRequest{MaxEntries: 1})
		require.Equal(t, http.StatusOK, rec.Code)
		decodeInto(t, rec, &out)
		assert.Equal(t, 3, out.Removed)

		n, err := env.store.CountRequestLogs(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/admin/logs/prune", `{"older_than":"forever"}`).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/admin/logs/prune", `{"max_entries":-1}`).Code)
	})

	t.Run("logging disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.api.pruner = nil
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/admin/logs/prune", nil).Code)
	})
}

func TestCreateToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/tokens", CreateTokenRequest{Subject: "ci", TTLSeconds: 3600})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out CreateTokenResponse
	decodeInto(t, rec, &out)
	subject, err := env.verifier.Verify(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "ci", subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), out.ExpiresAt, time.Minute)

	// the minted token is itself an admin token
	assert.Equal(t, http.StatusOK, env.request(t, http.MethodGet, "/admin/keys", out.Token, nil).Code)
}

func TestCreateTokenValidation(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/admin/tokens", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/admin/tokens", CreateTokenRequest{Subject: "ci", TTLSeconds: int64(2 * maxTokenTTL / time.Second)}).Code)

	env.api.tokens = nil
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/admin/tokens", CreateTokenRequest{Subject: "ci"}).Code)
}
