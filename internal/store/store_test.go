// ABOUTME: Shared test helpers and schema tests for the SQLite store
// ABOUTME: Covers store creation, reopening and migrations

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func generateTestID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

func createTestKey(t *testing.T, s APIKeyStore, id string) *APIKey {
	t.Helper()
	key := &APIKey{
		ID:                 id,
		HashedSecret:       "$2a$04$notarealhashbutlongenoughforthetests",
		OwnerLabel:         "owner-" + id,
		RateLimitPerMinute: 60,
	}
	require.NoError(t, s.CreateAPIKey(context.Background(), key))
	return key
}

func TestNewSQLiteStore_CreatesParentDirs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "bridge.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, dbPath)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	createTestKey(t, s, "k1")
	require.NoError(t, s.Close())

	// Migrations must be idempotent across reopen
	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	key, err := s2.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "owner-k1", key.OwnerLabel)
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 100, time.UTC)
	b := a.Add(time.Microsecond)
	assert.Less(t, formatTime(a), formatTime(b))

	parsed, err := parseTime(formatTime(b))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(b.Truncate(time.Microsecond)))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-5))
	assert.Equal(t, 50, normalizeLimit(50))
	assert.Equal(t, 1000, normalizeLimit(5000))
}
