// ABOUTME: Tests for API key store operations
// ABOUTME: Covers create, get, list, revoke and touch against SQLite

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(24 * time.Hour).UTC()
	key := &APIKey{
		ID:                 "abc123",
		HashedSecret:       "hash",
		OwnerLabel:         "billing-bot",
		RateLimitPerMinute: 120,
		ExpiresAt:          &expires,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.False(t, key.CreatedAt.IsZero())

	got, err := s.GetAPIKey(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.HashedSecret)
	assert.Equal(t, "billing-bot", got.OwnerLabel)
	assert.Equal(t, 120, got.RateLimitPerMinute)
	assert.False(t, got.Revoked)
	assert.Nil(t, got.RevokedAt)
	assert.Nil(t, got.LastUsedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, expires, *got.ExpiresAt, time.Millisecond)
}

func TestAPIKeyStore_GetNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetAPIKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyStore_CreateDuplicate(t *testing.T) {
	s := setupTestStore(t)
	createTestKey(t, s, "dup")

	err := s.CreateAPIKey(context.Background(), &APIKey{
		ID: "dup", HashedSecret: "h", OwnerLabel: "x", RateLimitPerMinute: 1,
	})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestAPIKeyStore_RejectsNonPositiveLimit(t *testing.T) {
	s := setupTestStore(t)

	err := s.CreateAPIKey(context.Background(), &APIKey{
		ID: "zero", HashedSecret: "h", OwnerLabel: "x", RateLimitPerMinute: 0,
	})
	assert.Error(t, err)
}

func TestAPIKeyStore_RevokeIsSoftAndIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestKey(t, s, "k1")

	require.NoError(t, s.RevokeAPIKey(ctx, "k1"))

	got, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)
	first := *got.RevokedAt

	// Second revoke succeeds and keeps the original timestamp
	require.NoError(t, s.RevokeAPIKey(ctx, "k1"))
	got, err = s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first.Equal(*got.RevokedAt))
}

func TestAPIKeyStore_RevokeUnknown(t *testing.T) {
	s := setupTestStore(t)

	err := s.RevokeAPIKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyStore_List(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		key := &APIKey{
			ID:                 generateTestID("key", i),
			HashedSecret:       "h",
			OwnerLabel:         "o",
			RateLimitPerMinute: 10,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateAPIKey(ctx, key))
	}
	require.NoError(t, s.RevokeAPIKey(ctx, "key-1"))

	active, err := s.ListAPIKeys(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "key-2", active[0].ID, "newest first")
	assert.Equal(t, "key-0", active[1].ID)

	all, err := s.ListAPIKeys(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAPIKeyStore_Touch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestKey(t, s, "k1")

	at := time.Now().UTC()
	require.NoError(t, s.TouchAPIKey(ctx, "k1", at))

	got, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, at, *got.LastUsedAt, time.Millisecond)

	assert.ErrorIs(t, s.TouchAPIKey(ctx, "missing", at), ErrNotFound)
}

func TestAPIKey_Usable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&APIKey{}).Usable(now))
	assert.False(t, (&APIKey{Revoked: true}).Usable(now))
	assert.False(t, (&APIKey{ExpiresAt: &past}).Usable(now))
	assert.True(t, (&APIKey{ExpiresAt: &future}).Usable(now))
}
