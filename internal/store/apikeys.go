// ABOUTME: API key persistence for the SQLite store
// ABOUTME: Keys are soft-deleted by revocation and never physically removed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateAPIKey inserts a new API key. CreatedAt is set if zero.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_keys (id, hashed_secret, owner_label, rate_limit_per_minute, created_at, revoked, expires_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.HashedSecret,
		key.OwnerLabel,
		key.RateLimitPerMinute,
		formatTime(key.CreatedAt),
		nullableTime(key.ExpiresAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "id", key.ID, "owner", key.OwnerLabel)
	return nil
}

const apiKeyColumns = `id, hashed_secret, owner_label, rate_limit_per_minute, created_at, revoked, revoked_at, expires_at, last_used_at`

// GetAPIKey retrieves an API key by ID, including revoked keys.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)

	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAPIKeys returns keys newest first.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, includeRevoked bool) ([]*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE (? = 1 OR revoked = 0) ORDER BY created_at DESC, id`

	include := 0
	if includeRevoked {
		include = 1
	}

	rows, err := s.db.QueryContext(ctx, query, include)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []*APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key revoked. The first revocation time is preserved.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		// Either unknown or already revoked
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
		return nil
	}

	s.logger.Info("revoked api key", "id", id)
	return nil
}

// TouchAPIKey records the last successful use of a key.
func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKey(scanner interface{ Scan(dest ...any) error }) (*APIKey, error) {
	var k APIKey
	var createdAt string
	var revoked int
	var revokedAt, expiresAt, lastUsedAt sql.NullString

	if err := scanner.Scan(
		&k.ID,
		&k.HashedSecret,
		&k.OwnerLabel,
		&k.RateLimitPerMinute,
		&createdAt,
		&revoked,
		&revokedAt,
		&expiresAt,
		&lastUsedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	var err error
	k.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	k.Revoked = revoked == 1

	if k.RevokedAt, err = parseNullableTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}
	if k.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if k.LastUsedAt, err = parseNullableTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	return &k, nil
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
