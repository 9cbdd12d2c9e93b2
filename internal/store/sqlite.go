// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides API key and request log persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Connection pragmas go in the DSN so every pooled connection gets them.
	// Request log writers and admin queries contend, so wait instead of failing.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS api_keys (
			id                    TEXT PRIMARY KEY,
			hashed_secret         TEXT NOT NULL,
			owner_label           TEXT NOT NULL,
			rate_limit_per_minute INTEGER NOT NULL,
			created_at            TEXT NOT NULL,
			revoked               INTEGER NOT NULL DEFAULT 0,
			revoked_at            TEXT,
			expires_at            TEXT,

			CHECK (rate_limit_per_minute > 0),
			CHECK (revoked IN (0, 1))
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_revoked ON api_keys(revoked);

		CREATE TABLE IF NOT EXISTS request_logs (
			id           TEXT PRIMARY KEY,
			request_id   TEXT NOT NULL,
			ts           TEXT NOT NULL,
			api_key_id   TEXT, -- NULL when the request failed authentication
			front_door   TEXT NOT NULL,
			operation    TEXT NOT NULL,
			target_model TEXT,
			status       TEXT NOT NULL,
			latency_ms   INTEGER NOT NULL,
			error_kind   TEXT,

			FOREIGN KEY (api_key_id) REFERENCES api_keys(id),
			CHECK (status IN ('ok', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_request_logs_key ON request_logs(api_key_id, ts);
		CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(target_model);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "api_keys",
			column: "last_used_at",
			apply:  `ALTER TABLE api_keys ADD COLUMN last_used_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
