// ABOUTME: Request log persistence for the SQLite store
// ABOUTME: Append-only entries with filtered listing and age/count based pruning

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendRequestLog appends a new entry. Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendRequestLog(ctx context.Context, e *RequestLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO request_logs (id, request_id, ts, api_key_id, front_door, operation, target_model, status, latency_ms, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		formatTime(e.Timestamp),
		nullableString(e.APIKeyID),
		e.FrontDoor,
		e.Operation,
		nullableString(e.TargetModel),
		e.Status,
		e.LatencyMS,
		nullableString(e.ErrorKind),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

const requestLogQuery = `
	SELECT id, request_id, ts, api_key_id, front_door, operation, target_model, status, latency_ms, error_kind
	FROM request_logs
	WHERE (? IS NULL OR api_key_id = ?)
	  AND (? IS NULL OR operation = ?)
	  AND (? IS NULL OR target_model = ?)
	  AND (? IS NULL OR status = ?)
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ? OFFSET ?
`

// ListRequestLogs returns entries matching the filter, newest first.
func (s *SQLiteStore) ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]RequestLogEntry, error) {
	limit := normalizeLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	since := nullableTime(f.Since)
	until := nullableTime(f.Until)

	rows, err := s.db.QueryContext(ctx, requestLogQuery,
		f.APIKeyID, f.APIKeyID,
		f.Operation, f.Operation,
		f.TargetModel, f.TargetModel,
		f.Status, f.Status,
		since, since,
		until, until,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []RequestLogEntry{}
	for rows.Next() {
		var e RequestLogEntry
		var ts string
		var keyID, model, errKind sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&ts,
			&keyID,
			&e.FrontDoor,
			&e.Operation,
			&model,
			&e.Status,
			&e.LatencyMS,
			&errKind,
		); err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}
		e.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		e.APIKeyID = keyID.String
		e.TargetModel = model.String
		e.ErrorKind = errKind.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request logs: %w", err)
	}
	return entries, nil
}

// CountRequestLogs returns the number of stored entries.
func (s *SQLiteStore) CountRequestLogs(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting request logs: %w", err)
	}
	return n, nil
}

// RequestLogStats aggregates the whole log; Since counts entries at or after since.
func (s *SQLiteStore) RequestLogStats(ctx context.Context, since time.Time) (*RequestLogStats, error) {
	stats := &RequestLogStats{ByStatus: map[string]int{}, ByErrorKind: map[string]int{}}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ts >= ? THEN 1 ELSE 0 END), 0), AVG(latency_ms)
		FROM request_logs`, formatTime(since)).Scan(&stats.Total, &stats.Since, &avg)
	if err != nil {
		return nil, fmt.Errorf("aggregating request logs: %w", err)
	}
	stats.AvgLatencyMS = avg.Float64

	if err := s.countBy(ctx, "status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "error_kind", stats.ByErrorKind); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills into with per-value counts of column, skipping NULLs.
// column is always a literal from this file.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM request_logs WHERE `+column+` IS NOT NULL GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("grouping request logs by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scanning %s counts: %w", column, err)
		}
		into[k] = n
	}
	return rows.Err()
}

// PruneRequestLogs removes entries older than the policy cutoff, then trims
// the oldest entries beyond MaxEntries.
func (s *SQLiteStore) PruneRequestLogs(ctx context.Context, p PrunePolicy) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64

	if !p.OlderThan.IsZero() {
		res, err := tx.ExecContext(ctx, `DELETE FROM request_logs WHERE ts < ?`, formatTime(p.OlderThan))
		if err != nil {
			return 0, fmt.Errorf("pruning by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if p.MaxEntries > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM request_logs WHERE id IN (
				SELECT id FROM request_logs ORDER BY ts DESC, rowid DESC LIMIT -1 OFFSET ?
			)`, p.MaxEntries)
		if err != nil {
			return 0, fmt.Errorf("pruning by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}

	if removed > 0 {
		s.logger.Info("pruned request logs", "removed", removed)
	}
	return int(removed), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
