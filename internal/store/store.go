// ABOUTME: Store interfaces and data types for odoo-bridge persistence
// ABOUTME: Defines APIKey and RequestLogEntry plus the interfaces the SQLite and mock stores satisfy

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an API key ID already exists
var ErrDuplicateKey = errors.New("api key already exists")

// APIKey is a stored credential. Only the bcrypt hash of the secret is kept.
// Everything except the revocation and usage fields is immutable after issue.
type APIKey struct {
	ID                 string
	HashedSecret       string
	OwnerLabel         string
	RateLimitPerMinute int
	CreatedAt          time.Time
	Revoked            bool
	RevokedAt          *time.Time
	ExpiresAt          *time.Time // nil means never
	LastUsedAt         *time.Time
}

// Expired reports whether the key has passed its expiry at time now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// Usable reports whether the key may authenticate at time now.
func (k *APIKey) Usable(now time.Time) bool {
	return !k.Revoked && !k.Expired(now)
}

// RequestLogEntry is one recorded inbound request and its outcome.
type RequestLogEntry struct {
	ID          string
	RequestID   string
	Timestamp   time.Time
	APIKeyID    string
	FrontDoor   string // "mcp" or "rest"
	Operation   string
	TargetModel string
	Status      string // "ok" or "error"
	LatencyMS   int64
	ErrorKind   string // empty on success
}

// RequestLogFilter specifies filtering options for listing request log entries.
type RequestLogFilter struct {
	APIKeyID    *string
	Operation   *string
	TargetModel *string
	Status      *string
	Since       *time.Time
	Until       *time.Time
	Limit       int // default 100, max 1000
	Offset      int
}

// RequestLogStats summarizes the request log.
type RequestLogStats struct {
	Total        int            `json:"total"`
	Since        int            `json:"since"` // entries at or after the requested cutoff
	AvgLatencyMS float64        `json:"avg_latency_ms"`
	ByStatus     map[string]int `json:"by_status"`
	ByErrorKind  map[string]int `json:"by_error_kind"`
}

// PrunePolicy bounds the request log. Zero values disable that bound.
type PrunePolicy struct {
	OlderThan  time.Time
	MaxEntries int
}

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, includeRevoked bool) ([]*APIKey, error)
	// RevokeAPIKey marks a key revoked. Revoking twice is not an error.
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// RequestLogStore persists request log entries.
type RequestLogStore interface {
	AppendRequestLog(ctx context.Context, e *RequestLogEntry) error
	ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]RequestLogEntry, error)
	CountRequestLogs(ctx context.Context) (int, error)
	// PruneRequestLogs removes entries outside the policy and returns how many were removed.
	PruneRequestLogs(ctx context.Context, p PrunePolicy) (int, error)
}

// Store is the full persistence surface used by the bridge.
type Store interface {
	APIKeyStore
	RequestLogStore
	RequestLogStats(ctx context.Context, since time.Time) (*RequestLogStats, error)
	Close() error
}

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
