// Package store provides persistent storage for the bridge using SQLite.
//
// # Architecture
//
// Two narrow interfaces describe what the rest of the bridge needs:
//
//   - APIKeyStore: issue, look up, list, revoke and touch API keys
//   - RequestLogStore: append, list, count and prune request log entries
//
// SQLiteStore implements both (and Store, their union) on a single
// database/sql handle backed by modernc.org/sqlite. MockStore is an
// in-memory implementation for tests in other packages.
//
// # Data Models
//
//   - APIKey: bcrypt-hashed secret, owner label, per-key rate limit,
//     optional expiry. Revocation is a soft delete; rows are never removed,
//     so request log entries always reference an existing key.
//   - RequestLogEntry: one authenticated request, its front door, operation,
//     target model, outcome and latency.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text so lexical order equals
// chronological order, which the retention queries rely on.
package store
