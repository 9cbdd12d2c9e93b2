// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	keys    map[string]*APIKey
	logs    []RequestLogEntry
	touches int

	// AppendErr, when set, is returned by AppendRequestLog.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		keys: make(map[string]*APIKey),
	}
}

// CreateAPIKey stores a copy of key.
func (m *MockStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	k := *key
	m.keys[k.ID] = &k
	return nil
}

// GetAPIKey returns a copy of the key with the given ID.
func (m *MockStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *k
	return &result, nil
}

// ListAPIKeys returns keys newest first.
func (m *MockStore) ListAPIKeys(ctx context.Context, includeRevoked bool) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []*APIKey{}
	for _, k := range m.keys {
		if k.Revoked && !includeRevoked {
			continue
		}
		c := *k
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// RevokeAPIKey marks the key revoked.
func (m *MockStore) RevokeAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	if !k.Revoked {
		now := time.Now().UTC()
		k.Revoked = true
		k.RevokedAt = &now
	}
	return nil
}

// TouchAPIKey records the last use time.
func (m *MockStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	k.LastUsedAt = &t
	m.touches++
	return nil
}

// Touches returns how many times TouchAPIKey succeeded.
func (m *MockStore) Touches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.touches
}

// AppendRequestLog appends a copy of e unless AppendErr is set.
func (m *MockStore) AppendRequestLog(ctx context.Context, e *RequestLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.logs = append(m.logs, *e)
	return nil
}

// ListRequestLogs returns matching entries newest first.
func (m *MockStore) ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]RequestLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := []RequestLogEntry{}
	for i := len(m.logs) - 1; i >= 0; i-- {
		e := m.logs[i]
		if f.APIKeyID != nil && e.APIKeyID != *f.APIKeyID {
			continue
		}
		if f.Operation != nil && e.Operation != *f.Operation {
			continue
		}
		if f.TargetModel != nil && e.TargetModel != *f.TargetModel {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	offset := f.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	if offset < 0 {
		offset = 0
	}
	matched = matched[offset:]
	if limit := normalizeLimit(f.Limit); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountRequestLogs returns the number of stored entries.
func (m *MockStore) CountRequestLogs(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs), nil
}

// PruneRequestLogs applies the policy to the in-memory log.
func (m *MockStore) PruneRequestLogs(ctx context.Context, p PrunePolicy) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.logs)
	kept := m.logs[:0]
	for _, e := range m.logs {
		if !p.OlderThan.IsZero() && e.Timestamp.Before(p.OlderThan) {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	if p.MaxEntries > 0 && len(kept) > p.MaxEntries {
		kept = kept[len(kept)-p.MaxEntries:]
	}
	m.logs = kept
	return before - len(kept), nil
}

// RequestLogStats aggregates the in-memory log.
func (m *MockStore) RequestLogStats(ctx context.Context, since time.Time) (*RequestLogStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &RequestLogStats{Total: len(m.logs), ByStatus: map[string]int{}, ByErrorKind: map[string]int{}}
	var latency int64
	for _, e := range m.logs {
		if !e.Timestamp.Before(since) {
			stats.Since++
		}
		latency += e.LatencyMS
		stats.ByStatus[e.Status]++
		if e.ErrorKind != "" {
			stats.ByErrorKind[e.ErrorKind]++
		}
	}
	if len(m.logs) > 0 {
		stats.AvgLatencyMS = float64(latency) / float64(len(m.logs))
	}
	return stats, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
