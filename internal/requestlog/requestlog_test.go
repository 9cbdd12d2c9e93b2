// ABOUTME: Tests for the asynchronous request logger
// ABOUTME: Covers draining, dropped entries, store failures and retention pruning

package requestlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/store"
)

func entry(op string) store.RequestLogEntry {
	return store.RequestLogEntry{
		RequestID:   "req-" + op,
		FrontDoor:   "rest",
		Operation:   op,
		TargetModel: "res.partner",
		Status:      "ok",
		LatencyMS:   3,
	}
}

func count(t *testing.T, ms *store.MockStore) int {
	t.Helper()
	n, err := ms.CountRequestLogs(context.Background())
	require.NoError(t, err)
	return n
}

func TestLogger_RecordAndDrain(t *testing.T) {
	ms := store.NewMockStore()
	l := New(ms, Options{BufferSize: 16})
	l.Start()

	for _, op := range []string{"read", "create", "delete"} {
		l.Record(entry(op))
	}
	require.NoError(t, l.Close(context.Background()))

	assert.Equal(t, 3, count(t, ms))
	assert.Zero(t, l.Dropped())

	logs, err := ms.ListRequestLogs(context.Background(), store.RequestLogFilter{})
	require.NoError(t, err)
	for _, e := range logs {
		assert.False(t, e.Timestamp.IsZero())
		assert.NotEmpty(t, e.ID)
	}
}

func TestLogger_BufferFullDrops(t *testing.T) {
	ms := store.NewMockStore()
	l := New(ms, Options{BufferSize: 1})

	// writer not started, so the second and third entries cannot fit
	l.Record(entry("a"))
	l.Record(entry("b"))
	l.Record(entry("c"))
	assert.Equal(t, int64(2), l.Dropped())

	l.Start()
	require.NoError(t, l.Close(context.Background()))
	assert.Equal(t, 1, count(t, ms))
}

func TestLogger_StoreFailureDoesNotPropagate(t *testing.T) {
	ms := store.NewMockStore()
	ms.AppendErr = errors.New("disk full")
	l := New(ms, Options{})
	l.Start()

	l.Record(entry("read"))
	l.Record(entry("write"))
	require.NoError(t, l.Close(context.Background()))

	assert.Equal(t, int64(2), l.Failed())
	assert.Equal(t, 0, count(t, ms))
}

func TestLogger_RecordAfterClose(t *testing.T) {
	ms := store.NewMockStore()
	l := New(ms, Options{})
	l.Start()
	require.NoError(t, l.Close(context.Background()))
	require.NoError(t, l.Close(context.Background()))

	l.Record(entry("late"))
	assert.Equal(t, int64(1), l.Dropped())
	assert.Equal(t, 0, count(t, ms))
}

func TestLogger_Prune(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, 2 * time.Hour, time.Hour, 0} {
		e := entry("read")
		e.RequestID = string(rune('a' + i))
		e.Timestamp = now.Add(-age)
		require.NoError(t, ms.AppendRequestLog(ctx, &e))
	}

	l := New(ms, Options{Retention: 24 * time.Hour, MaxEntries: 2})
	removed, err := l.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, count(t, ms))
}

func TestLogger_Policy(t *testing.T) {
	l := New(store.NewMockStore(), Options{})
	p := l.Policy()
	assert.True(t, p.OlderThan.IsZero())
	assert.Zero(t, p.MaxEntries)

	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l = New(store.NewMockStore(), Options{Retention: time.Hour, MaxEntries: 10})
	l.now = func() time.Time { return fixed }
	p = l.Policy()
	assert.Equal(t, fixed.Add(-time.Hour), p.OlderThan)
	assert.Equal(t, 10, p.MaxEntries)
}

func TestLogger_PeriodicPruner(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := entry("read")
		require.NoError(t, ms.AppendRequestLog(ctx, &e))
	}

	l := New(ms, Options{MaxEntries: 2, PruneInterval: 10 * time.Millisecond})
	l.Start()
	defer func() { _ = l.Close(context.Background()) }()

	assert.Eventually(t, func() bool {
		n, _ := ms.CountRequestLogs(ctx)
		return n == 2
	}, time.Second, 10*time.Millisecond)
}

func TestOptionsFromConfig(t *testing.T) {
	fifty := 50
	opts := OptionsFromConfig(config.RequestLogConfig{
		MaxEntries:    &fifty,
		BufferSize:    8,
		Retention:     time.Hour,
		PruneInterval: time.Minute,
	}, nil)

	assert.Equal(t, 50, opts.MaxEntries)
	assert.Equal(t, 8, opts.BufferSize)
	assert.Equal(t, time.Hour, opts.Retention)
	assert.Equal(t, time.Minute, opts.PruneInterval)
}

func TestOptionsFromConfig_EntryLimit(t *testing.T) {
	opts := OptionsFromConfig(config.RequestLogConfig{}, nil)
	assert.Equal(t, config.DefaultLogMaxEntries, opts.MaxEntries)

	zero := 0
	opts = OptionsFromConfig(config.RequestLogConfig{MaxEntries: &zero}, nil)
	assert.Zero(t, opts.MaxEntries)
}

func TestLogger_ZeroMaxEntriesKeepsEverything(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := entry("read")
		require.NoError(t, ms.AppendRequestLog(ctx, &e))
	}

	zero := 0
	l := New(ms, OptionsFromConfig(config.RequestLogConfig{MaxEntries: &zero, Retention: 24 * time.Hour}, nil))
	removed, err := l.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 5, count(t, ms))
}

func TestDiscard(t *testing.T) {
	var r Recorder = Discard{}
	r.Record(entry("read"))
}
