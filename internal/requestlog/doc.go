// Package requestlog records one entry per bridge request.
//
// Record hands the entry to a bounded channel and returns immediately; a
// single writer goroutine appends entries to the store. A full buffer or a
// failing store costs log entries, never requests: both are counted and
// reported through slog.
//
// A pruner goroutine applies the retention policy every prune_interval,
// deleting entries older than retention and then trimming to max_entries.
package requestlog
