// ABOUTME: Asynchronous request logger with a bounded buffer and a periodic pruner
// ABOUTME: Record never blocks the request path; write failures only reach the diagnostics log

package requestlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/odoo-bridge/internal/config"
	"github.com/2389/odoo-bridge/internal/store"
)

const writeTimeout = 5 * time.Second

// Recorder accepts request log entries.
type Recorder interface {
	Record(e store.RequestLogEntry)
}

// Discard drops every entry. Used when the request log is disabled.
type Discard struct{}

// Record does nothing.
func (Discard) Record(store.RequestLogEntry) {}

// Options configures a Logger.
type Options struct {
	BufferSize    int
	Retention     time.Duration // 0 disables age pruning
	MaxEntries    int           // 0 disables count pruning
	PruneInterval time.Duration // 0 disables the periodic pruner
	Logger        *slog.Logger
}

// OptionsFromConfig maps the request_log config section.
func OptionsFromConfig(cfg config.RequestLogConfig, logger *slog.Logger) Options {
	return Options{
		BufferSize:    cfg.BufferSize,
		Retention:     cfg.Retention,
		MaxEntries:    cfg.EntryLimit(),
		PruneInterval: cfg.PruneInterval,
		Logger:        logger,
	}
}

// Logger buffers entries and writes them from a single goroutine.
type Logger struct {
	store  store.RequestLogStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	entries chan store.RequestLogEntry

	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
}

// New creates a logger. Call Start to begin writing.
func New(st store.RequestLogStore, opts Options) *Logger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = config.DefaultLogBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Logger{
		store:   st,
		opts:    opts,
		logger:  logger.With("component", "requestlog"),
		now:     time.Now,
		entries: make(chan store.RequestLogEntry, opts.BufferSize),
		done:    make(chan struct{}),
	}
}

// Start launches the writer and, if configured, the pruner.
func (l *Logger) Start() {
	l.wg.Add(1)
	go l.writer()

	if l.opts.PruneInterval > 0 {
		l.wg.Add(1)
		go l.pruner()
	}
}

// Record queues e for writing. When the buffer is full or the logger is
// closed the entry is dropped and counted.
func (l *Logger) Record(e store.RequestLogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		l.dropped.Add(1)
		return
	}
	select {
	case l.entries <- e:
		l.mu.RUnlock()
	default:
		l.mu.RUnlock()
		n := l.dropped.Add(1)
		l.logger.Warn("request log buffer full, dropping entry",
			"request_id", e.RequestID,
			"operation", e.Operation,
			"dropped_total", n,
		)
	}
}

func (l *Logger) writer() {
	defer l.wg.Done()

	for e := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.store.AppendRequestLog(ctx, &e)
		cancel()
		if err != nil {
			l.failed.Add(1)
			l.logger.Error("failed to write request log",
				"request_id", e.RequestID,
				"operation", e.Operation,
				"error", err,
			)
		}
	}
}

func (l *Logger) pruner() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := l.Prune(ctx); err != nil {
				l.logger.Error("request log prune failed", "error", err)
			}
			cancel()
		case <-l.done:
			return
		}
	}
}

// Prune applies the retention policy now and returns how many entries were
// removed.
func (l *Logger) Prune(ctx context.Context) (int, error) {
	return l.PruneWith(ctx, l.Policy())
}

// PruneWith removes entries according to p.
func (l *Logger) PruneWith(ctx context.Context, p store.PrunePolicy) (int, error) {
	return l.store.PruneRequestLogs(ctx, p)
}

// Policy returns the configured retention as a prune policy.
func (l *Logger) Policy() store.PrunePolicy {
	var p store.PrunePolicy
	if l.opts.Retention > 0 {
		p.OlderThan = l.now().Add(-l.opts.Retention)
	}
	p.MaxEntries = l.opts.MaxEntries
	return p
}

// Dropped returns how many entries were discarded without being written.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Failed returns how many writes the store rejected.
func (l *Logger) Failed() int64 {
	return l.failed.Load()
}

// Close stops accepting entries and waits for the buffer to drain or ctx
// to end. It is safe to call multiple times.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
		close(l.done)
	}
	l.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		l.logger.Warn("request log not fully drained", "pending", len(l.entries))
		return ctx.Err()
	}
}
