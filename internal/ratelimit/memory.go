// ABOUTME: In-process fixed-window limiter with one lock per API key
// ABOUTME: A background goroutine periodically drops windows that have expired

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the admission state for one key. A window opens on the first
// request after the previous one expired.
type window struct {
	mu    sync.Mutex
	start time.Time
	count int
	dead  bool // removed from the table by cleanup
}

// MemoryLimiter keeps windows in process memory. The table lock only guards
// lookup; admission for a key runs under that key's own lock.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewMemoryLimiter creates a limiter with the given window length and starts
// its cleanup goroutine.
func NewMemoryLimiter(length time.Duration) *MemoryLimiter {
	return newMemoryLimiter(length, time.Now)
}

func newMemoryLimiter(length time.Duration, now func() time.Time) *MemoryLimiter {
	if length <= 0 {
		length = time.Minute
	}
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		length:  length,
		now:     now,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Admit counts one request against keyID.
func (l *MemoryLimiter) Admit(_ context.Context, keyID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	for {
		w := l.lookup(keyID)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		d := l.admitLocked(w, limit)
		w.mu.Unlock()
		return d, nil
	}
}

// admitLocked must be called with w.mu held.
func (l *MemoryLimiter) admitLocked(w *window, limit int) Decision {
	now := l.now()
	if w.start.IsZero() || !now.Before(w.start.Add(l.length)) {
		w.start = now
		w.count = 0
	}
	resetAt := w.start.Add(l.length)

	if w.count >= limit {
		return rejection(limit, resetAt, now)
	}
	w.count++
	return Decision{
		Admitted:  true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   resetAt,
	}
}

func (l *MemoryLimiter) lookup(keyID string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[keyID]
	if !ok {
		w = &window{}
		l.windows[keyID] = w
	}
	return w
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// cleanup runs in a background goroutine, periodically removing expired windows.
func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(l.length)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup removes all windows whose period has ended.
func (l *MemoryLimiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		w.mu.Lock()
		if !now.Before(w.start.Add(l.length)) {
			w.dead = true
			delete(l.windows, key)
		}
		w.mu.Unlock()
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
	return nil
}
