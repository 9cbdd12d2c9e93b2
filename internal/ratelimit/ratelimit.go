// ABOUTME: Per-key admission control for the request pipeline
// ABOUTME: Defines the Limiter contract, the Decision it returns and a config-driven constructor

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/2389/odoo-bridge/internal/config"
)

// ErrInvalidLimit is returned when a non-positive limit is requested.
var ErrInvalidLimit = errors.New("rate limit must be positive")

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted   bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when admitted
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1
// for a rejection.
func (d Decision) RetryAfterSeconds() int {
	if d.Admitted {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter admits or rejects requests for an API key. Implementations must
// make the increment-and-compare for one key atomic.
type Limiter interface {
	Admit(ctx context.Context, keyID string, limit int) (Decision, error)
	Close() error
}

// New builds the limiter selected by cfg.
func New(cfg config.RateLimitConfig, logger *slog.Logger) (Limiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.IsEnabled() {
		logger.Warn("rate limiting disabled")
		return Unlimited{}, nil
	}

	switch cfg.Store {
	case "", "memory":
		return NewMemoryLimiter(cfg.Window), nil
	case "redis":
		l, err := NewRedisLimiter(cfg.RedisURL, cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("creating redis limiter: %w", err)
		}
		logger.Info("using redis rate limiter")
		return l, nil
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
}

// Unlimited admits everything. Used when rate limiting is disabled.
type Unlimited struct{}

// Admit always admits. The zero Limit marks the decision as unbounded.
func (Unlimited) Admit(_ context.Context, _ string, _ int) (Decision, error) {
	return Decision{Admitted: true}, nil
}

// Close is a no-op.
func (Unlimited) Close() error { return nil }

func rejection(limit int, resetAt, now time.Time) Decision {
	return Decision{
		Admitted:   false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
	}
}
