// ABOUTME: Redis-backed fixed-window limiter for bridges sharing one quota across replicas
// ABOUTME: The check-and-increment runs as a single Lua script so it is atomic per key

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "odoo-bridge:ratelimit:"

// admitScript increments the key's counter only while it is below the
// limit. The expiry is set when the window opens.
//
// KEYS[1] counter key, ARGV[1] window in ms, ARGV[2] limit.
// Returns {admitted (0|1), count, ttl ms}.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local ttl = redis.call('PTTL', KEYS[1])
if current >= tonumber(ARGV[2]) then
  if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
  end
  return {0, current, ttl}
end
current = redis.call('INCR', KEYS[1])
if current == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {1, current, ttl}
`)

// RedisLimiter keeps windows in Redis.
type RedisLimiter struct {
	client *redis.Client
	length time.Duration
	now    func() time.Time
}

// NewRedisLimiter connects to redisURL.
func NewRedisLimiter(redisURL string, length time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		length = time.Minute
	}

	return &RedisLimiter{
		client: redis.NewClient(opt),
		length: length,
		now:    time.Now,
	}, nil
}

// Ping checks connectivity.
func (rl *RedisLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}

// Admit counts one request against keyID.
func (rl *RedisLimiter) Admit(ctx context.Context, keyID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	res, err := admitScript.Run(ctx, rl.client,
		[]string{redisKeyPrefix + keyID},
		rl.length.Milliseconds(), limit,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}

	return decodeScriptResult(res, limit, rl.now())
}

// Close closes the Redis client.
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

func decodeScriptResult(res []int64, limit int, now time.Time) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	admitted, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	resetAt := now.Add(ttl)

	if !admitted {
		return rejection(limit, resetAt, now), nil
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Admitted:  true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
