// Package ratelimit enforces per-API-key request quotas.
//
// Both implementations use a fixed window that opens on the first request
// after the previous window ended. Within a window at most limit requests
// are admitted; later ones get a Decision with RetryAfter set to the time
// left until the window resets.
//
// MemoryLimiter holds windows in process with one mutex per key, so
// admissions for different keys never contend. RedisLimiter
// (github.com/redis/go-redis/v9) runs the check-and-increment as a Lua
// script and lets several bridge processes share one quota.
package ratelimit
