package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// tokenBucketLua is the teacher's original script, unchanged: refill by
// elapsed time, consume one token, HMSET the new state back.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now_ms
else
  local delta = math.max(0, now_ms - ts)
  local add = (delta / 1000.0) * rate
  tokens = math.min(burst, tokens + add)
  ts = now_ms
end

local allowed = 0
local retry_ms = 0

if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
else
  allowed = 0
  local missing = cost - tokens
  if rate > 0 then
    retry_ms = math.floor((missing / rate) * 1000.0)
  else
    retry_ms = 1000
  end
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", key, 300000)
return {allowed, tokens, retry_ms}
`

// fixedWindowLua is the fixed-window sibling: reset count to zero whenever
// now crosses into a new window boundary, otherwise increment.
const fixedWindowLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "count", "window_start")
local count = tonumber(data[1])
local window_start = tonumber(data[2])

if window_start == nil or (now_ms - window_start) >= window_ms then
  window_start = now_ms
  count = 0
end

local allowed = 0
local retry_ms = 0
if count < limit then
  allowed = 1
  count = count + 1
else
  retry_ms = math.max(0, (window_start + window_ms) - now_ms)
end

redis.call("HMSET", key, "count", count, "window_start", window_start)
redis.call("PEXPIRE", key, window_ms * 2)
return {allowed, count, retry_ms, window_start + window_ms}
`

// slidingWindowLua blends the previous and current fixed windows by the
// fraction of the current window elapsed, per spec.md §3 RateLimitState.
const slidingWindowLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "prev", "cur", "window_start")
local prev = tonumber(data[1])
local cur = tonumber(data[2])
local window_start = tonumber(data[3])

if window_start == nil then
  window_start = now_ms
  prev, cur = 0, 0
else
  local elapsed = now_ms - window_start
  if elapsed >= window_ms then
    local windows = math.floor(elapsed / window_ms)
    if windows == 1 then
      prev = cur
    else
      prev = 0
    end
    cur = 0
    window_start = window_start + windows * window_ms
  end
end

local overlap = (window_ms - (now_ms - window_start)) / window_ms
if overlap < 0 then overlap = 0 end
local weighted = prev * overlap + cur

local allowed = 0
local retry_ms = 0
if weighted < limit then
  allowed = 1
  cur = cur + 1
else
  retry_ms = math.max(0, (window_start + window_ms) - now_ms)
end

redis.call("HMSET", key, "prev", prev, "cur", cur, "window_start", window_start)
redis.call("PEXPIRE", key, window_ms * 2)
return {allowed, weighted, retry_ms, window_start + window_ms}
`

// RedisStore is the distributed domain.RateLimitStore, evaluating one Lua
// script per algorithm with go-redis's Eval for atomicity under concurrent
// callers sharing the same canonical key.
type RedisStore struct {
	rdb       *redis.Client
	algorithm Algorithm
}

// NewRedisStore constructs a store bound to algorithm.
func NewRedisStore(rdb *redis.Client, algorithm Algorithm) *RedisStore {
	return &RedisStore{rdb: rdb, algorithm: algorithm}
}

func (r *RedisStore) Close() error { return r.rdb.Close() }

func (r *RedisStore) CheckAndConsume(ctx context.Context, canonicalKey string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	switch r.algorithm {
	case AlgorithmFixedWindow:
		return r.evalWindowed(ctx, fixedWindowLua, canonicalKey, limit, nowMs)
	case AlgorithmSlidingWindow:
		return r.evalWindowed(ctx, slidingWindowLua, canonicalKey, limit, nowMs)
	default:
		return r.evalBucket(ctx, canonicalKey, limit, nowMs)
	}
}

func (r *RedisStore) evalBucket(ctx context.Context, key string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	burst := limit.BurstCapacity
	if burst <= 0 {
		burst = limit.RequestsPerWindow
	}
	rps := float64(limit.RequestsPerWindow) / float64(limit.WindowSeconds)
	res, err := r.rdb.Eval(ctx, tokenBucketLua, []string{key}, nowMs, rps, burst, 1).Result()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("ratelimit redis bucket: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return domain.RateLimitDecision{}, fmt.Errorf("ratelimit redis bucket: unexpected reply shape")
	}
	allowed := toInt(arr[0]) == 1
	tokens := toFloat(arr[1])
	retryMs := toInt(arr[2])

	dec := domain.RateLimitDecision{Allowed: allowed, Remaining: tokens, Limit: limit.RequestsPerWindow}
	if !allowed {
		dec.RetryAfterSeconds = int((retryMs + 999) / 1000)
	}
	dec.ResetAtUnix = (nowMs + retryMs) / 1000
	return dec, nil
}

func (r *RedisStore) evalWindowed(ctx context.Context, script, key string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	windowMs := int64(limit.WindowSeconds) * 1000
	res, err := r.rdb.Eval(ctx, script, []string{key}, nowMs, windowMs, limit.RequestsPerWindow).Result()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("ratelimit redis windowed: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 4 {
		return domain.RateLimitDecision{}, fmt.Errorf("ratelimit redis windowed: unexpected reply shape")
	}
	allowed := toInt(arr[0]) == 1
	count := toFloat(arr[1])
	retryMs := toInt(arr[2])
	resetAtMs := toInt(arr[3])

	dec := domain.RateLimitDecision{
		Allowed:      allowed,
		Limit:        limit.RequestsPerWindow,
		RequestCount: int64(count),
		ResetAtUnix:  resetAtMs / 1000,
	}
	if allowed {
		dec.Remaining = float64(limit.RequestsPerWindow) - count
	} else {
		dec.RetryAfterSeconds = int((retryMs + 999) / 1000)
	}
	return dec, nil
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
