package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFailedAttemptRepository is a domain.FailedAttemptRepository backed by
// a Redis sorted set per key (score = failure unix-nano, trimmed to the
// configured window) plus a sibling string key for the lockout counter,
// mirroring the hash-per-key convention the teacher's tokenBucketLua uses.
type RedisFailedAttemptRepository struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisFailedAttemptRepository(rdb *redis.Client, prefix string) *RedisFailedAttemptRepository {
	if prefix == "" {
		prefix = "aussie:authlockout:"
	}
	return &RedisFailedAttemptRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisFailedAttemptRepository) attemptsKey(key string) string { return r.prefix + "attempts:" + key }
func (r *RedisFailedAttemptRepository) countKey(key string) string    { return r.prefix + "count:" + key }

func (r *RedisFailedAttemptRepository) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	zkey := r.attemptsKey(key)
	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	cutoff := now.Add(-window).UnixNano()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ratelimit redis record failure: %w", err)
	}
	return int(card.Val()), nil
}

func (r *RedisFailedAttemptRepository) GetLockoutCount(ctx context.Context, key string) (int, error) {
	v, err := r.rdb.Get(ctx, r.countKey(key)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit redis get lockout count: %w", err)
	}
	return v, nil
}

func (r *RedisFailedAttemptRepository) GetLockoutTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.rdb.TTL(ctx, r.countKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit redis get lockout ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil // key absent or has no expiry
	}
	return ttl, nil
}

func (r *RedisFailedAttemptRepository) IncrementLockoutCount(ctx context.Context, key string, ttl time.Duration) (int, error) {
	ckey := r.countKey(key)
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, ckey)
	pipe.Expire(ctx, ckey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ratelimit redis increment lockout count: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *RedisFailedAttemptRepository) Clear(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.attemptsKey(key), r.countKey(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit redis clear: %w", err)
	}
	return nil
}
