package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// RedisServiceRepository is a ServiceRepository backed by a Redis hash
// (service id -> JSON-encoded ServiceRegistration) plus a Pub/Sub channel
// for cross-instance invalidation, mirroring the teacher's go-redis client
// construction in cmd/gateway/main.go.
type RedisServiceRepository struct {
	rdb     *redis.Client
	hashKey string
	channel string
}

// NewRedisServiceRepository constructs a repository against an existing
// redis.Client. hashKey/channel default to "aussie:services" and
// "aussie:services:invalidate" when empty.
func NewRedisServiceRepository(rdb *redis.Client, hashKey, channel string) *RedisServiceRepository {
	if hashKey == "" {
		hashKey = "aussie:services"
	}
	if channel == "" {
		channel = "aussie:services:invalidate"
	}
	return &RedisServiceRepository{rdb: rdb, hashKey: hashKey, channel: channel}
}

func (r *RedisServiceRepository) List(ctx context.Context) ([]domain.ServiceRegistration, error) {
	raw, err := r.rdb.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry redis list: %w", err)
	}
	out := make([]domain.ServiceRegistration, 0, len(raw))
	for _, v := range raw {
		var reg domain.ServiceRegistration
		if err := json.Unmarshal([]byte(v), &reg); err != nil {
			continue
		}
		out = append(out, reg)
	}
	return out, nil
}

func (r *RedisServiceRepository) Upsert(ctx context.Context, reg domain.ServiceRegistration) error {
	b, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, r.hashKey, reg.ServiceID, b).Err(); err != nil {
		return fmt.Errorf("registry redis upsert: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, reg.ServiceID).Err()
}

func (r *RedisServiceRepository) Delete(ctx context.Context, serviceID string) (bool, error) {
	n, err := r.rdb.HDel(ctx, r.hashKey, serviceID).Result()
	if err != nil {
		return false, fmt.Errorf("registry redis delete: %w", err)
	}
	if pubErr := r.rdb.Publish(ctx, r.channel, serviceID).Err(); pubErr != nil {
		return n > 0, pubErr
	}
	return n > 0, nil
}

// Subscribe listens on the Redis Pub/Sub invalidation channel and invokes
// onInvalidate with the published serviceID for each message, until the
// returned unsubscribe func is called or ctx is cancelled.
func (r *RedisServiceRepository) Subscribe(ctx context.Context, onInvalidate func(serviceID string)) (func(), error) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	ch := sub.Channel()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onInvalidate(msg.Payload)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = sub.Close()
	}
	return unsubscribe, nil
}
