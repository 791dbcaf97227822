package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// RedisSessionStore is the distributed domain.SessionRepository backend,
// reusing the teacher's go-redis client conventions (internal/ratelimit/redis.go).
type RedisSessionStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore constructs a store. ttl bounds how long a session
// key is kept once written; callers still rely on domain.Session.IsValid
// for logical expiry, this is only a storage-layer backstop so stale
// entries do not accumulate forever.
func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, prefix: "aussie:session:", ttl: ttl}
}

func (s *RedisSessionStore) sessionKey(id string) string { return s.prefix + id }
func (s *RedisSessionStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *RedisSessionStore) SaveIfAbsent(ctx context.Context, sess domain.Session) (bool, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("session: marshal: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.sessionKey(sess.ID), payload, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("session: setnx: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.rdb.SAdd(ctx, s.userKey(sess.UserID), sess.ID).Err(); err != nil {
		return false, fmt.Errorf("session: index user: %w", err)
	}
	s.rdb.Expire(ctx, s.userKey(sess.UserID), s.ttl)
	return true, nil
}

func (s *RedisSessionStore) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Update(ctx context.Context, sess domain.Session) (domain.Session, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.sessionKey(sess.ID), payload, s.ttl).Err(); err != nil {
		return domain.Session{}, fmt.Errorf("session: set: %w", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	if sess != nil {
		pipe.SRem(ctx, s.userKey(sess.UserID), id)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: smembers: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.sessionKey(id))
	}
	pipe.Del(ctx, s.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: delete by user: %w", err)
	}
	return nil
}
