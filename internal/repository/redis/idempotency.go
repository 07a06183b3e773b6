package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemLock      = "LOCK"
	idemResPrefix = "RES:"
)

// IdempotencyStore remembers submit results per Idempotency-Key so a repeated
// submit replays the first confirmation instead of booking twice.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Acquire marks key as in flight. It reports false when the key is already
// locked or holds a result.
func (s *IdempotencyStore) Acquire(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, idemLock, lockTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, payload []byte) error {
	return s.rdb.Set(ctx, key, idemResPrefix+string(payload), s.ttl).Err()
}

func (s *IdempotencyStore) Result(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !strings.HasPrefix(v, idemResPrefix) {
		return nil, false, nil
	}
	return []byte(strings.TrimPrefix(v, idemResPrefix)), true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
