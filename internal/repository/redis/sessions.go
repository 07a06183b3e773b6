package redis

import (
	"context"
	"errors"
	"time"

	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/redis/go-redis/v9"
)

const sessionUpdateRetries = 5

// SessionStore keeps booking sessions as opaque payloads that expire after
// ttl of inactivity.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, id string, payload []byte) error {
	const op = "redis.SessionStore.Create"

	ok, err := s.rdb.SetNX(ctx, KeySession(id), payload, s.ttl).Result()
	if err != nil {
		return errors.Join(errors.New(op), err)
	}
	if !ok {
		return errors.Join(errors.New(op), repository.ErrConflict)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, KeySession(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	return b, err
}

// Update applies fn to the stored payload under WATCH and writes the result
// back atomically, retrying when another writer got there first. fn may run
// more than once. A nil result deletes the session.
func (s *SessionStore) Update(ctx context.Context, id string, fn func(payload []byte) ([]byte, error)) error {
	key := KeySession(id)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if next == nil {
				p.Del(ctx, key)
				return nil
			}
			p.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < sessionUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return repository.ErrTooManyRetries
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, KeySession(id)).Err()
}
