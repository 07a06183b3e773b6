package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/repository"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
)

// submitStaleAfter bounds how long a Submitting flag blocks the session if
// the instance that set it died before clearing it.
const submitStaleAfter = time.Minute

// Session is one user's booking in progress.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id,omitempty"`
	Draft           booking.State `json:"draft"`
	Submitting      bool          `json:"submitting"`
	SubmittingSince time.Time     `json:"submitting_since,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (s *Session) submitBlocked(now time.Time) bool {
	return s.Submitting && now.Sub(s.SubmittingSince) < submitStaleAfter
}

// Store persists sessions. Update runs fn on the current session and stores
// the result atomically; when fn fails nothing is written.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps sessions as JSON in Redis.
type RedisStore struct {
	sessions *redisrepo.SessionStore
}

func NewRedisStore(sessions *redisrepo.SessionStore) *RedisStore {
	return &RedisStore{sessions: sessions}
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	const op = "checkout.RedisStore.Create"

	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.sessions.Create(ctx, s.ID, b); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	const op = "checkout.RedisStore.Load"

	b, err := r.sessions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrBadSessionState, err)
	}

	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	const op = "checkout.RedisStore.Update"

	var out Session
	err := r.sessions.Update(ctx, id, func(payload []byte) ([]byte, error) {
		var s Session
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSessionState, err)
		}
		if err := fn(&s); err != nil {
			return nil, err
		}
		out = s
		return json.Marshal(&s)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &out, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.sessions.Delete(ctx, id)
}
