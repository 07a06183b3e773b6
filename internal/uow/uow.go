// Package uow runs repository calls in one transaction and defers side
// effects until it commits.
package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	postgres "github.com/kirinyoku/cinebook/internal/repository/postgres"
)

// ErrRetriesExhausted is returned by DoRetry when every attempt hit a
// serialization conflict.
var ErrRetriesExhausted = errors.New("uow: retries exhausted")

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxFunc is the body of a unit of work. after registers a hook that runs only
// if the transaction commits.
type TxFunc func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error

// Beginner starts transactions. *pgxpool.Pool and *postgres.Store satisfy it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Booking writes race on seats, so units of work are serializable unless the
// caller asks otherwise.
var defaultTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.Serializable,
	AccessMode: pgx.ReadWrite,
}

// ReadOnly is for units of work that only need a consistent snapshot.
var ReadOnly = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

type UoW struct {
	db      Beginner
	backoff time.Duration
}

func NewUoW(db Beginner) *UoW {
	return &UoW{db: db, backoff: 20 * time.Millisecond}
}

// Do runs fn inside a serializable transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn TxFunc) error {
	return u.DoWithOpts(ctx, defaultTxOptions, fn)
}

func (u *UoW) DoWithOpts(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error {
	var hooks []AfterCommit

	tx, err := u.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer tx.Rollback(ctx)

	err = fn(ctx, tx, func(h AfterCommit) {
		hooks = append(hooks, h)
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// DoRetry is Do that re-runs fn up to attempts times while the transaction
// fails with a serialization conflict or deadlock. Hooks registered by a
// failed attempt are discarded.
func (u *UoW) DoRetry(ctx context.Context, attempts int, fn TxFunc) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = u.Do(ctx, fn)
		if err == nil || !postgres.IsRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.backoff * time.Duration(i+1)):
		}
	}

	return errors.Join(ErrRetriesExhausted, err)
}
