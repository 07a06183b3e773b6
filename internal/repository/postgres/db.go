package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// BeginTx starts a transaction on the pool. Units of work in package uow
// own its isolation level and commit.
func (s *Store) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, opts)
}

func (s *Store) Screenings() *ScreeningRepo   { return &ScreeningRepo{pool: s.pool} }
func (s *Store) TicketTypes() *TicketTypeRepo { return &TicketTypeRepo{pool: s.pool} }
func (s *Store) Bookings() *BookingRepo       { return &BookingRepo{pool: s.pool} }
