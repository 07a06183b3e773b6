package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

type TicketTypeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketTypeRepo) With(db DB) *TicketTypeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketTypeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *TicketTypeRepo) List(ctx context.Context) ([]domain.TicketType, error) {
	const op = "postgres.TicketTypeRepo.List"

	rows, err := r.handle().Query(ctx,
		`SELECT name, COALESCE(display_name, name), price_multiplier::text
		 FROM ticket_types
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.TicketType
	for rows.Next() {
		var (
			tt   domain.TicketType
			mult string
		)
		if err := rows.Scan(&tt.Name, &tt.DisplayName, &mult); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		tt.PriceMultiplier, err = decimal.NewFromString(mult)
		if err != nil {
			return nil, fmt.Errorf("%s: price_multiplier of %q: %w", op, tt.Name, err)
		}
		out = append(out, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return out, nil
}
