package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

type ScreeningRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ScreeningRepo) With(db DB) *ScreeningRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ScreeningRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get loads a screening with its room, movie title and the seats held by
// non-cancelled bookings.
//
// Returns repository.ErrNotFound if the screening does not exist.
func (r *ScreeningRepo) Get(ctx context.Context, id int64) (*domain.Screening, error) {
	const op = "postgres.ScreeningRepo.Get"

	db := r.handle()

	var (
		s         domain.Screening
		basePrice *string
	)
	err := db.QueryRow(ctx,
		`SELECT s.id, s.movie_id, COALESCE(m.title, ''),
		        to_char(s.date, 'YYYY-MM-DD'), to_char(s.start_time, 'HH24:MI'),
		        s.base_price::text,
		        r.id, r.name, r.rows, r.seats_per_row
		 FROM screenings s
		 JOIN rooms r ON r.id = s.room_id
		 LEFT JOIN movies m ON m.id = s.movie_id
		 WHERE s.id = $1`,
		id,
	).Scan(
		&s.ID, &s.MovieID, &s.MovieTitle,
		&s.Date, &s.StartTime,
		&basePrice,
		&s.Room.ID, &s.Room.Name, &s.Room.Rows, &s.Room.SeatsPerRow,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if basePrice != nil {
		p, err := decimal.NewFromString(*basePrice)
		if err != nil {
			return nil, fmt.Errorf("%s: base_price: %w", op, err)
		}
		s.BasePrice = &p
	}

	s.OccupiedSeats, err = r.OccupiedSeats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &s, nil
}

func (r *ScreeningRepo) OccupiedSeats(ctx context.Context, screeningID int64) ([]domain.Seat, error) {
	const op = "postgres.ScreeningRepo.OccupiedSeats"

	rows, err := r.handle().Query(ctx,
		`SELECT bs.row, bs.seat_number
		 FROM booking_seats bs
		 JOIN bookings b ON b.id = bs.booking_id
		 WHERE bs.screening_id = $1 AND b.status <> 'cancelled'
		 ORDER BY bs.row, bs.seat_number`,
		screeningID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	seats := []domain.Seat{}
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.Row, &s.Seat); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return seats, nil
}
