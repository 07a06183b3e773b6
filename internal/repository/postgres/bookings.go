package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/shopspring/decimal"
)

const BookingStatusConfirmed = "confirmed"

const bookingSelect = `
	SELECT b.id, b.screening_id, COALESCE(b.user_id::text, ''), b.status,
	       b.total_price::text, b.created_at,
	       s.movie_id, COALESCE(m.title, ''),
	       to_char(s.date, 'YYYY-MM-DD'), to_char(s.start_time, 'HH24:MI'),
	       r.id, r.name, r.rows, r.seats_per_row
	FROM bookings b
	JOIN screenings s ON s.id = b.screening_id
	JOIN rooms r ON r.id = s.room_id
	LEFT JOIN movies m ON m.id = s.movie_id`

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create stores a confirmed booking with its seats and ticket lines. It is
// meant to run inside a transaction.
//
// Returns repository.ErrSeatsTaken if any seat is already booked for the
// screening.
func (r *BookingRepo) Create(
	ctx context.Context,
	userID *string,
	req domain.BookingRequest,
	total decimal.Decimal,
) (*domain.BookingConfirmation, error) {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	conf := domain.BookingConfirmation{
		ScreeningID: req.ScreeningID,
		Status:      BookingStatusConfirmed,
		TotalPrice:  total,
		Seats:       req.Seats,
		LineItems:   req.LineItems,
	}

	err := db.QueryRow(ctx,
		`INSERT INTO bookings(user_id, screening_id, status, total_price)
		 VALUES ($1, $2, $3, $4::numeric)
		 RETURNING id, created_at`,
		userID, req.ScreeningID, BookingStatusConfirmed, total.String(),
	).Scan(&conf.ID, &conf.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	batch := &pgx.Batch{}
	for _, s := range req.Seats {
		batch.Queue(
			`INSERT INTO booking_seats(booking_id, screening_id, row, seat_number)
			 VALUES ($1, $2, $3, $4)`,
			conf.ID, req.ScreeningID, s.Row, s.Seat,
		)
	}
	for _, it := range req.LineItems {
		batch.Queue(
			`INSERT INTO booking_ticket_types(booking_id, type, quantity)
			 VALUES ($1, $2, $3)`,
			conf.ID, it.Type, it.Quantity,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &conf, nil
}

// ListByUser returns the user's bookings, newest first, with their seats,
// ticket lines and screening.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		bookingSelect+`
		 WHERE b.user_id::text = $1
		 ORDER BY b.created_at DESC, b.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if err := r.attachItems(ctx, out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// Get loads one booking with its seats, ticket lines and screening.
//
// Returns repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	b, err := scanBooking(r.handle().QueryRow(ctx, bookingSelect+` WHERE b.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	list := []domain.Booking{*b}
	if err := r.attachItems(ctx, list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &list[0], nil
}

// Delete removes a booking with its seats and ticket lines, which frees the
// seats for the screening.
//
// Returns repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) Delete(ctx context.Context, id int64) error {
	const op = "postgres.BookingRepo.Delete"

	db := r.handle()

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM booking_seats WHERE booking_id = $1`, id)
	batch.Queue(`DELETE FROM booking_ticket_types WHERE booking_id = $1`, id)
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	tag, err := db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b     domain.Booking
		s     domain.Screening
		total string
	)

	err := row.Scan(
		&b.ID, &b.ScreeningID, &b.UserID, &b.Status,
		&total, &b.CreatedAt,
		&s.MovieID, &s.MovieTitle,
		&s.Date, &s.StartTime,
		&s.Room.ID, &s.Room.Name, &s.Room.Rows, &s.Room.SeatsPerRow,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}

	b.TotalPrice, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("total_price: %w", err)
	}

	s.ID = b.ScreeningID
	b.Screening = &s
	b.Seats = []domain.Seat{}
	b.LineItems = []domain.LineItem{}

	return &b, nil
}

// attachItems fills seats and ticket lines of bookings in two queries.
func (r *BookingRepo) attachItems(ctx context.Context, bookings []domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}

	ids := make([]int64, len(bookings))
	byID := make(map[int64]*domain.Booking, len(bookings))
	for i := range bookings {
		ids[i] = bookings[i].ID
		byID[bookings[i].ID] = &bookings[i]
	}

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT booking_id, row, seat_number FROM booking_seats
		 WHERE booking_id = ANY($1) ORDER BY booking_id, row, seat_number`,
		ids,
	)
	if err != nil {
		return translateDBErr(err)
	}
	for rows.Next() {
		var (
			id int64
			s  domain.Seat
		)
		if err := rows.Scan(&id, &s.Row, &s.Seat); err != nil {
			rows.Close()
			return translateDBErr(err)
		}
		byID[id].Seats = append(byID[id].Seats, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return translateDBErr(err)
	}

	rows, err = db.Query(ctx,
		`SELECT booking_id, type, quantity FROM booking_ticket_types
		 WHERE booking_id = ANY($1) ORDER BY booking_id, type`,
		ids,
	)
	if err != nil {
		return translateDBErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			it domain.LineItem
		)
		if err := rows.Scan(&id, &it.Type, &it.Quantity); err != nil {
			return translateDBErr(err)
		}
		byID[id].LineItems = append(byID[id].LineItems, it)
	}

	return translateDBErr(rows.Err())
}
