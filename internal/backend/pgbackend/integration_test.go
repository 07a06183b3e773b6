package pgbackend

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	postgresrepo "github.com/kirinyoku/cinebook/internal/repository/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE rooms (id bigserial PRIMARY KEY, name text NOT NULL, rows int NOT NULL, seats_per_row int NOT NULL);
CREATE TABLE movies (id bigserial PRIMARY KEY, title text NOT NULL);
CREATE TABLE screenings (
	id bigserial PRIMARY KEY,
	movie_id bigint NOT NULL REFERENCES movies(id),
	room_id bigint NOT NULL REFERENCES rooms(id),
	date date NOT NULL,
	start_time time NOT NULL,
	base_price numeric
);
CREATE TABLE ticket_types (id bigserial PRIMARY KEY, name text NOT NULL UNIQUE, display_name text, price_multiplier numeric NOT NULL);
CREATE TABLE bookings (
	id bigserial PRIMARY KEY,
	user_id text,
	screening_id bigint NOT NULL REFERENCES screenings(id),
	status text NOT NULL,
	total_price numeric NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE booking_seats (
	booking_id bigint NOT NULL REFERENCES bookings(id),
	screening_id bigint NOT NULL,
	row int NOT NULL,
	seat_number int NOT NULL,
	UNIQUE (screening_id, row, seat_number)
);
CREATE TABLE booking_ticket_types (booking_id bigint NOT NULL REFERENCES bookings(id), type text NOT NULL, quantity int NOT NULL);
`

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingNotifier) PublishScreeningChanged(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingNotifier) changed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

// testPool opens a pool whose search_path points at a fresh schema.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	schema := fmt.Sprintf("cinebook_test_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE") })

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	return pool
}

func seedScreening(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := pool.QueryRow(ctx, `
		WITH r AS (INSERT INTO rooms(name, rows, seats_per_row) VALUES ('Room 1', 5, 5) RETURNING id),
		     m AS (INSERT INTO movies(title) VALUES ('Dune') RETURNING id)
		INSERT INTO screenings(movie_id, room_id, date, start_time)
		SELECT m.id, r.id, DATE '2099-01-01', TIME '18:30' FROM r, m
		RETURNING id`,
	).Scan(&id)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO ticket_types(name, display_name, price_multiplier)
		VALUES ('normal', 'Normal ticket', 1), ('student', 'Student ticket', 0.75)`)
	require.NoError(t, err)

	return id
}

func TestBackend_BookingLifecycle(t *testing.T) {
	pool := testPool(t)
	screeningID := seedScreening(t, pool)
	changes := &recordingNotifier{}
	b := New(postgresrepo.NewStore(pool), changes, Config{Location: time.UTC})

	alice := domain.WithPrincipal(context.Background(), domain.Principal{UserID: "1"})
	bob := domain.WithPrincipal(context.Background(), domain.Principal{UserID: "2"})

	req := domain.BookingRequest{
		ScreeningID: screeningID,
		Seats:       []domain.Seat{{Row: 2, Seat: 1}, {Row: 2, Seat: 2}},
		LineItems:   []domain.LineItem{{Type: "normal", Quantity: 1}, {Type: "student", Quantity: 1}},
	}

	conf, err := b.SubmitBooking(alice, req)
	require.NoError(t, err)
	assert.NotZero(t, conf.ID)
	assert.True(t, conf.TotalPrice.Equal(decimal.NewFromInt(2625)), "got %s", conf.TotalPrice)
	assert.Equal(t, []int64{screeningID}, changes.changed())

	_, err = b.SubmitBooking(bob, domain.BookingRequest{
		ScreeningID: screeningID,
		Seats:       []domain.Seat{{Row: 2, Seat: 2}},
		LineItems:   []domain.LineItem{{Type: "normal", Quantity: 1}},
	})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "seat already taken", vErr.Message)
	assert.Len(t, changes.changed(), 1, "a rejected booking announces nothing")

	s, err := b.FetchScreening(context.Background(), screeningID)
	require.NoError(t, err)
	assert.Equal(t, req.Seats, s.OccupiedSeats)
	assert.Equal(t, "18:30", s.StartTime)

	list, err := b.ListBookings(alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conf.ID, list[0].ID)
	assert.Equal(t, req.Seats, list[0].Seats)
	assert.ElementsMatch(t, req.LineItems, list[0].LineItems)
	require.NotNil(t, list[0].Screening)
	assert.Equal(t, "Dune", list[0].Screening.MovieTitle)
	assert.Equal(t, "Room 1", list[0].Screening.Room.Name)

	list, err = b.ListBookings(bob)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = b.GetBooking(bob, conf.ID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	assert.ErrorIs(t, b.CancelBooking(bob, conf.ID), domain.ErrBookingNotFound)

	got, err := b.GetBooking(alice, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)

	require.NoError(t, b.CancelBooking(alice, conf.ID))
	assert.Equal(t, []int64{screeningID, screeningID}, changes.changed())

	s, err = b.FetchScreening(context.Background(), screeningID)
	require.NoError(t, err)
	assert.Empty(t, s.OccupiedSeats)

	assert.ErrorIs(t, b.CancelBooking(alice, conf.ID), domain.ErrBookingNotFound)

	_, err = b.ListBookings(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}
