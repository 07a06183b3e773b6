// Package pgbackend serves screenings, ticket types and bookings straight
// from the tikera PostgreSQL schema.
package pgbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	postgresrepo "github.com/kirinyoku/cinebook/internal/repository/postgres"
	"github.com/kirinyoku/cinebook/internal/uow"
	"github.com/shopspring/decimal"
)

const defaultTxAttempts = 3

type Config struct {
	Location   *time.Location
	TxAttempts int
}

// Notifier announces screenings whose occupied seats changed.
type Notifier interface {
	PublishScreeningChanged(ctx context.Context, screeningID int64) error
}

type Backend struct {
	store   *postgresrepo.Store
	uow     *uow.UoW
	changes Notifier
	cfg     Config
	now     func() time.Time
}

// New builds the backend. changes, when not nil, is told about every booking
// written or removed once its transaction has committed.
func New(store *postgresrepo.Store, changes Notifier, cfg Config) *Backend {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TxAttempts <= 0 {
		cfg.TxAttempts = defaultTxAttempts
	}

	return &Backend{
		store:   store,
		uow:     uow.NewUoW(store),
		changes: changes,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (b *Backend) FetchScreening(ctx context.Context, id int64) (*domain.Screening, error) {
	const op = "pgbackend.Backend.FetchScreening"

	s, err := b.store.Screenings().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrScreeningNotFound)
	}
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	return s, nil
}

func (b *Backend) FetchTicketCatalog(ctx context.Context) ([]domain.TicketType, error) {
	const op = "pgbackend.Backend.FetchTicketCatalog"

	types, err := b.store.TicketTypes().List(ctx)
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	return types, nil
}

// SubmitBooking re-validates the request against the database and stores it
// in a serializable transaction, retried on serialization conflicts.
func (b *Backend) SubmitBooking(ctx context.Context, req domain.BookingRequest) (*domain.BookingConfirmation, error) {
	const op = "pgbackend.Backend.SubmitBooking"

	var userID *string
	if id := domain.PrincipalFrom(ctx).UserID; id != "" {
		userID = &id
	}

	var conf *domain.BookingConfirmation

	err := b.uow.DoRetry(ctx, b.cfg.TxAttempts, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		s, err := b.store.Screenings().With(tx).Get(ctx, req.ScreeningID)
		if err != nil {
			return err
		}

		types, err := b.store.TicketTypes().With(tx).List(ctx)
		if err != nil {
			return err
		}

		total, err := validate(*s, booking.CatalogOrDefault(types), req, b.now().In(b.cfg.Location))
		if err != nil {
			return err
		}

		c, err := b.store.Bookings().With(tx).Create(ctx, userID, req, total)
		if err != nil {
			return err
		}

		conf = c

		after(func(ctx context.Context) {
			b.screeningChanged(ctx, req.ScreeningID)
		})

		return nil
	})
	if err != nil {
		return nil, submitErr(op, err)
	}

	return conf, nil
}

func submitErr(op string, err error) error {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		return vErr
	case errors.Is(err, repository.ErrNotFound):
		return &domain.ValidationError{Message: "screening not found"}
	case errors.Is(err, repository.ErrSeatsTaken):
		return &domain.ValidationError{Message: "seat already taken"}
	case errors.Is(err, uow.ErrRetriesExhausted):
		return &domain.ValidationError{Message: "the seats are being booked by someone else, please try again"}
	default:
		return &domain.NetworkError{Op: op, Err: err}
	}
}

// ListBookings returns the bookings of the signed-in user.
//
// Returns domain.ErrUnauthenticated without a user.
func (b *Backend) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	const op = "pgbackend.Backend.ListBookings"

	userID := domain.PrincipalFrom(ctx).UserID
	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	}

	var list []domain.Booking

	// seats and ticket lines are read in separate queries; one snapshot keeps
	// them consistent with the bookings
	err := b.uow.DoWithOpts(ctx, uow.ReadOnly, func(
		ctx context.Context,
		tx postgresrepo.DB,
		_ func(uow.AfterCommit),
	) error {
		l, err := b.store.Bookings().With(tx).ListByUser(ctx, userID)
		list = l
		return err
	})
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}

	return list, nil
}

// GetBooking returns one booking of the signed-in user.
//
// Returns domain.ErrBookingNotFound when it does not exist or belongs to
// someone else.
func (b *Backend) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "pgbackend.Backend.GetBooking"

	userID := domain.PrincipalFrom(ctx).UserID
	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	}

	var bk *domain.Booking

	err := b.uow.DoWithOpts(ctx, uow.ReadOnly, func(
		ctx context.Context,
		tx postgresrepo.DB,
		_ func(uow.AfterCommit),
	) error {
		v, err := b.store.Bookings().With(tx).Get(ctx, id)
		bk = v
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, domain.ErrBookingNotFound)
	case err != nil:
		return nil, &domain.NetworkError{Op: op, Err: err}
	case bk.UserID != userID:
		return nil, fmt.Errorf("%s: %w", op, domain.ErrBookingNotFound)
	}

	return bk, nil
}

// CancelBooking removes a booking of the signed-in user and frees its seats.
//
// Returns domain.ErrBookingNotFound when it does not exist or belongs to
// someone else.
func (b *Backend) CancelBooking(ctx context.Context, id int64) error {
	const op = "pgbackend.Backend.CancelBooking"

	userID := domain.PrincipalFrom(ctx).UserID
	if userID == "" {
		return fmt.Errorf("%s: %w", op, domain.ErrUnauthenticated)
	}

	err := b.uow.DoRetry(ctx, b.cfg.TxAttempts, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		repo := b.store.Bookings().With(tx)

		bk, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if bk.UserID != userID {
			return repository.ErrNotFound
		}

		if err := repo.Delete(ctx, id); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			b.screeningChanged(ctx, bk.ScreeningID)
		})

		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrBookingNotFound)
	default:
		return &domain.NetworkError{Op: op, Err: err}
	}
}

func (b *Backend) screeningChanged(ctx context.Context, screeningID int64) {
	if b.changes != nil {
		_ = b.changes.PublishScreeningChanged(ctx, screeningID)
	}
}

// validate repeats the draft checks on the server side and returns the total
// price of the request.
func validate(s domain.Screening, catalog booking.Catalog, req domain.BookingRequest, now time.Time) (decimal.Decimal, error) {
	if s.InPast(now, now.Location()) {
		return decimal.Zero, &domain.ValidationError{Message: "screening has already started"}
	}
	if len(req.Seats) == 0 {
		return decimal.Zero, &domain.ValidationError{Message: "at least one seat must be selected"}
	}
	if len(req.LineItems) == 0 {
		return decimal.Zero, &domain.ValidationError{Message: "at least one ticket type must be selected"}
	}

	base := booking.BasePriceOrDefault(s.BasePrice)
	total := decimal.Zero
	count := 0
	seenType := make(map[string]struct{}, len(req.LineItems))
	for _, it := range req.LineItems {
		tt, ok := catalog.Lookup(it.Type)
		if !ok {
			return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("unknown ticket type %q", it.Type)}
		}
		if _, dup := seenType[it.Type]; dup {
			return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("ticket type %q listed twice", it.Type)}
		}
		if it.Quantity < 1 || it.Quantity > booking.MaxQuantity {
			return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("invalid quantity for %q", it.Type)}
		}
		seenType[it.Type] = struct{}{}
		count += it.Quantity
		total = total.Add(base.Mul(tt.PriceMultiplier).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if count != len(req.Seats) {
		return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("exactly %d seats must be selected", count)}
	}

	occupied := make(map[domain.Seat]struct{}, len(s.OccupiedSeats))
	for _, o := range s.OccupiedSeats {
		occupied[o] = struct{}{}
	}
	seen := make(map[domain.Seat]struct{}, len(req.Seats))
	for _, seat := range req.Seats {
		if !s.Room.Contains(seat) {
			return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("seat %d/%d is outside the room", seat.Row, seat.Seat)}
		}
		if _, dup := seen[seat]; dup {
			return decimal.Zero, &domain.ValidationError{Message: fmt.Sprintf("seat %d/%d selected twice", seat.Row, seat.Seat)}
		}
		if _, taken := occupied[seat]; taken {
			return decimal.Zero, &domain.ValidationError{Message: "seat already taken"}
		}
		seen[seat] = struct{}{}
	}

	return total, nil
}
