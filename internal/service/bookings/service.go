// Package bookings lists and cancels the signed-in user's bookings.
package bookings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirinyoku/cinebook/internal/domain"
)

// Source is the bookings side of a booking backend. Implementations scope
// every call to the principal carried by ctx.
type Source interface {
	ListBookings(ctx context.Context) ([]domain.Booking, error)
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id int64) error
}

// Invalidator drops cached screening state.
type Invalidator interface {
	Invalidate(ctx context.Context, screeningID int64)
}

type Notifier interface {
	PublishScreeningChanged(ctx context.Context, screeningID int64) error
}

type Service struct {
	src        Source
	screenings Invalidator
	notifier   Notifier
	log        *slog.Logger
}

// New builds the service. notifier may be nil when the backend announces
// changes itself.
func New(src Source, screenings Invalidator, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		src:        src,
		screenings: screenings,
		notifier:   notifier,
		log:        log,
	}
}

// List returns the caller's bookings, newest first.
//
// Returns domain.ErrUnauthenticated for an anonymous caller.
func (s *Service) List(ctx context.Context) ([]domain.Booking, error) {
	const op = "service.bookings.List"

	if err := signedIn(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	list, err := s.src.ListBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if list == nil {
		list = []domain.Booking{}
	}

	return list, nil
}

// Get returns one of the caller's bookings.
//
// Returns domain.ErrBookingNotFound if it does not exist or belongs to
// someone else.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "service.bookings.Get"

	if err := signedIn(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.src.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// Cancel removes one of the caller's bookings and frees its seats.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	const op = "service.bookings.Cancel"

	if err := signedIn(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.src.GetBooking(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.src.CancelBooking(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.screenings.Invalidate(ctx, b.ScreeningID)

	if s.notifier != nil {
		if err := s.notifier.PublishScreeningChanged(ctx, b.ScreeningID); err != nil {
			s.log.Warn("screening change not published", slog.Int64("screening_id", b.ScreeningID), slog.Any("err", err))
		}
	}

	s.log.Info("booking cancelled",
		slog.Int64("booking_id", id),
		slog.Int64("screening_id", b.ScreeningID),
	)

	return nil
}

func signedIn(ctx context.Context) error {
	p := domain.PrincipalFrom(ctx)
	if p.UserID == "" && p.Token == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}
