package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
)

var (
	ErrSessionNotFound     = errors.New("booking session not found")
	ErrSubmitInProgress    = errors.New("booking is already being submitted")
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")
	ErrRateLimited         = errors.New("too many booking attempts")
	ErrSeatTaken           = errors.New("selected seats were booked by someone else")
	ErrBadSessionState     = errors.New("stored session is unreadable")
)

// RateLimitError is ErrRateLimited with the time until the next attempt is
// allowed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// SeatsTakenError lists the selected seats that turned out to be occupied.
// They have already been removed from the draft.
type SeatsTakenError struct {
	Seats []domain.Seat
}

func (e *SeatsTakenError) Error() string {
	parts := make([]string, 0, len(e.Seats))
	for _, s := range e.Seats {
		parts = append(parts, fmt.Sprintf("%d/%d", s.Row, s.Seat))
	}
	return fmt.Sprintf("%s: %s", ErrSeatTaken, strings.Join(parts, ", "))
}

func (e *SeatsTakenError) Is(target error) bool { return target == ErrSeatTaken }
