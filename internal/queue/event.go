// Package queue publishes booking events to RabbitMQ.
package queue

import (
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

// BookingConfirmedEvent is published once per successful booking.
type BookingConfirmedEvent struct {
	BookingID   int64             `json:"booking_id"`
	ScreeningID int64             `json:"screening_id"`
	UserID      string            `json:"user_id,omitempty"`
	Seats       []domain.Seat     `json:"seats"`
	TicketTypes []domain.LineItem `json:"ticket_types"`
	TotalPrice  decimal.Decimal   `json:"total_price"`
	ConfirmedAt time.Time         `json:"confirmed_at"`
}

func NewBookingConfirmed(conf domain.BookingConfirmation, userID string, at time.Time) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:   conf.ID,
		ScreeningID: conf.ScreeningID,
		UserID:      userID,
		Seats:       conf.Seats,
		TicketTypes: conf.LineItems,
		TotalPrice:  conf.TotalPrice,
		ConfirmedAt: at.UTC(),
	}
}
