package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrScreeningTimeUnknown = errors.New("screening date or start time is missing")

type Room struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Rows        int    `json:"rows"`
	SeatsPerRow int    `json:"seats_per_row"`
}

// Contains reports whether the coordinate lies inside the room.
func (r Room) Contains(s Seat) bool {
	return s.Row >= 1 && s.Row <= r.Rows && s.Seat >= 1 && s.Seat <= r.SeatsPerRow
}

type Seat struct {
	Row  int `json:"row"`
	Seat int `json:"seat"`
}

type TicketType struct {
	Name            string          `json:"name"`
	DisplayName     string          `json:"display_name"`
	PriceMultiplier decimal.Decimal `json:"price_multiplier"`
}

type LineItem struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type Screening struct {
	ID            int64            `json:"id"`
	MovieID       int64            `json:"movie_id"`
	MovieTitle    string           `json:"movie_title,omitempty"`
	Date          string           `json:"date"`
	StartTime     string           `json:"start_time"`
	BasePrice     *decimal.Decimal `json:"base_price,omitempty"`
	Room          Room             `json:"room"`
	OccupiedSeats []Seat           `json:"occupied_seats"`
}

// StartsAt combines Date and StartTime in loc. StartTime may be a bare clock
// ("18:30", "18:30:00") or a full datetime, in which case only its clock part
// is used.
func (s Screening) StartsAt(loc *time.Location) (time.Time, error) {
	if s.Date == "" || s.StartTime == "" {
		return time.Time{}, ErrScreeningTimeUnknown
	}

	clock := s.StartTime
	if i := strings.IndexAny(clock, "T "); i >= 0 {
		clock = clock[i+1:]
	}
	// drop fractional seconds and zone suffixes of full datetimes
	if i := strings.IndexAny(clock, ".Z+-"); i >= 0 {
		clock = clock[:i]
	}

	date := s.Date
	if len(date) > 10 {
		date = date[:10]
	}

	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.ParseInLocation("2006-01-02 "+layout, date+" "+clock, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q %q", ErrScreeningTimeUnknown, s.Date, s.StartTime)
}

// InPast reports whether the screening has already started at now. A screening
// whose start cannot be determined is treated as past.
func (s Screening) InPast(now time.Time, loc *time.Location) bool {
	starts, err := s.StartsAt(loc)
	if err != nil {
		return true
	}
	return starts.Before(now)
}

type BookingRequest struct {
	ScreeningID int64      `json:"screening_id"`
	Seats       []Seat     `json:"seats"`
	LineItems   []LineItem `json:"ticket_types"`
}

type BookingConfirmation struct {
	ID          int64           `json:"id"`
	ScreeningID int64           `json:"screening_id"`
	Status      string          `json:"status"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Seats       []Seat          `json:"seats"`
	LineItems   []LineItem      `json:"ticket_types"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Booking is a stored booking as listed to its owner. Screening carries no
// occupied seats.
type Booking struct {
	BookingConfirmation
	UserID    string     `json:"user_id,omitempty"`
	Screening *Screening `json:"screening,omitempty"`
}
