package tikera

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/shopspring/decimal"
)

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

type roomDTO struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Rows           flexInt `json:"rows"`
	SeatsPerRow    flexInt `json:"seats_per_row"`
	SeatsPerRowAlt flexInt `json:"seatsPerRow"`
}

func (r *roomDTO) seatsPerRow() int {
	if r.SeatsPerRow > 0 {
		return int(r.SeatsPerRow)
	}
	return int(r.SeatsPerRowAlt)
}

func (r *roomDTO) complete() bool {
	return r != nil && r.Rows > 0 && r.seatsPerRow() > 0
}

type seatDTO struct {
	Row    flexInt `json:"row"`
	Seat   flexInt `json:"seat"`
	Number flexInt `json:"number"`
}

func (s seatDTO) toDomain() domain.Seat {
	n := s.Seat
	if n == 0 {
		n = s.Number
	}
	return domain.Seat{Row: int(s.Row), Seat: int(n)}
}

type movieDTO struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type screeningDTO struct {
	ID        int64            `json:"id"`
	MovieID   int64            `json:"movie_id"`
	RoomID    int64            `json:"room_id"`
	Date      string           `json:"date"`
	StartTime string           `json:"start_time"`
	BasePrice *decimal.Decimal `json:"base_price"`
	Movie     *movieDTO        `json:"movie"`
	Room      *roomDTO         `json:"room"`
	Bookings  []seatDTO        `json:"bookings"`
}

func (s screeningDTO) toDomain(room *roomDTO) domain.Screening {
	out := domain.Screening{
		ID:            s.ID,
		MovieID:       s.MovieID,
		Date:          s.Date,
		StartTime:     s.StartTime,
		BasePrice:     s.BasePrice,
		OccupiedSeats: make([]domain.Seat, 0, len(s.Bookings)),
	}

	if s.Movie != nil {
		out.MovieTitle = s.Movie.Title
		if out.MovieID == 0 {
			out.MovieID = s.Movie.ID
		}
	}

	out.Room = domain.Room{ID: s.RoomID, Rows: placeholderRows, SeatsPerRow: placeholderSeatsPerRow}
	if room != nil {
		if room.ID != 0 {
			out.Room.ID = room.ID
		}
		out.Room.Name = room.Name
		if room.complete() {
			out.Room.Rows = int(room.Rows)
			out.Room.SeatsPerRow = room.seatsPerRow()
		}
	}

	for _, b := range s.Bookings {
		out.OccupiedSeats = append(out.OccupiedSeats, b.toDomain())
	}

	return out
}

type ticketTypeDTO struct {
	Name            string          `json:"name"`
	DisplayName     string          `json:"display_name"`
	PriceMultiplier decimal.Decimal `json:"price_multiplier"`
}

type bookingSeatBody struct {
	Row    int `json:"row"`
	Number int `json:"number"`
}

type bookingBody struct {
	ScreeningID int64             `json:"screening_id"`
	Seats       []bookingSeatBody `json:"seats"`
	TicketTypes []domain.LineItem `json:"ticket_types"`
}

func newBookingBody(req domain.BookingRequest) bookingBody {
	seats := make([]bookingSeatBody, 0, len(req.Seats))
	for _, s := range req.Seats {
		seats = append(seats, bookingSeatBody{Row: s.Row, Number: s.Seat})
	}
	return bookingBody{
		ScreeningID: req.ScreeningID,
		Seats:       seats,
		TicketTypes: req.LineItems,
	}
}

type ticketLineDTO struct {
	Type     string  `json:"type"`
	Quantity flexInt `json:"quantity"`
	Count    flexInt `json:"count"`
}

func (l ticketLineDTO) toDomain() domain.LineItem {
	q := l.Quantity
	if q == 0 {
		q = l.Count
	}
	if q == 0 {
		q = 1
	}
	return domain.LineItem{Type: l.Type, Quantity: int(q)}
}

type bookingDTO struct {
	ID          int64            `json:"id"`
	UserID      json.RawMessage  `json:"user_id"`
	Status      string           `json:"status"`
	TotalPrice  *decimal.Decimal `json:"total_price"`
	CreatedAt   json.RawMessage  `json:"created_at"`
	ScreeningID int64            `json:"screening_id"`
	Seats       []seatDTO        `json:"seats"`
	TicketTypes []ticketLineDTO  `json:"ticket_types"`
	Screening   *screeningDTO    `json:"screening"`
}

func (b bookingDTO) toDomain(req domain.BookingRequest) domain.BookingConfirmation {
	conf := domain.BookingConfirmation{
		ID:          b.ID,
		ScreeningID: req.ScreeningID,
		Status:      b.status(),
		Seats:       req.Seats,
		LineItems:   req.LineItems,
		CreatedAt:   b.createdAt(),
	}
	if b.TotalPrice != nil {
		conf.TotalPrice = *b.TotalPrice
	}

	return conf
}

// toBooking maps a booking as listed by GET /bookings, which carries its own
// seats, ticket lines and usually the nested screening.
func (b bookingDTO) toBooking() domain.Booking {
	out := domain.Booking{
		BookingConfirmation: domain.BookingConfirmation{
			ID:          b.ID,
			ScreeningID: b.ScreeningID,
			Status:      b.status(),
			Seats:       make([]domain.Seat, 0, len(b.Seats)),
			LineItems:   make([]domain.LineItem, 0, len(b.TicketTypes)),
			CreatedAt:   b.createdAt(),
		},
		UserID: strings.Trim(string(b.UserID), `"`),
	}
	if out.UserID == "null" {
		out.UserID = ""
	}
	if b.TotalPrice != nil {
		out.TotalPrice = *b.TotalPrice
	}

	for _, s := range b.Seats {
		out.Seats = append(out.Seats, s.toDomain())
	}
	for _, l := range b.TicketTypes {
		out.LineItems = append(out.LineItems, l.toDomain())
	}

	if b.Screening != nil {
		s := b.Screening.toDomain(b.Screening.Room)
		if out.ScreeningID == 0 {
			out.ScreeningID = s.ID
		}
		out.Screening = &s
	}

	return out
}

func (b bookingDTO) status() string {
	if b.Status == "" {
		return "confirmed"
	}
	return b.Status
}

func (b bookingDTO) createdAt() time.Time {
	var ts string
	if json.Unmarshal(b.CreatedAt, &ts) != nil {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
