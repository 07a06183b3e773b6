package httpgin

import (
	"github.com/kirinyoku/cinebook/internal/booking"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/service/checkout"
	"github.com/shopspring/decimal"
)

type UpdateTicketRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

type ToggleSeatRequest struct {
	Row  int `json:"row" binding:"required,gt=0"`
	Seat int `json:"seat" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SeatMapResponse struct {
	Room     domain.Room       `json:"room"`
	Rows     []booking.GridRow `json:"rows"`
	Selected []domain.Seat     `json:"selected"`
	Limit    int               `json:"limit"`
}

type SessionResponse struct {
	SessionID   string              `json:"session_id"`
	Stage       int                 `json:"stage"`
	StageName   string              `json:"stage_name"`
	Screening   domain.Screening    `json:"screening"`
	TicketTypes []domain.TicketType `json:"ticket_types"`
	Lines       []SessionLine       `json:"lines"`
	Seats       []domain.Seat       `json:"seats"`
	BasePrice   decimal.Decimal     `json:"base_price"`
	TotalCount  int                 `json:"total_tickets"`
	TotalPrice  decimal.Decimal     `json:"total_price"`
	CanAdvance  bool                `json:"can_advance"`
	InPast      bool                `json:"in_past"`
	Submitting  bool                `json:"submitting"`
	LastError   string              `json:"last_error,omitempty"`
}

type SessionLine struct {
	Index       int             `json:"index"`
	Type        string          `json:"type"`
	DisplayName string          `json:"display_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LinePrice   decimal.Decimal `json:"line_price"`
}

func newSessionResponse(v *checkout.View) SessionResponse {
	lines := make([]SessionLine, 0, len(v.Summary.Lines))
	for i, l := range v.Summary.Lines {
		lines = append(lines, SessionLine{
			Index:       i,
			Type:        l.Type,
			DisplayName: l.DisplayName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LinePrice:   l.LinePrice,
		})
	}

	seats := v.Summary.Seats
	if seats == nil {
		seats = []domain.Seat{}
	}

	return SessionResponse{
		SessionID:   v.SessionID,
		Stage:       int(v.Summary.Stage),
		StageName:   v.Summary.StageName,
		Screening:   v.Screening,
		TicketTypes: v.Catalog,
		Lines:       lines,
		Seats:       seats,
		BasePrice:   v.Summary.BasePrice,
		TotalCount:  v.Summary.TotalTickets,
		TotalPrice:  v.Summary.TotalPrice,
		CanAdvance:  canAdvance(v),
		InPast:      v.InPast,
		Submitting:  v.Submitting,
		LastError:   v.LastError,
	}
}

func canAdvance(v *checkout.View) bool {
	switch v.Summary.Stage {
	case booking.StageTickets:
		return v.Summary.TotalTickets > 0
	case booking.StageSeats:
		return len(v.Summary.Seats) == v.Summary.TotalTickets
	default:
		return false
	}
}

func newSeatMapResponse(v *checkout.View) SeatMapResponse {
	seats := v.Summary.Seats
	if seats == nil {
		seats = []domain.Seat{}
	}
	return SeatMapResponse{
		Room:     v.Screening.Room,
		Rows:     v.Grid,
		Selected: seats,
		Limit:    v.Summary.TotalTickets,
	}
}
