package booking

import "errors"

var (
	ErrNoAvailableTicketType   = errors.New("every ticket type has already been added")
	ErrSeatCapacityExceeded    = errors.New("cannot select more seats than tickets")
	ErrIncompleteSeatSelection = errors.New("number of selected seats must match the number of tickets")
	ErrScreeningInPast         = errors.New("cannot book a screening that has already started")
	ErrNoTickets               = errors.New("at least one ticket is required")
	ErrLastLineItem            = errors.New("at least one ticket type must remain")
	ErrInvalidQuantity         = errors.New("quantity must be a whole number between 0 and 10")
	ErrUnknownTicketType       = errors.New("unknown ticket type")
	ErrDuplicateTicketType     = errors.New("ticket type is already selected")
	ErrLineItemNotFound        = errors.New("ticket line not found")
	ErrUnknownField            = errors.New("unknown ticket field")
	ErrSeatOutOfRange          = errors.New("seat is outside the room")
	ErrReadOnly                = errors.New("booking is under review; go back to change it")
	ErrInvalidStage            = errors.New("invalid stage transition")
)
