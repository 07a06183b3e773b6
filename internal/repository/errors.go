package repository

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrSeatsTaken     = errors.New("some seats already booked")
	ErrTooManyRetries = errors.New("too many concurrent updates")
)
