package domain

import (
	"errors"
	"fmt"
)

var (
	ErrScreeningNotFound = errors.New("screening not found")
	ErrBookingNotFound   = errors.New("booking not found")
	// ErrUnauthenticated means the operation needs a signed-in user.
	ErrUnauthenticated = errors.New("sign-in required")
)

// ValidationError is a booking rejection by the backend. Message is shown to
// the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NetworkError wraps transport failures and unexpected backend responses.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
