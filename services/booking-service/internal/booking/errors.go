package booking

import (
	"errors"
	"fmt"

	"github.com/arman-chowdhury/pawbook/services/booking-service/internal/model"
)

var (
	ErrNotFound = errors.New("booking not found")
	ErrNotOwner = errors.New("booking does not belong to requester")
)

// ValidationError covers malformed input: bad duration, past window, window
// outside operating hours. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError means the slot is taken or is being taken right now. The
// caller should re-fetch availability and try again.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "booking conflict: " + e.Reason
}

// InvalidTransitionError is a lifecycle transition attempted from an
// incompatible state. Never retried automatically.
type InvalidTransitionError struct {
	From   model.Status
	To     model.Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition %s -> %s", e.From, e.To)
}

// StoreUnavailableError means the lock store or the reservation store could
// not be reached. Booking creation fails closed on it: denying a booking is
// recoverable, a double-booking is not.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}
