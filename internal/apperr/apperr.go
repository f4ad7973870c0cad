// Package apperr defines the error taxonomy shared by the order core.
// Handlers translate these into HTTP responses; everything else is treated
// as a generic persistence failure so internal detail never leaks out.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound means a referenced listed item does not exist.
	ErrItemNotFound = errors.New("listed item not found")

	// ErrItemUnavailable means the listed item exists but is not sellable.
	ErrItemUnavailable = errors.New("listed item is not available for sale")

	// ErrInsufficientStock means the requested quantity exceeds on-hand stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound means the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrForbidden means the requester does not own the order it is acting on.
	ErrForbidden = errors.New("order does not belong to requester")

	// ErrReservationNotFound means no reservation record exists for the order.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAlreadyReleased means the order's reservation was already consumed;
	// the caller must not credit stock again.
	ErrAlreadyReleased = errors.New("reservation already released")
)

// ValidationError reports a malformed or missing request field. The client
// must fix the request and retry; no state was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// ConflictError reports a business-rule rejection (multi-seller order,
// self-purchase, insufficient stock). No partial state change occurred.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// StateError reports an order lifecycle transition that is not allowed from
// the order's current status.
type StateError struct {
	Current string
	Action  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s an order in status %q", e.Action, e.Current)
}

// IsClientFault reports whether err belongs to the request-side taxonomy
// (validation, not-found, conflict, state). Anything else is surfaced as a
// generic persistence failure.
func IsClientFault(err error) bool {
	var ve *ValidationError
	var ce *ConflictError
	var se *StateError
	switch {
	case errors.As(err, &ve), errors.As(err, &ce), errors.As(err, &se):
		return true
	}
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrItemUnavailable) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrForbidden)
}
