package session

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the
	// controller's current state.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrBusy is returned when an analysis is already in flight.
	ErrBusy = errors.New("an analysis is already in flight")
	// ErrNoActiveDocument is returned by chat operations with nothing active.
	ErrNoActiveDocument = errors.New("no active document")
	// ErrNotFound is returned when a library id does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrSuperseded is returned when an analysis completes after the session
	// has moved on; its result is discarded, never applied.
	ErrSuperseded = errors.New("analysis superseded")
)
