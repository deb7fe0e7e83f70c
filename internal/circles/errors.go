package circles

import "errors"

var (
	// ErrNotFound is returned when a contact or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCircle is returned for an unrecognized circle tag. Batch
	// operations return it before any record is written.
	ErrInvalidCircle = errors.New("invalid circle")

	// ErrTransientSignal marks a signal source (calendar, interaction history)
	// that was unavailable for one contact.
	ErrTransientSignal = errors.New("signal source unavailable")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
