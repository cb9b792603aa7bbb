package storage

import "errors"

// ErrNotFound is returned when an entity id does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when an alert status change violates the
// forward-only state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
