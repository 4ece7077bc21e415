package queue

import "errors"

var (
	// ErrNotFound is returned by mutating calls that target an unknown item id.
	ErrNotFound = errors.New("queue item not found")
	// ErrInvalidTransition is returned when an item's current status does not
	// allow the requested change.
	ErrInvalidTransition = errors.New("invalid status transition")
)
