package appointments

import "errors"

var (
	// ErrSlotNotFound is returned when no appointment matches the given ID.
	ErrSlotNotFound = errors.New("appointments: slot not found")

	// ErrNotAvailable is returned when a booking CAS loses: the slot was
	// taken, deleted, or already past status available.
	ErrNotAvailable = errors.New("appointments: slot not available")
)
