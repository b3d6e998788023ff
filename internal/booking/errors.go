package booking

import (
	"errors"
	"fmt"
)

// ErrAdmissionDenied is the sentinel for bookings rejected by admission
// control. Match with errors.Is; the concrete error is an *AdmissionError.
var ErrAdmissionDenied = errors.New("booking: admission denied")

// AdmissionError rejects an at-risk patient from a learned high-demand slot.
// It carries the doctor so the message can name whose schedule is protected.
type AdmissionError struct {
	Doctor string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("appointments with %s are in high demand at this time; please choose a different slot", e.Doctor)
}

func (e *AdmissionError) Unwrap() error { return ErrAdmissionDenied }
