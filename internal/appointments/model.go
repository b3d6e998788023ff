// Package appointments holds the slot aggregate: the appointment row, its
// embedded reminder rows, and the status lifecycle
// available → booked → attended|missed.
package appointments

import (
	"time"

	"github.com/google/uuid"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusAttended  Status = "attended"
	StatusMissed    Status = "missed"
)

// Terminal reports whether the status never changes again.
func (s Status) Terminal() bool {
	return s == StatusAttended || s == StatusMissed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBooked, StatusAttended, StatusMissed:
		return true
	default:
		return false
	}
}

// ReminderStatus is the delivery state of one reminder row.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
)

// Reminder is one planned or delivered nudge belonging to an appointment.
// A row transitions scheduled → sent exactly once; MessageText carries the
// rendered text once sent and feeds the per-appointment used-template set.
type Reminder struct {
	ID              int64                      `json:"-"`
	AppointmentID   uuid.UUID                  `json:"-"`
	MessageCategory classifier.MessageCategory `json:"messageCategory"`
	SendTime        time.Time                  `json:"sendTime"`
	Status          ReminderStatus             `json:"status"`
	MessageText     *string                    `json:"text,omitempty"`
	CreatedAt       time.Time                  `json:"-"`
	UpdatedAt       time.Time                  `json:"-"`
}

// Appointment is one bookable slot. UserName is set iff status ≠ available.
type Appointment struct {
	ID         uuid.UUID  `json:"id"`
	DoctorName string     `json:"doctorName"`
	StartsAt   time.Time  `json:"date"`
	Status     Status     `json:"status"`
	UserName   *string    `json:"userName,omitempty"`
	Reminders  []Reminder `json:"reminders,omitempty"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"-"`
}

// BookedBy returns the owning user name, empty when the slot is open.
func (a *Appointment) BookedBy() string {
	if a.UserName == nil {
		return ""
	}
	return *a.UserName
}

// UsedReminderTexts returns the set of already-rendered reminder texts,
// the uniqueness scope for template selection on this appointment.
func (a *Appointment) UsedReminderTexts() map[string]struct{} {
	used := make(map[string]struct{})
	for i := range a.Reminders {
		if a.Reminders[i].MessageText != nil && *a.Reminders[i].MessageText != "" {
			used[*a.Reminders[i].MessageText] = struct{}{}
		}
	}
	return used
}

// ReminderAt returns the reminder row with the given send time, if any.
func (a *Appointment) ReminderAt(sendTime time.Time) *Reminder {
	for i := range a.Reminders {
		if a.Reminders[i].SendTime.Equal(sendTime) {
			return &a.Reminders[i]
		}
	}
	return nil
}
