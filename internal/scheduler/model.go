// Package scheduler is a durable one-shot timer service backed by Postgres.
// Jobs survive restarts; execution is at-most-once, enforced by a status CAS
// when a worker claims the row. Recurring singleton jobs carry a cron
// expression and re-arm themselves after every run.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the handler a job is dispatched to.
type Kind string

const (
	// KindReminderFire delivers one scheduled appointment reminder.
	KindReminderFire Kind = "reminder.fire"
	// KindAutoMiss flips a still-booked appointment to missed shortly after
	// its start time.
	KindAutoMiss Kind = "appointment.automiss"

	// Recurring demand jobs. Each is a singleton keyed by its own kind.
	KindMonthEndLearn     Kind = "demand.month_end_learn"
	KindMonthlyRecalc     Kind = "demand.monthly_recalc"
	KindHourlyMaintenance Kind = "demand.hourly_maintenance"
)

// Cron expressions for the recurring kinds, evaluated in the clinic timezone.
const (
	CronMonthEndLearn     = "59 23 28-31 * *"
	CronMonthlyRecalc     = "0 2 1 * *"
	CronHourlyMaintenance = "0 * * * *"
)

// Status is the lifecycle of a job row: pending → running → done|failed.
// Re-arming an existing (kind, key) resets the row to pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one durable timer. Payload is the raw JSON handed to the handler.
// CronExpr is empty for one-shot jobs.
type Job struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	FireAt    time.Time `json:"fireAt"`
	Payload   []byte    `json:"payload"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	CronExpr  string    `json:"cronExpr,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Recurring reports whether the job re-arms itself after each run.
func (j Job) Recurring() bool { return j.CronExpr != "" }

// ReminderFirePayload is the payload for KindReminderFire jobs.
type ReminderFirePayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	SendTime      time.Time `json:"send_time"`
}

// AutoMissPayload is the payload for KindAutoMiss jobs.
type AutoMissPayload struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
}

// ReminderKey builds the unique key for one reminder of one appointment.
// Keys share the appointment ID as a prefix so every reminder of an
// appointment can be cancelled with a single CancelPrefix call.
func ReminderKey(appointmentID uuid.UUID, sendTime time.Time) string {
	return appointmentID.String() + "@" + sendTime.UTC().Format(time.RFC3339)
}

// ReminderKeyPrefix matches every reminder key of the given appointment.
func ReminderKeyPrefix(appointmentID uuid.UUID) string {
	return appointmentID.String() + "@"
}

// AutoMissKey is the key of the appointment's single auto-miss job.
func AutoMissKey(appointmentID uuid.UUID) string {
	return appointmentID.String()
}
