package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for appointments and their reminder rows.
type Store struct {
	db DB
}

// NewStore creates an appointments store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const apptColumns = `id, doctor_name, starts_at, status, user_name, created_at, updated_at`

const reminderColumns = `id, appointment_id, message_category, send_time, status, message_text, created_at, updated_at`

// CreateSlots inserts one available appointment per start time and returns
// the created rows in input order.
func (s *Store) CreateSlots(ctx context.Context, doctorName string, startTimes []time.Time) ([]Appointment, error) {
	created := make([]Appointment, 0, len(startTimes))
	now := time.Now().UTC()
	for _, at := range startTimes {
		row := s.db.QueryRow(ctx, `
			INSERT INTO appointments (id, doctor_name, starts_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING `+apptColumns,
			uuid.New(), doctorName, at.UTC(), string(StatusAvailable), now)
		a, err := scanAppointment(row)
		if err != nil {
			return nil, fmt.Errorf("appointments: create slot: %w", err)
		}
		created = append(created, *a)
	}
	return created, nil
}

// Find loads one appointment with its reminder rows.
func (s *Store) Find(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("appointments: find: %w", err)
	}
	reminders, err := s.ListReminders(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Reminders = reminders
	return a, nil
}

// List returns appointments ordered by start time. A nil status returns all.
func (s *Store) List(ctx context.Context, status *Status) ([]Appointment, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == nil {
		rows, err = s.db.Query(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			ORDER BY starts_at, doctor_name`)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+apptColumns+`
			FROM appointments
			WHERE status = $1
			ORDER BY starts_at, doctor_name`, string(*status))
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListByStatusBetween returns appointments with the given status whose start
// time falls in [from, to).
func (s *Store) ListByStatusBetween(ctx context.Context, status Status, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = $1 AND starts_at >= $2 AND starts_at < $3
		ORDER BY starts_at, doctor_name`,
		string(status), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("appointments: list by status between: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Book claims an available slot for the named user. The compare-and-set on
// status makes concurrent bookings of the same slot lose cleanly.
func (s *Store) Book(ctx context.Context, id uuid.UUID, userName string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, user_name = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(StatusBooked), userName, time.Now().UTC(), id, string(StatusAvailable))
	if err != nil {
		return fmt.Errorf("appointments: book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAvailable
	}
	return nil
}

// SetTerminalStatus moves a booked appointment to attended or missed. It
// reports false without error when the row was not in status booked, so
// callers can distinguish a lost race from a repeated request.
func (s *Store) SetTerminalStatus(ctx context.Context, id uuid.UUID, status Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("appointments: set terminal status: %q is not terminal", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(status), time.Now().UTC(), id, string(StatusBooked))
	if err != nil {
		return false, fmt.Errorf("appointments: set terminal status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes an appointment; reminder rows cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// DeleteAvailableBefore removes never-booked slots whose start time has
// passed and returns how many were dropped.
func (s *Store) DeleteAvailableBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE status = $1 AND starts_at < $2`,
		string(StatusAvailable), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("appointments: delete available before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertReminder records one reminder row. The partial unique index on
// (appointment_id, send_time) for scheduled rows rejects double planning.
func (s *Store) InsertReminder(ctx context.Context, r *Reminder) error {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO appointment_reminders (appointment_id, message_category, send_time, status, message_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		r.AppointmentID, string(r.MessageCategory), r.SendTime.UTC(), string(r.Status), r.MessageText, now)
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("appointments: insert reminder: %w", err)
	}
	return nil
}

// ListReminders returns an appointment's reminder rows in send order.
func (s *Store) ListReminders(ctx context.Context, apptID uuid.UUID) ([]Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM appointment_reminders
		WHERE appointment_id = $1
		ORDER BY send_time, id`, apptID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list reminders: %w", err)
	}
	defer rows.Close()
	var result []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan reminder: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// MarkReminderSent flips the scheduled row at (apptID, sendTime) to sent and
// stores the rendered text. It reports false when no scheduled row matched,
// which means another process already delivered it.
func (s *Store) MarkReminderSent(ctx context.Context, apptID uuid.UUID, sendTime time.Time, text string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointment_reminders SET status = $1, message_text = $2, updated_at = $3
		WHERE appointment_id = $4 AND send_time = $5 AND status = $6`,
		string(ReminderSent), text, time.Now().UTC(), apptID, sendTime.UTC(), string(ReminderScheduled))
	if err != nil {
		return false, fmt.Errorf("appointments: mark reminder sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// StatusCounts returns the number of appointments per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("appointments: status counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("appointments: scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// ReminderStatusCounts returns the number of reminder rows per status.
func (s *Store) ReminderStatusCounts(ctx context.Context) (map[ReminderStatus]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM appointment_reminders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("appointments: reminder status counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[ReminderStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("appointments: scan reminder count: %w", err)
		}
		counts[ReminderStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(
		&a.ID, &a.DoctorName, &a.StartsAt, &status, &a.UserName,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan appointment: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	var category, status string
	if err := row.Scan(
		&r.ID, &r.AppointmentID, &category, &r.SendTime, &status, &r.MessageText,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.MessageCategory = classifier.MessageCategory(category)
	r.Status = ReminderStatus(status)
	return &r, nil
}
