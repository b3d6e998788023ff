// Package attendance resolves booked appointments to attended or missed and
// propagates the outcome: patient counters and category, demand learning,
// the missed-visit survey, and cleanup of outstanding timers.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/classifier"
	"github.com/alshifa-health/clinic-appointments/internal/clinic"
	"github.com/alshifa-health/clinic-appointments/internal/demand"
	"github.com/alshifa-health/clinic-appointments/internal/notify"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// SlotStore is the appointments surface the attendance flow needs.
type SlotStore interface {
	Find(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	SetTerminalStatus(ctx context.Context, id uuid.UUID, status appointments.Status) (bool, error)
}

// UserDirectory reads and updates the booker's attendance record.
type UserDirectory interface {
	FindByName(ctx context.Context, name string) (*users.User, error)
	UpdateAttendanceStats(ctx context.Context, id uuid.UUID, attended, missed, score int, category classifier.Category) error
}

// AttendanceSink learns demand from attended appointments.
type AttendanceSink interface {
	RecordAttendance(ctx context.Context, doctor string, at time.Time) error
}

// Timers cancels the durable jobs an appointment no longer needs.
type Timers interface {
	Cancel(ctx context.Context, kind scheduler.Kind, key string) error
	CancelPrefix(ctx context.Context, kind scheduler.Kind, prefix string) (int64, error)
}

// SettingsSource supplies the survey link configuration.
type SettingsSource interface {
	Get(ctx context.Context) (clinic.Settings, error)
}

var (
	_ SlotStore      = (*appointments.Store)(nil)
	_ UserDirectory  = (*users.Store)(nil)
	_ AttendanceSink = (*demand.Engine)(nil)
	_ Timers         = (*scheduler.Dispatcher)(nil)
	_ SettingsSource = (*clinic.SettingsStore)(nil)
)

// Config collects the collaborators of an attendance Service.
type Config struct {
	Slots         SlotStore
	Users         UserDirectory
	Demand        AttendanceSink
	Timers        Timers
	Settings      SettingsSource
	Notifier      notify.Notifier
	PublicBaseURL string
	Logger        *logging.Logger
}

// Service applies terminal status transitions.
type Service struct {
	slots         SlotStore
	users         UserDirectory
	demand        AttendanceSink
	timers        Timers
	settings      SettingsSource
	notifier      notify.Notifier
	publicBaseURL string
	logger        *logging.Logger
	tracer        trace.Tracer
}

// NewService creates an attendance service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		slots:         cfg.Slots,
		users:         cfg.Users,
		demand:        cfg.Demand,
		timers:        cfg.Timers,
		settings:      cfg.Settings,
		notifier:      cfg.Notifier,
		publicBaseURL: cfg.PublicBaseURL,
		logger:        logger,
		tracer:        otel.Tracer("clinic.internal.attendance"),
	}
}

// SetStatus resolves a booked appointment to attended or missed. Repeating a
// transition that already happened succeeds without side effects; any other
// move from a non-booked state returns ErrInvalidTransition. Once the status
// flip commits, the bookkeeping that follows (counters, demand learning,
// survey, timer cleanup) is applied best-effort and never fails the call.
func (s *Service) SetStatus(ctx context.Context, apptID uuid.UUID, status appointments.Status, viaAutoMiss bool) (*appointments.Appointment, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, status)
	}

	ctx, span := s.tracer.Start(ctx, "attendance.set_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", apptID.String()),
		attribute.String("clinic.status", string(status)),
	)

	appt, err := s.slots.Find(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if appt.Status == status {
		return appt, nil
	}
	if appt.Status != appointments.StatusBooked {
		return nil, ErrInvalidTransition
	}

	ok, err := s.slots.SetTerminalStatus(ctx, apptID, status)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		// Lost a race; whoever won decides whether this was a replay.
		current, err := s.slots.Find(ctx, apptID)
		if err != nil {
			return nil, err
		}
		if current.Status == status {
			return current, nil
		}
		return nil, ErrInvalidTransition
	}
	appt.Status = status

	s.recordOutcome(ctx, appt, status == appointments.StatusAttended, viaAutoMiss)
	s.cancelTimers(ctx, appt.ID)

	s.logger.Info("appointment resolved",
		"appointment_id", appt.ID,
		"status", string(status),
		"via_auto_miss", viaAutoMiss)
	return appt, nil
}

// recordOutcome moves the patient's counters, score, and category, feeds the
// demand engine on attendance, and offers the follow-up survey on auto-miss.
func (s *Service) recordOutcome(ctx context.Context, appt *appointments.Appointment, attended, viaAutoMiss bool) {
	user, err := s.users.FindByName(ctx, appt.BookedBy())
	if err != nil {
		s.logger.Error("failed to load booker for attendance update",
			"appointment_id", appt.ID, "user_name", appt.BookedBy(), "error", err)
		return
	}

	attendedCount, missedCount := user.AttendedCount, user.MissedCount
	if attended {
		attendedCount++
	} else {
		missedCount++
	}
	score := classifier.ApplyScore(user.Score, attended)
	category := classifier.Classify(user.Category, attendedCount, missedCount)
	if err := s.users.UpdateAttendanceStats(ctx, user.ID, attendedCount, missedCount, score, category); err != nil {
		s.logger.Error("failed to update attendance stats",
			"user_name", user.UserName, "error", err)
	}

	if attended {
		if err := s.demand.RecordAttendance(ctx, appt.DoctorName, appt.StartsAt); err != nil {
			s.logger.Error("failed to record attendance in demand engine",
				"doctor_name", appt.DoctorName, "error", err)
		}
		return
	}
	if viaAutoMiss {
		s.sendSurvey(ctx, user)
	}
}

// sendSurvey offers the missed-visit survey when a link can be built.
func (s *Service) sendSurvey(ctx context.Context, user *users.User) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("failed to load clinic settings, using defaults", "error", err)
		settings = clinic.DefaultSettings()
	}
	link := settings.SurveyLink(s.publicBaseURL)
	if link == "" {
		return
	}
	text := fmt.Sprintf("Sorry we missed you, %s. Could you tell us what happened? %s", user.NotifyName(), link)
	s.notifier.Send(ctx, user, text)
}

func (s *Service) cancelTimers(ctx context.Context, apptID uuid.UUID) {
	if _, err := s.timers.CancelPrefix(ctx, scheduler.KindReminderFire, scheduler.ReminderKeyPrefix(apptID)); err != nil {
		s.logger.Warn("failed to cancel reminder jobs", "appointment_id", apptID, "error", err)
	}
	if err := s.timers.Cancel(ctx, scheduler.KindAutoMiss, scheduler.AutoMissKey(apptID)); err != nil {
		s.logger.Warn("failed to cancel auto-miss job", "appointment_id", apptID, "error", err)
	}
}

// HandleAutoMiss executes one appointment.automiss job: if the appointment
// is still booked this long after its start, the patient did not show up.
// Appointments resolved in the meantime make the job a no-op.
func (s *Service) HandleAutoMiss(ctx context.Context, payload []byte) error {
	var p scheduler.AutoMissPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("attendance: decode auto-miss payload: %w", err)
	}

	appt, err := s.slots.Find(ctx, p.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrSlotNotFound) {
			return nil
		}
		return err
	}
	if appt.Status != appointments.StatusBooked {
		return nil
	}

	if _, err := s.SetStatus(ctx, p.AppointmentID, appointments.StatusMissed, true); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}
