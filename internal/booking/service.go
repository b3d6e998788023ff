// Package booking runs the patient-facing booking flow: admission control
// against learned demand, the atomic slot claim, and the adaptive reminder
// plan with its durable timers.
package booking

import (
	"context"
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
	"github.com/alshifa-health/clinic-appointments/internal/messages"
	"github.com/alshifa-health/clinic-appointments/internal/notify"
	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// autoMissGrace is how long after the slot time a booked appointment may sit
// unresolved before the auto-miss job flips it to missed.
const autoMissGrace = 10 * time.Minute

// SlotStore is the appointments surface the booking flow needs.
type SlotStore interface {
	Find(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	Book(ctx context.Context, id uuid.UUID, userName string) error
	InsertReminder(ctx context.Context, r *appointments.Reminder) error
	MarkReminderSent(ctx context.Context, apptID uuid.UUID, sendTime time.Time, text string) (bool, error)
}

// UserDirectory resolves patients and backfills contact details.
type UserDirectory interface {
	FindByName(ctx context.Context, name string) (*users.User, error)
	SetPhoneIfMissing(ctx context.Context, id uuid.UUID, phone string) error
}

// AdmissionGate answers whether a slot falls in a learned high-demand hour.
type AdmissionGate interface {
	EnsureMonth(ctx context.Context, doctor string, date time.Time) error
	HighDemand(ctx context.Context, doctor string, date time.Time) (bool, error)
}

// TemplateCatalog picks reminder bodies that are unique per appointment.
type TemplateCatalog interface {
	PickUnique(ctx context.Context, category classifier.MessageCategory, name string, used map[string]struct{}) (string, error)
}

// Timers arms the durable one-shot jobs behind reminders and auto-miss.
type Timers interface {
	ArmAt(ctx context.Context, kind scheduler.Kind, key string, fireAt time.Time, payload any) error
}

// SettingsSource supplies the clinic profile used for message headers.
type SettingsSource interface {
	Get(ctx context.Context) (clinic.Settings, error)
}

var (
	_ SlotStore       = (*appointments.Store)(nil)
	_ UserDirectory   = (*users.Store)(nil)
	_ AdmissionGate   = (*demand.Engine)(nil)
	_ TemplateCatalog = (*messages.Catalog)(nil)
	_ Timers          = (*scheduler.Dispatcher)(nil)
	_ SettingsSource  = (*clinic.SettingsStore)(nil)
)

// Config collects the collaborators of a booking Service.
type Config struct {
	Slots    SlotStore
	Users    UserDirectory
	Demand   AdmissionGate
	Catalog  TemplateCatalog
	Timers   Timers
	Settings SettingsSource
	Notifier notify.Notifier
	Clock    *timeutil.Clock
	Metrics  *metrics.ReminderMetrics
	Logger   *logging.Logger
}

// Service coordinates the booking flow end to end.
type Service struct {
	slots    SlotStore
	users    UserDirectory
	demand   AdmissionGate
	catalog  TemplateCatalog
	timers   Timers
	settings SettingsSource
	notifier notify.Notifier
	clock    *timeutil.Clock
	metrics  *metrics.ReminderMetrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewService creates a booking service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		slots:    cfg.Slots,
		users:    cfg.Users,
		demand:   cfg.Demand,
		catalog:  cfg.Catalog,
		timers:   cfg.Timers,
		settings: cfg.Settings,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   logger,
		tracer:   otel.Tracer("clinic.internal.booking"),
	}
}

// Book claims the slot for the named patient and plans their reminder
// schedule. It returns the booked appointment with its reminder rows and the
// instant catch-up message, empty when none was due or deliverable.
//
// Errors worth matching: appointments.ErrSlotNotFound, appointments.
// ErrNotAvailable, users.ErrNotRegistered, ErrAdmissionDenied.
func (s *Service) Book(ctx context.Context, apptID uuid.UUID, userName, phone string) (*appointments.Appointment, string, error) {
	ctx, span := s.tracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", apptID.String()))

	appt, err := s.slots.Find(ctx, apptID)
	if err != nil {
		return nil, "", err
	}
	if appt.Status != appointments.StatusAvailable {
		return nil, "", appointments.ErrNotAvailable
	}

	user, err := s.users.FindByName(ctx, userName)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, "", users.ErrNotRegistered
		}
		span.RecordError(err)
		return nil, "", err
	}
	if phone != "" {
		if err := s.users.SetPhoneIfMissing(ctx, user.ID, phone); err != nil {
			s.logger.Warn("failed to backfill phone", "user_name", user.UserName, "error", err)
		}
	}

	if err := s.demand.EnsureMonth(ctx, appt.DoctorName, appt.StartsAt); err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	if user.Category == classifier.CategoryAtRisk {
		high, err := s.demand.HighDemand(ctx, appt.DoctorName, appt.StartsAt)
		if err != nil {
			span.RecordError(err)
			return nil, "", err
		}
		if high {
			span.SetAttributes(attribute.Bool("clinic.admission_denied", true))
			return nil, "", &AdmissionError{Doctor: appt.DoctorName}
		}
	}

	if err := s.slots.Book(ctx, apptID, user.UserName); err != nil {
		return nil, "", err
	}
	appt.Status = appointments.StatusBooked
	appt.UserName = &user.UserName

	instant, err := s.planReminders(ctx, appt, user)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	if err := s.timers.ArmAt(ctx, scheduler.KindAutoMiss, scheduler.AutoMissKey(appt.ID),
		appt.StartsAt.Add(autoMissGrace), scheduler.AutoMissPayload{AppointmentID: appt.ID}); err != nil {
		span.RecordError(err)
		return nil, "", err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_name", appt.DoctorName,
		"user_name", user.UserName,
		"category", string(user.Category))
	return appt, instant, nil
}

// planReminders persists the category's reminder rows. Leads already in the
// past collapse into rows sent at booking time, with at most one of them
// actually rendered and delivered; future leads get a scheduled row plus a
// durable timer. Returns the full catch-up message when one went out.
func (s *Service) planReminders(ctx context.Context, appt *appointments.Appointment, user *users.User) (string, error) {
	now := s.clock.Now().UTC()
	msgCategory := classifier.MessageCategoryFor(user.Category)

	var pastDue, upcoming []time.Time
	for _, lead := range classifier.Plan(user.Category) {
		sendTime := appt.StartsAt.Add(-time.Duration(lead) * time.Hour)
		if sendTime.After(now) {
			upcoming = append(upcoming, sendTime)
		} else {
			pastDue = append(pastDue, sendTime)
		}
	}

	instant := ""
	for i := range pastDue {
		row := appointments.Reminder{
			AppointmentID:   appt.ID,
			MessageCategory: msgCategory,
			SendTime:        now,
			Status:          appointments.ReminderSent,
		}
		if i == 0 {
			body, err := s.catalog.PickUnique(ctx, msgCategory, user.NotifyName(), appt.UsedReminderTexts())
			switch {
			case errors.Is(err, messages.ErrEmptyCategory):
				s.logger.Warn("no templates in pool, catch-up recorded without delivery",
					"message_category", string(msgCategory), "appointment_id", appt.ID)
			case err != nil:
				return "", fmt.Errorf("booking: render catch-up: %w", err)
			default:
				row.MessageText = &body
			}
		}
		if err := s.slots.InsertReminder(ctx, &row); err != nil {
			return "", err
		}
		appt.Reminders = append(appt.Reminders, row)
		if row.MessageText != nil {
			instant = s.deliver(ctx, appt, user, msgCategory, *row.MessageText)
			s.metrics.ObserveInstantCatchup()
		}
	}

	for _, sendTime := range upcoming {
		row := appointments.Reminder{
			AppointmentID:   appt.ID,
			MessageCategory: msgCategory,
			SendTime:        sendTime,
			Status:          appointments.ReminderScheduled,
		}
		if err := s.slots.InsertReminder(ctx, &row); err != nil {
			return "", err
		}
		appt.Reminders = append(appt.Reminders, row)
		if err := s.timers.ArmAt(ctx, scheduler.KindReminderFire,
			scheduler.ReminderKey(appt.ID, sendTime), sendTime,
			scheduler.ReminderFirePayload{AppointmentID: appt.ID, SendTime: sendTime}); err != nil {
			return "", err
		}
	}

	return instant, nil
}

// deliver prepends the clinic header and pushes the full message to the
// patient's channel. The return value is the full text as delivered.
func (s *Service) deliver(ctx context.Context, appt *appointments.Appointment, user *users.User, category classifier.MessageCategory, body string) string {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger.Warn("failed to load clinic settings, using defaults", "error", err)
		settings = clinic.DefaultSettings()
	}
	full := settings.RenderHeader(appt.DoctorName, s.clock.In(appt.StartsAt)) + "\n" + body
	delivered := s.notifier.Send(ctx, user, full)
	s.metrics.ObserveSent(string(category), delivered)
	return full
}
