package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/messages"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
)

// HandleReminderFire executes one reminder.fire job. It re-reads the
// appointment at fire time rather than trusting the payload: bookings that
// were resolved or cancelled in the meantime, and rows another process
// already delivered, are absorbed without error. The scheduled→sent flip
// happens before delivery, so a reminder is sent at most once.
func (s *Service) HandleReminderFire(ctx context.Context, payload []byte) error {
	var p scheduler.ReminderFirePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("booking: decode reminder payload: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "booking.reminder_fire")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", p.AppointmentID.String()))

	appt, err := s.slots.Find(ctx, p.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrSlotNotFound) {
			return nil
		}
		span.RecordError(err)
		return err
	}
	if appt.Status != appointments.StatusBooked {
		return nil
	}
	row := appt.ReminderAt(p.SendTime)
	if row == nil || row.Status != appointments.ReminderScheduled {
		return nil
	}

	user, err := s.users.FindByName(ctx, appt.BookedBy())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("booking: resolve booker: %w", err)
	}

	used := appt.UsedReminderTexts()
	body, err := s.catalog.PickUnique(ctx, row.MessageCategory, user.NotifyName(), used)
	if errors.Is(err, messages.ErrExhaustedPool) {
		// Every template already went out on this appointment; a repeat
		// beats silence, so restart from an empty used-set.
		body, err = s.catalog.PickUnique(ctx, row.MessageCategory, user.NotifyName(), map[string]struct{}{})
	}
	switch {
	case errors.Is(err, messages.ErrEmptyCategory):
		if _, err := s.slots.MarkReminderSent(ctx, appt.ID, p.SendTime, ""); err != nil {
			return err
		}
		s.logger.Warn("no templates in pool, reminder consumed without delivery",
			"message_category", string(row.MessageCategory), "appointment_id", appt.ID)
		return nil
	case err != nil:
		span.RecordError(err)
		return err
	}

	ok, err := s.slots.MarkReminderSent(ctx, appt.ID, p.SendTime, body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !ok {
		// Lost the race to another delivery of the same row.
		return nil
	}

	s.deliver(ctx, appt, user, row.MessageCategory, body)
	s.logger.Info("reminder sent",
		"appointment_id", appt.ID,
		"send_time", p.SendTime,
		"message_category", string(row.MessageCategory))
	return nil
}
