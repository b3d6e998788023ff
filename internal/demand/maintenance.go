package demand

import (
	"context"
	"errors"
	"time"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// lateReleaseWindow is how far ahead the hourly task looks for unsold
// high-demand slots to release.
const lateReleaseWindow = 2 * time.Hour

// SlotSource is the appointments surface the periodic tasks need.
type SlotSource interface {
	ListByStatusBetween(ctx context.Context, status appointments.Status, from, to time.Time) ([]appointments.Appointment, error)
	DeleteAvailableBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Maintenance bundles the periodic demand tasks the scheduler runs: the
// month-end learning pass, the monthly recalc, and hourly upkeep.
type Maintenance struct {
	engine *Engine
	slots  SlotSource
	clock  *timeutil.Clock
	logger *logging.Logger
}

// NewMaintenance creates the periodic task bundle.
func NewMaintenance(engine *Engine, slots SlotSource, clock *timeutil.Clock, logger *logging.Logger) *Maintenance {
	if logger == nil {
		logger = logging.Default()
	}
	return &Maintenance{engine: engine, slots: slots, clock: clock, logger: logger}
}

// HandleMonthEndLearn counts the closing month's attended appointments into
// their cells. The cron fires on days 28-31, so the pass runs only when
// tomorrow is the 1st.
func (m *Maintenance) HandleMonthEndLearn(ctx context.Context, _ []byte) error {
	now := m.clock.Now()
	if now.AddDate(0, 0, 1).Day() != 1 {
		m.logger.Debug("demand: month-end learn skipped, not the last day", "now", now)
		return nil
	}

	start, end := m.clock.MonthBounds(now)
	attended, err := m.slots.ListByStatusBetween(ctx, appointments.StatusAttended, start, end)
	if err != nil {
		return err
	}

	var errs []error
	for i := range attended {
		if err := m.engine.RecordAttendance(ctx, attended[i].DoctorName, attended[i].StartsAt); err != nil {
			m.logger.Error("demand: month-end learn failed for appointment",
				"appointment_id", attended[i].ID, "error", err)
			errs = append(errs, err)
		}
	}
	m.logger.Info("demand: month-end learn complete",
		"year", now.Year(), "month", int(now.Month()), "appointments", len(attended), "failures", len(errs))
	return errors.Join(errs...)
}

// HandleMonthlyRecalc recomputes thresholds and applies the peak cap for
// every doctor over the previous calendar month.
func (m *Maintenance) HandleMonthlyRecalc(ctx context.Context, _ []byte) error {
	year, month := m.clock.PreviousMonth(m.clock.Now())
	doctors, err := m.engine.Doctors(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, doctor := range doctors {
		if err := m.engine.Recalc(ctx, doctor, year, int(month)); err != nil {
			m.logger.Error("demand: recalc failed", "doctor_name", doctor, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := m.engine.CapPeaks(ctx, doctor, year, int(month), DefaultMaxFraction); err != nil {
			m.logger.Error("demand: peak cap failed", "doctor_name", doctor, "error", err)
			errs = append(errs, err)
		}
	}
	m.logger.Info("demand: monthly recalc complete",
		"year", year, "month", int(month), "doctors", len(doctors), "failures", len(errs))
	return errors.Join(errs...)
}

// HandleHourlyMaintenance drops expired unsold slots and releases the gate
// on high-demand slots starting within the next two hours.
func (m *Maintenance) HandleHourlyMaintenance(ctx context.Context, _ []byte) error {
	now := m.clock.Now()

	dropped, err := m.slots.DeleteAvailableBefore(ctx, now)
	if err != nil {
		return err
	}
	if dropped > 0 {
		m.logger.Info("demand: expired slots removed", "count", dropped)
	}

	upcoming, err := m.slots.ListByStatusBetween(ctx, appointments.StatusAvailable, now, now.Add(lateReleaseWindow))
	if err != nil {
		return err
	}

	var errs []error
	for i := range upcoming {
		if err := m.engine.ReleaseFor(ctx, upcoming[i].DoctorName, upcoming[i].StartsAt); err != nil {
			m.logger.Error("demand: late release failed",
				"appointment_id", upcoming[i].ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
