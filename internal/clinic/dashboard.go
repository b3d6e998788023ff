package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// bookingCounterName is the counter family summarized on the dashboard.
const bookingCounterName = "clinic_booking_requests_total"

type slotCounter interface {
	StatusCounts(ctx context.Context) (map[appointments.Status]int64, error)
	ReminderStatusCounts(ctx context.Context) (map[appointments.ReminderStatus]int64, error)
}

type jobCounter interface {
	StatusCounts(ctx context.Context) (map[scheduler.Status]int, error)
}

type doctorSource interface {
	Doctors(ctx context.Context) ([]string, error)
}

// Dashboard is the ops snapshot served to the admin UI.
type Dashboard struct {
	GeneratedAt  string           `json:"generatedAt"`
	Appointments map[string]int64 `json:"appointments"`
	Reminders    map[string]int64 `json:"reminders"`
	Jobs         map[string]int   `json:"jobs"`
	Doctors      []string         `json:"doctors"`
	Bookings     BookingSnapshot  `json:"bookings"`
}

// BookingSnapshot aggregates the booking counter by outcome since process
// start. Counters reset on restart; durable history lives in the tables.
type BookingSnapshot struct {
	Total     int64            `json:"total"`
	ByOutcome map[string]int64 `json:"byOutcome"`
}

// DashboardHandler serves GET /admin/dashboard.
type DashboardHandler struct {
	slots    slotCounter
	jobs     jobCounter
	demand   doctorSource
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewDashboardHandler(slots slotCounter, jobs jobCounter, demand doctorSource, gatherer prometheus.Gatherer, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DashboardHandler{slots: slots, jobs: jobs, demand: demand, gatherer: gatherer, logger: logger}
}

// Get returns the operational snapshot.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apptCounts, err := h.slots.StatusCounts(ctx)
	if err != nil {
		h.logger.Error("dashboard: appointment counts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	reminderCounts, err := h.slots.ReminderStatusCounts(ctx)
	if err != nil {
		h.logger.Error("dashboard: reminder counts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	jobCounts, err := h.jobs.StatusCounts(ctx)
	if err != nil {
		h.logger.Error("dashboard: job counts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	doctors, err := h.demand.Doctors(ctx)
	if err != nil {
		h.logger.Error("dashboard: doctors", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := Dashboard{
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Appointments: make(map[string]int64, len(apptCounts)),
		Reminders:    make(map[string]int64, len(reminderCounts)),
		Jobs:         make(map[string]int, len(jobCounts)),
		Doctors:      doctors,
		Bookings:     snapshotBookings(h.gatherer),
	}
	for status, n := range apptCounts {
		resp.Appointments[string(status)] = n
	}
	for status, n := range reminderCounts {
		resp.Reminders[string(status)] = n
	}
	for status, n := range jobCounts {
		resp.Jobs[string(status)] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

// snapshotBookings sums the booking counter family by outcome label.
func snapshotBookings(gatherer prometheus.Gatherer) BookingSnapshot {
	snap := BookingSnapshot{ByOutcome: map[string]int64{}}
	mfs, err := gatherer.Gather()
	if err != nil {
		return snap
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == bookingCounterName {
			family = mf
			break
		}
	}
	if family == nil {
		return snap
	}

	for _, metric := range family.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		value := int64(metric.GetCounter().GetValue())
		snap.Total += value
		for _, lp := range metric.Label {
			if lp.GetName() == "outcome" {
				snap.ByOutcome[lp.GetValue()] += value
			}
		}
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
