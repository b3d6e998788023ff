package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/scheduler"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

type fakeSlotCounter struct{}

func (fakeSlotCounter) StatusCounts(context.Context) (map[appointments.Status]int64, error) {
	return map[appointments.Status]int64{
		appointments.StatusAvailable: 12,
		appointments.StatusBooked:    4,
		appointments.StatusAttended:  30,
	}, nil
}

func (fakeSlotCounter) ReminderStatusCounts(context.Context) (map[appointments.ReminderStatus]int64, error) {
	return map[appointments.ReminderStatus]int64{
		appointments.ReminderScheduled: 7,
		appointments.ReminderSent:      55,
	}, nil
}

type fakeJobCounter struct{}

func (fakeJobCounter) StatusCounts(context.Context) (map[scheduler.Status]int, error) {
	return map[scheduler.Status]int{scheduler.StatusPending: 9, scheduler.StatusDone: 120}, nil
}

type fakeDoctorSource struct{}

func (fakeDoctorSource) Doctors(context.Context) ([]string, error) {
	return []string{"Dr. Ahmed", "Dr. Sara"}, nil
}

func TestDashboardSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	booking := metrics.NewBookingMetrics(registry)
	booking.ObserveBooking("booked")
	booking.ObserveBooking("booked")
	booking.ObserveBooking("denied")

	h := NewDashboardHandler(fakeSlotCounter{}, fakeJobCounter{}, fakeDoctorSource{}, registry, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp Dashboard
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, int64(12), resp.Appointments["available"])
	assert.Equal(t, int64(55), resp.Reminders["sent"])
	assert.Equal(t, 9, resp.Jobs["pending"])
	assert.Equal(t, []string{"Dr. Ahmed", "Dr. Sara"}, resp.Doctors)
	assert.Equal(t, int64(3), resp.Bookings.Total)
	assert.Equal(t, int64(2), resp.Bookings.ByOutcome["booked"])
	assert.Equal(t, int64(1), resp.Bookings.ByOutcome["denied"])
}

func TestDashboardWithoutBookingCounter(t *testing.T) {
	h := NewDashboardHandler(fakeSlotCounter{}, fakeJobCounter{}, fakeDoctorSource{}, prometheus.NewRegistry(), logging.Default())

	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp Dashboard
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Zero(t, resp.Bookings.Total)
}
