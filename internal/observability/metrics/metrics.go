package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking flow.
type BookingMetrics struct {
	bookingsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal)
	return m
}

// ObserveBooking counts one booking attempt. Outcomes: booked, denied,
// not_available, not_found, not_registered, error.
func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

// ReminderMetrics exposes counters for reminder planning and delivery.
type ReminderMetrics struct {
	sentTotal    *prometheus.CounterVec
	catchupTotal prometheus.Counter
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "sent_total",
			Help:      "Reminder rows marked sent, by template pool and delivery outcome",
		}, []string{"message_category", "delivered"}),
		catchupTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "instant_catchup_total",
			Help:      "Catch-up reminders delivered synchronously at booking",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sentTotal, m.catchupTotal)
	return m
}

func (m *ReminderMetrics) ObserveSent(messageCategory string, delivered bool) {
	if m == nil {
		return
	}
	label := "false"
	if delivered {
		label = "true"
	}
	m.sentTotal.WithLabelValues(messageCategory, label).Inc()
}

func (m *ReminderMetrics) ObserveInstantCatchup() {
	if m == nil {
		return
	}
	m.catchupTotal.Inc()
}

// SchedulerMetrics exposes counters/histograms for the durable timer service.
type SchedulerMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Scheduler job executions by kind and result",
		}, []string{"kind", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Handler run time per job kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.jobDuration)
	return m
}

// ObserveJob counts one execution. Results: done, failed, skipped.
func (m *SchedulerMetrics) ObserveJob(kind, result string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, result).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(kind).Observe(seconds)
}
