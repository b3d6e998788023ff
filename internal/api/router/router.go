// Package router assembles the HTTP surface from the per-domain handlers.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/attendance"
	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/internal/booking"
	"github.com/alshifa-health/clinic-appointments/internal/clinic"
	"github.com/alshifa-health/clinic-appointments/internal/demand"
	httpmiddleware "github.com/alshifa-health/clinic-appointments/internal/http/middleware"
	"github.com/alshifa-health/clinic-appointments/internal/notify"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/internal/webhook"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Config holds the handlers the router mounts. Optional surfaces (webhook,
// admin extras, metrics) are mounted only when their handler is present.
type Config struct {
	Logger *logging.Logger

	Appointments   *appointments.Handler
	Booking        *booking.Handler
	Attendance     *attendance.Handler
	Users          *users.Handler
	Demand         *demand.Handler
	Webhook        *webhook.Handler
	ClinicSettings *clinic.SettingsHandler
	Dashboard      *clinic.DashboardHandler
	Notifications  *notify.TranscriptHandler
	Audit          *audit.Handler
	Health         *HealthHandler
	Metrics        http.Handler
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Get)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	if cfg.Appointments != nil {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/add", cfg.Appointments.Add)
			r.Delete("/delete/{id}", cfg.Appointments.Delete)
			r.Get("/available", cfg.Appointments.Available)
			r.Get("/booked", cfg.Appointments.Booked)
			r.Get("/all", cfg.Appointments.All)
			if cfg.Booking != nil {
				r.Post("/book/{id}", cfg.Booking.Book)
			}
			if cfg.Attendance != nil {
				r.Post("/status/{id}", cfg.Attendance.SetStatus)
			}
		})
	}

	if cfg.Users != nil {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", cfg.Users.List)
			r.Post("/register", cfg.Users.Register)
			r.Get("/{userName}", cfg.Users.Get)
		})
	}

	if cfg.Demand != nil {
		r.Route("/high-demand", func(r chi.Router) {
			r.Get("/", cfg.Demand.List)
			r.Post("/setup", cfg.Demand.Setup)
		})
	}

	if cfg.Webhook != nil {
		r.Post("/webhook", cfg.Webhook.Receive)
	}

	r.Route("/admin", func(r chi.Router) {
		if cfg.Users != nil {
			r.Post("/set-category", cfg.Users.SetCategory)
		}
		if cfg.Dashboard != nil {
			r.Get("/dashboard", cfg.Dashboard.Get)
		}
		if cfg.ClinicSettings != nil {
			r.Get("/clinic-settings", cfg.ClinicSettings.Get)
			r.Put("/clinic-settings", cfg.ClinicSettings.Update)
		}
		if cfg.Notifications != nil {
			r.Get("/notifications", cfg.Notifications.List)
		}
		if cfg.Audit != nil {
			r.Get("/audit", cfg.Audit.ListRecent)
		}
	})

	return r
}
