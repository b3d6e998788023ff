package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Handler serves the patient booking endpoint.
type Handler struct {
	svc     *Service
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewHandler creates a booking handler.
func NewHandler(svc *Service, m *metrics.BookingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, metrics: m, logger: logger}
}

// BookRequest is the body of POST /appointments/book/{id}.
type BookRequest struct {
	UserName string `json:"userName"`
	Phone    string `json:"phone,omitempty"`
}

// Book handles POST /appointments/book/{id}.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserName == "" {
		writeError(w, http.StatusBadRequest, "userName is required")
		return
	}

	appt, instant, err := h.svc.Book(r.Context(), id, req.UserName, req.Phone)
	if err != nil {
		h.bookingFailed(w, r, id, req.UserName, err)
		return
	}

	h.metrics.ObserveBooking("booked")
	resp := map[string]any{"appointment": appt}
	if instant != "" {
		resp["instantReminder"] = instant
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) bookingFailed(w http.ResponseWriter, r *http.Request, id uuid.UUID, userName string, err error) {
	switch {
	case errors.Is(err, appointments.ErrSlotNotFound):
		h.metrics.ObserveBooking("not_found")
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, appointments.ErrNotAvailable):
		h.metrics.ObserveBooking("not_available")
		writeError(w, http.StatusBadRequest, "appointment is not available")
	case errors.Is(err, users.ErrNotRegistered):
		h.metrics.ObserveBooking("not_registered")
		writeError(w, http.StatusBadRequest, "user is not registered")
	case errors.Is(err, ErrAdmissionDenied):
		h.metrics.ObserveBooking("denied")
		h.logger.Info("booking denied by admission control", "appointment_id", id, "user_name", userName)
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.metrics.ObserveBooking("error")
		h.logger.Error("booking failed", "appointment_id", id, "user_name", userName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
