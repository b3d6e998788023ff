package attendance

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alshifa-health/clinic-appointments/internal/appointments"
	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Handler serves the admin status override endpoint.
type Handler struct {
	svc    *Service
	audit  *audit.Service
	logger *logging.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(svc *Service, auditSvc *audit.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, audit: auditSvc, logger: logger}
}

// StatusRequest is the body of POST /appointments/status/{id}.
type StatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles POST /appointments/status/{id}.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := appointments.Status(req.Status)
	if !status.Valid() || !status.Terminal() {
		writeError(w, http.StatusBadRequest, "status must be attended or missed")
		return
	}

	appt, err := h.svc.SetStatus(r.Context(), id, status, false)
	if err != nil {
		switch {
		case errors.Is(err, appointments.ErrSlotNotFound):
			writeError(w, http.StatusNotFound, "appointment not found")
		case errors.Is(err, ErrInvalidTransition):
			writeError(w, http.StatusBadRequest, "appointment cannot move to this status")
		default:
			h.logger.Error("failed to set appointment status", "appointment_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if err := h.audit.LogStatusOverridden(r.Context(), id.String(), string(status)); err != nil {
		h.logger.Warn("failed to audit status override", "appointment_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
