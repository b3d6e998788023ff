package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Repository is the store surface the handler needs.
type Repository interface {
	CreateSlots(ctx context.Context, doctorName string, startTimes []time.Time) ([]Appointment, error)
	List(ctx context.Context, status *Status) ([]Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

var _ Repository = (*Store)(nil)

// Handler serves the slot management endpoints.
type Handler struct {
	repo   Repository
	clock  *timeutil.Clock
	audit  *audit.Service
	logger *logging.Logger
}

// NewHandler creates an appointments handler.
func NewHandler(repo Repository, clock *timeutil.Clock, auditSvc *audit.Service, logger *logging.Logger) *Handler {
	return &Handler{repo: repo, clock: clock, audit: auditSvc, logger: logger}
}

// Add handles POST /appointments/add. One request creates a single slot, a
// slot per day, or an interval grid depending on which fields are present.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	startTimes, err := BuildSlots(&req, h.clock.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.repo.CreateSlots(r.Context(), req.DoctorName, startTimes)
	if err != nil {
		h.logger.Error("failed to create slots", "doctor_name", req.DoctorName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("slots created", "doctor_name", req.DoctorName, "count", len(created))
	writeJSON(w, http.StatusCreated, map[string]any{"created": len(created), "slots": created})
}

// Delete handles DELETE /appointments/delete/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("failed to delete slot", "appointment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.audit.LogSlotDeleted(r.Context(), id.String()); err != nil {
		h.logger.Warn("failed to audit slot deletion", "appointment_id", id, "error", err)
	}

	h.logger.Info("slot deleted", "appointment_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// Available handles GET /appointments/available.
func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, ptr(StatusAvailable))
}

// Booked handles GET /appointments/booked.
func (h *Handler) Booked(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, ptr(StatusBooked))
}

// All handles GET /appointments/all.
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, nil)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, status *Status) {
	appts, err := h.repo.List(r.Context(), status)
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if appts == nil {
		appts = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts, "count": len(appts)})
}

func ptr(s Status) *Status { return &s }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
