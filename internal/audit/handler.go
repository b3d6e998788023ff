package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Handler serves the audit trail to admins.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates an audit handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ListRecent handles GET /admin/audit?limit=.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.service.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list audit events", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"events": events,
		"count":  len(events),
	})
}
