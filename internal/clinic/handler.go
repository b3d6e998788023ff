package clinic

import (
	"encoding/json"
	"net/http"

	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// SettingsHandler serves the clinic profile endpoints.
type SettingsHandler struct {
	store  *SettingsStore
	audit  *audit.Service
	logger *logging.Logger
}

func NewSettingsHandler(store *SettingsStore, auditSvc *audit.Service, logger *logging.Logger) *SettingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SettingsHandler{store: store, audit: auditSvc, logger: logger}
}

// Get handles GET /admin/clinic-settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("failed to load clinic settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update handles PUT /admin/clinic-settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if settings.ReminderHeader == "" {
		settings.ReminderHeader = DefaultReminderHeader
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Set(r.Context(), settings); err != nil {
		h.logger.Error("failed to save clinic settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.audit.LogSettingsUpdated(r.Context(), settings); err != nil {
		h.logger.Warn("failed to audit settings update", "error", err)
	}

	h.logger.Info("clinic settings updated", "clinic_name", settings.ClinicName)
	writeJSON(w, http.StatusOK, settings)
}
