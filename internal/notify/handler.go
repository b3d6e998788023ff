package notify

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

const defaultTranscriptLimit = 50

// TranscriptHandler serves the admin view of recent notifications.
type TranscriptHandler struct {
	recorder *Recorder
	logger   *logging.Logger
}

// NewTranscriptHandler creates a transcript handler.
func NewTranscriptHandler(recorder *Recorder, logger *logging.Logger) *TranscriptHandler {
	return &TranscriptHandler{recorder: recorder, logger: logger}
}

// List handles GET /admin/notifications?limit=N, newest first.
func (h *TranscriptHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultTranscriptLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > transcriptCap {
			parsed = transcriptCap
		}
		limit = parsed
	}

	entries, err := h.recorder.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list notification transcript", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": entries, "count": len(entries)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
