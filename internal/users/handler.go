package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/internal/classifier"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Repository is the store surface the handler needs.
type Repository interface {
	FindByName(ctx context.Context, name string) (*User, error)
	Register(ctx context.Context, req *RegisterRequest) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetCategory(ctx context.Context, name string, category classifier.Category) error
}

var _ Repository = (*Store)(nil)

// Handler serves the user endpoints.
type Handler struct {
	repo   Repository
	audit  *audit.Service
	logger *logging.Logger
}

// NewHandler creates a users handler.
func NewHandler(repo Repository, auditSvc *audit.Service, logger *logging.Logger) *Handler {
	return &Handler{repo: repo, audit: auditSvc, logger: logger}
}

// Register handles POST /users/register. The upsert is idempotent.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.repo.Register(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to register user", "user_name", req.UserName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user registered", "user_name", user.UserName)
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Summarize()})
}

// Get handles GET /users/{userName}; `?view=admin` adds the operational fields.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "userName")
	user, err := h.repo.FindByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to load user", "user_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("view") == "admin" {
		writeJSON(w, http.StatusOK, map[string]any{"user": user.AdminSummarize()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Summarize()})
}

// List handles GET /users.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	summaries := make([]Summary, 0, len(all))
	for i := range all {
		summaries = append(summaries, all[i].Summarize())
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": summaries, "count": len(summaries)})
}

// SetCategoryRequest is the body of POST /admin/set-category.
type SetCategoryRequest struct {
	UserName string `json:"userName"`
	Category string `json:"category"`
}

// SetCategory handles POST /admin/set-category with the labels
// "Good", "Very Good", "At-Risk".
func (h *Handler) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req SetCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category, ok := classifier.ParseLabel(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "category must be one of Good, Very Good, At-Risk")
		return
	}

	if err := h.repo.SetCategory(r.Context(), req.UserName, category); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to set category", "user_name", req.UserName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.audit.LogCategoryOverridden(r.Context(), req.UserName, req.Category); err != nil {
		h.logger.Warn("failed to audit category override", "user_name", req.UserName, "error", err)
	}

	h.logger.Info("category overridden", "user_name", req.UserName, "category", string(category))
	writeJSON(w, http.StatusOK, map[string]any{"userName": req.UserName, "category": category.Label()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
