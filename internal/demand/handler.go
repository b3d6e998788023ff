package demand

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Handler serves the high-demand admin endpoints.
type Handler struct {
	engine *Engine
	audit  *audit.Service
	logger *logging.Logger
}

// NewHandler creates a demand handler.
func NewHandler(engine *Engine, auditSvc *audit.Service, logger *logging.Logger) *Handler {
	return &Handler{engine: engine, audit: auditSvc, logger: logger}
}

// SetupRequest is the body of POST /high-demand/setup.
type SetupRequest struct {
	DoctorName          string   `json:"doctorName"`
	Year                int      `json:"year"`
	Month               int      `json:"month"`
	Hours               []int    `json:"hours"`
	HighDemandThreshold *float64 `json:"highDemandThreshold,omitempty"`
}

func (r *SetupRequest) validate() string {
	if strings.TrimSpace(r.DoctorName) == "" {
		return "doctorName is required"
	}
	if r.Year < 2000 || r.Year > 2200 {
		return "year is out of range"
	}
	if r.Month < 1 || r.Month > 12 {
		return "month must be between 1 and 12"
	}
	if len(r.Hours) == 0 {
		return "hours must name at least one hour"
	}
	for _, h := range r.Hours {
		if h < 0 || h > 23 {
			return "hours must be between 0 and 23"
		}
	}
	if r.HighDemandThreshold != nil && *r.HighDemandThreshold <= 0 {
		return "highDemandThreshold must be positive"
	}
	return ""
}

// Setup handles POST /high-demand/setup, replacing the month's admin
// baseline for a doctor.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	threshold := DefaultThreshold
	if req.HighDemandThreshold != nil {
		threshold = *req.HighDemandThreshold
	}

	if err := h.engine.SetBaseline(r.Context(), req.DoctorName, req.Year, req.Month, req.Hours, threshold); err != nil {
		h.logger.Error("failed to replace baseline", "doctor_name", req.DoctorName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.audit.LogBaselineReplaced(r.Context(), req.DoctorName, req.Year, req.Month, req.Hours, threshold); err != nil {
		h.logger.Warn("failed to audit baseline replacement", "doctor_name", req.DoctorName, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doctorName":          req.DoctorName,
		"year":                req.Year,
		"month":               req.Month,
		"hours":               req.Hours,
		"highDemandThreshold": threshold,
	})
}

// cellView is the JSON shape of one cell. A nil threshold stands for +Inf,
// which encoding/json cannot represent.
type cellView struct {
	DoctorName          string   `json:"doctorName"`
	Year                int      `json:"year"`
	Month               int      `json:"month"`
	DayOfWeek           *int     `json:"dayOfWeek"`
	Hour                int      `json:"hour"`
	TotalAppointments   int      `json:"totalAppointments"`
	HighDemandThreshold *float64 `json:"highDemandThreshold"`
	Source              string   `json:"source"`
	HighDemand          bool     `json:"highDemand"`
}

func viewOf(c *Cell) cellView {
	v := cellView{
		DoctorName:        c.DoctorName,
		Year:              c.Year,
		Month:             c.Month,
		Hour:              c.Hour,
		TotalAppointments: c.TotalAppointments,
		Source:            string(c.Source),
		HighDemand:        c.HighDemand(),
	}
	if !c.Baseline() {
		dow := c.DayOfWeek
		v.DayOfWeek = &dow
	}
	if !math.IsInf(c.HighDemandThreshold, 1) {
		thr := c.HighDemandThreshold
		v.HighDemandThreshold = &thr
	}
	return v
}

// List handles GET /high-demand?doctorName=&year=&month=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	doctor := strings.TrimSpace(r.URL.Query().Get("doctorName"))
	if doctor == "" {
		writeError(w, http.StatusBadRequest, "doctorName is required")
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be an integer")
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}

	cells, err := h.engine.MonthCells(r.Context(), doctor, year, month)
	if err != nil {
		h.logger.Error("failed to list demand cells", "doctor_name", doctor, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]cellView, 0, len(cells))
	hourSet := map[int]struct{}{}
	for i := range cells {
		v := viewOf(&cells[i])
		views = append(views, v)
		if v.HighDemand {
			hourSet[cells[i].Hour] = struct{}{}
		}
	}
	hours := make([]int, 0, len(hourSet))
	for hr := range hourSet {
		hours = append(hours, hr)
	}
	sort.Ints(hours)

	writeJSON(w, http.StatusOK, map[string]any{
		"cells": views,
		"summary": map[string]any{
			"totalSlots":      len(views),
			"highDemandHours": hours,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
