package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Pinger = (*pgxpool.Pool)(nil)

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler answers liveness probes, including store reachability for
// whichever stores were wired in.
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	logger   *logging.Logger
}

// NewHealthHandler creates a health handler. Either pinger may be nil.
func NewHealthHandler(postgres, redis Pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{postgres: postgres, redis: redis, logger: logger}
}

// Get handles GET /health. Any failing store turns the response into 503 so
// orchestrators stop routing traffic here.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	healthy := true
	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "store", name, "error", err)
			checks[name] = "unreachable"
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	probe("postgres", h.postgres)
	probe("redis", h.redis)

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": state, "checks": checks})
}
