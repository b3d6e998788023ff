package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/audit"
	"github.com/alshifa-health/clinic-appointments/internal/classifier"
	"github.com/alshifa-health/clinic-appointments/internal/observability/metrics"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/internal/webhook"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

type memoryUsers struct {
	mu    sync.Mutex
	byKey map[string]*users.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byKey: make(map[string]*users.User)}
}

func (m *memoryUsers) FindByName(_ context.Context, name string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) Register(_ context.Context, req *users.RegisterRequest) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(req.UserName))
	if u, ok := m.byKey[key]; ok {
		cp := *u
		return &cp, nil
	}
	u := &users.User{ID: uuid.New(), UserName: strings.TrimSpace(req.UserName), Category: classifier.CategoryGood}
	m.byKey[key] = u
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) List(context.Context) ([]users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []users.User
	for _, u := range m.byKey {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memoryUsers) SetCategory(_ context.Context, name string, category classifier.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return users.ErrUserNotFound
	}
	u.Category = category
	return nil
}

type noopLinker struct{}

func (noopLinker) SetNotifyChannel(context.Context, string, string) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	// One observation so the metric family shows up in /metrics output.
	metrics.NewBookingMetrics(reg).ObserveBooking("booked")

	cfg := &Config{
		Logger:  logger,
		Users:   users.NewHandler(newMemoryUsers(), nil, logger),
		Webhook: webhook.NewHandler(noopLinker{}, nil, logger),
		Audit:   audit.NewHandler(audit.NewService(nil), logger),
		Health:  NewHealthHandler(nil, nil, logger),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthDegraded(t *testing.T) {
	failing := PingFunc(func(context.Context) error { return context.DeadlineExceeded })
	cfg := &Config{
		Logger: logging.Default(),
		Health: NewHealthHandler(failing, nil, logging.Default()),
	}
	router := New(cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp["status"])
}

func TestRouterUserRegistrationRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader(`{"userName":"Salem"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/users/Salem", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Salem", resp["user"]["userName"])
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "clinic_booking_requests_total")
}

func TestRouterWebhookAlwaysAnswers200(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("definitely not an update"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterAuditEndpointEmptyTrail(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?limit=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.EqualValues(t, 0, resp["count"])
}

// Optional handlers left nil must leave their routes unmounted rather than
// panicking at request time.
func TestRouterOptionalRoutesUnmounted(t *testing.T) {
	router := New(&Config{Logger: logging.Default()})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/appointments/book/123"},
		{http.MethodPost, "/webhook"},
		{http.MethodGet, "/admin/dashboard"},
		{http.MethodGet, "/metrics"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tc.method, tc.path)
	}
}
