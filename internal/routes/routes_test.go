package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyvadra/tv-alert-relay/internal/channels"
	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/database"
	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
	"github.com/Cyvadra/tv-alert-relay/internal/handlers"
	"github.com/Cyvadra/tv-alert-relay/internal/linking"
	"github.com/Cyvadra/tv-alert-relay/internal/metrics"
	"github.com/Cyvadra/tv-alert-relay/internal/ratecounter"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

func newRouter(t *testing.T, m *metrics.Metrics) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "relay.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	accounts := services.NewAccountService(db, config.BillingConfig{DefaultPlan: "free", Plans: map[string]int{"free": 7}}, zerolog.Nop())
	alerts := services.NewAlertService(db)
	dispatcher := services.NewDispatcher(
		accounts,
		ratecounter.NewMemoryCounter(ratecounter.NewCalendar(time.UTC, nil)),
		alerts,
		channels.NewRegistry(),
		formatter.New(time.UTC),
		m,
		services.DispatcherOptions{},
		zerolog.Nop(),
	)
	h := handlers.NewHandler(accounts, alerts, dispatcher, linking.NewStore(0, nil), zerolog.Nop())

	r := gin.New()
	SetupRoutes(r, h, Options{Service: "tv-alert-relay", Version: "test", Metrics: m, MetricsPath: "/metrics"}, zerolog.Nop())
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndRoot(t *testing.T) {
	r := newRouter(t, metrics.New())

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "tv-alert-relay", health["service"])

	w = get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	var root struct {
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &root))
	assert.Equal(t, "test", root.Version)
	assert.Equal(t, "/metrics", root.Endpoints["metrics"])
	assert.Equal(t, "/api/v1/webhook/:accountId/:token", root.Endpoints["webhook"])
	assert.Equal(t, "/api/v1/accounts/:accountId/:token/notifications", root.Endpoints["notifications"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.AlertProcessed("triggered")
	r := newRouter(t, m)

	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tvrelay_alerts_total{status="triggered"} 1`)
}

func TestWebhookRouteUnknownAccount(t *testing.T) {
	r := newRouter(t, metrics.New())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhook/nobody/token", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(r, "/api/v1/accounts/nobody/token/usage")
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, route := range []struct{ method, path string }{
		{http.MethodPut, "/api/v1/accounts/nobody/token/notifications"},
		{http.MethodGet, "/api/v1/accounts/nobody/token/discord/status"},
		{http.MethodPost, "/api/v1/accounts/nobody/token/discord/connect"},
		{http.MethodDelete, "/api/v1/accounts/nobody/token/discord"},
	} {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, route.method+" "+route.path)
	}
}
