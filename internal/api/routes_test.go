package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/webhook"
)

func setupRouter(t *testing.T) (*gin.Engine, *queuememory.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	require.NoError(t, store.SaveOwner(context.Background(), &domain.Owner{Login: "octo", WebhookSecret: "s3cret"}))
	q := queuememory.New()
	t.Cleanup(func() { _ = q.Close() })

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(reg, "test")
	hooks := webhook.NewHandler(store, q, recorder, zerolog.Nop())
	return SetupRoutes(NewHandler("test"), hooks, reg, zerolog.Nop()), q
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestWebhookRouteAndMetrics(t *testing.T) {
	router, q := setupRouter(t)

	payload := `{"action":"created","sponsorship":{"sponsor":{"login":"alice"},"tier":{"monthly_price_in_cents":1000}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sponsor/octo", strings.NewReader(payload))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(payload), "s3cret"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, q.Len())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_webhook_events_total{action="created",status="accepted"} 1`)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(zerolog.Nop()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
