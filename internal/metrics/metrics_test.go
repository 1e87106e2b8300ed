package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EvaluationsTotal.WithLabelValues("1h", "ok").Inc()
	m.EvaluationsTotal.WithLabelValues("1h", "ok").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("1h", "ok")))

	// a second set must not collide with the first
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus("yahoo", time.Hour)

	code, body := healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", body["status"])

	h.RecordCycle(time.Now(), 16, 16, 0)
	_, body = healthz(t, h)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "yahoo", body["source"])

	h.RecordCycle(time.Now(), 16, 10, 6)
	_, body = healthz(t, h)
	assert.Equal(t, "degraded", body["status"])

	h.RecordCycle(time.Now(), 16, 0, 16)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.RecordCycle(time.Now().Add(-2*time.Hour), 16, 16, 0)
	_, body = healthz(t, h)
	assert.Equal(t, "degraded", body["status"])

	h.RecordCycle(time.Now(), 16, 16, 0)
	h.SetRedisEnabled(true)
	_, body = healthz(t, h)
	assert.Equal(t, "degraded", body["status"])
}
