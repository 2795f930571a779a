package monitoring_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamcp/datamcp/monitoring"
)

func scrape(t *testing.T, m *monitoring.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := monitoring.New("Test MCP", "0.0.1")

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, `mcp_request_count{endpoint="/",method="POST"} 3`)
	assert.Contains(t, body, `mcp_request_latency_seconds_count{endpoint="/",method="POST"} 3`)
}

func TestDispatchObserver(t *testing.T) {
	m := monitoring.New("Test MCP", "0.0.1")
	observe := m.DispatchObserver()

	observe("query", time.Millisecond, "success")
	observe("query", time.Millisecond, "success")
	observe("query", time.Millisecond, "error")

	body := scrape(t, m)
	assert.Contains(t, body, `mcp_dispatch_total{method="query",outcome="success"} 2`)
	assert.Contains(t, body, `mcp_dispatch_total{method="query",outcome="error"} 1`)
}

func TestStreamGauge(t *testing.T) {
	m := monitoring.New("Test MCP", "0.0.1")

	m.StreamOpened()
	m.StreamOpened()
	assert.Contains(t, scrape(t, m), "mcp_active_streams 2")

	m.StreamClosed()
	assert.Contains(t, scrape(t, m), "mcp_active_streams 1")
}

func TestIndependentRegistries(t *testing.T) {
	a := monitoring.New("A", "1")
	b := monitoring.New("B", "1")

	a.StreamOpened()
	assert.Contains(t, scrape(t, a), "mcp_active_streams 1")
	assert.Contains(t, scrape(t, b), "mcp_active_streams 0")
}

func TestHealthHandler(t *testing.T) {
	m := monitoring.New("Test MCP", "0.0.1")

	rec := httptest.NewRecorder()
	m.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Test MCP", body["service"])
	assert.Equal(t, "0.0.1", body["version"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}
