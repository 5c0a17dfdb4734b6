package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.RequestsTotal)
	assert.NotNil(t, m.RequestDuration)
	assert.NotNil(t, m.DecisionsTotal)
	assert.NotNil(t, m.TimerOpsTotal)
	assert.NotNil(t, m.TimersRunning)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("POST", "/api/v1/tasks/:id/timer/start", "201", 0.01)
	m.RecordRequest("POST", "/api/v1/tasks/:id/timer/start", "201", 0.02)
	m.RecordRequest("GET", "/api/v1/timers/active", "200", 0.01)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `taskflow_http_requests_total{method="POST",route="/api/v1/tasks/:id/timer/start",status="201"} 2`)
	assert.Contains(t, body, `taskflow_http_requests_total{method="GET",route="/api/v1/timers/active",status="200"} 1`)
	assert.Contains(t, body, "taskflow_http_request_duration_seconds")
}

func TestMetrics_RecordDecision(t *testing.T) {
	m := New()
	m.RecordDecision("project", "create", "deny")
	m.RecordDecision("task", "update", "allow")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `taskflow_authz_decisions_total{action="create",effect="deny",kind="project"} 1`)
	assert.Contains(t, body, `taskflow_authz_decisions_total{action="update",effect="allow",kind="task"} 1`)
}

func TestMetrics_TimerOps(t *testing.T) {
	m := New()
	m.RecordTimerOp("start", "ok")
	m.RecordTimerOp("start", "conflict")
	m.RecordClockSkew()
	m.SetTimersRunning(1)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `taskflow_timer_operations_total{op="start",result="conflict"} 1`)
	assert.Contains(t, body, "taskflow_timer_clock_skew_total 1")
	assert.Contains(t, body, "taskflow_timers_running 1")
}

func TestMetrics_RecordError(t *testing.T) {
	m := New()
	m.RecordError("activity", "insert_failed")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `taskflow_errors_total{module="activity",type="insert_failed"} 1`)
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetDeadLettersPending(4)
	m.SetDBSize(8192)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "taskflow_dead_letters_pending 4")
	assert.Contains(t, body, "taskflow_db_size_bytes 8192")
}

func TestMetrics_RateLimitClients(t *testing.T) {
	m := New()
	m.SetRateLimitClients(3, 7)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "taskflow_ratelimit_clients 3")
	assert.Contains(t, body, "taskflow_ratelimit_evicted_clients 7")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	handler := m.Handler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
