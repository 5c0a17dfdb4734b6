// Package metrics provides Prometheus metrics for the taskflow server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	DecisionsTotal     *prometheus.CounterVec
	TimerOpsTotal      *prometheus.CounterVec
	TimersRunning      prometheus.Gauge
	ClockSkewTotal     prometheus.Counter
	DeadLettersPending prometheus.Gauge
	DBSizeBytes        prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec
	RateLimitClients   prometheus.Gauge
	RateLimitEvicted   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_http_requests_total",
				Help: "Total HTTP requests by method, route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskflow_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_authz_decisions_total",
				Help: "Authorization decisions by resource kind, action and effect.",
			},
			[]string{"kind", "action", "effect"},
		),
		TimerOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_timer_operations_total",
				Help: "Timer start/stop operations by outcome.",
			},
			[]string{"op", "result"},
		),
		TimersRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_timers_running",
				Help: "Number of timers currently running.",
			},
		),
		ClockSkewTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskflow_timer_clock_skew_total",
				Help: "Stops whose end time preceded the start time.",
			},
		),
		DeadLettersPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_dead_letters_pending",
				Help: "Unresolved dead letters awaiting redelivery.",
			},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		RateLimitClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_ratelimit_clients",
				Help: "Clients currently tracked by the rate limiter.",
			},
		),
		RateLimitEvicted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_ratelimit_evicted_clients",
				Help: "Client buckets dropped by the rate limiter since start.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.DecisionsTotal)
	reg.MustRegister(m.TimerOpsTotal)
	reg.MustRegister(m.TimersRunning)
	reg.MustRegister(m.ClockSkewTotal)
	reg.MustRegister(m.DeadLettersPending)
	reg.MustRegister(m.DBSizeBytes)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.RateLimitClients)
	reg.MustRegister(m.RateLimitEvicted)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a served HTTP request and its latency.
func (m *Metrics) RecordRequest(method, route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordDecision counts an authorization decision.
func (m *Metrics) RecordDecision(kind, action, effect string) {
	m.DecisionsTotal.WithLabelValues(kind, action, effect).Inc()
}

// RecordTimerOp counts a timer start or stop by result.
func (m *Metrics) RecordTimerOp(op, result string) {
	m.TimerOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordClockSkew counts a stop that clamped a negative duration.
func (m *Metrics) RecordClockSkew() {
	m.ClockSkewTotal.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetTimersRunning sets the running timer gauge.
func (m *Metrics) SetTimersRunning(n float64) {
	m.TimersRunning.Set(n)
}

// SetDeadLettersPending sets the dead letter backlog gauge.
func (m *Metrics) SetDeadLettersPending(n float64) {
	m.DeadLettersPending.Set(n)
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes float64) {
	m.DBSizeBytes.Set(bytes)
}

// SetRateLimitClients reports the rate limiter's tracked and evicted clients.
func (m *Metrics) SetRateLimitClients(tracked int, evicted uint64) {
	m.RateLimitClients.Set(float64(tracked))
	m.RateLimitEvicted.Set(float64(evicted))
}
