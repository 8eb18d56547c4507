// Package metrics holds the gateway's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the shop gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Tool calls
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Sessions
	SessionsActive  prometheus.Gauge
	SessionsExpired prometheus.Counter
	LiveConnsActive prometheus.Gauge

	// Orders
	OrdersPlaced    prometheus.Counter
	OrderValueTotal *prometheus.CounterVec

	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "shop"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"route"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls by tool, transport and outcome",
			},
			[]string{"tool", "transport", "outcome"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"tool"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of open shopping sessions",
			},
		),
		SessionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Sessions closed because they sat idle",
			},
		),
		LiveConnsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_connections_active",
				Help:      "Number of open live WebSocket connections",
			},
		),
		OrdersPlaced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_placed_total",
				Help:      "Orders written to the ledger",
			},
		),
		OrderValueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_value_total",
				Help:      "Sum of placed order totals",
			},
			[]string{"currency"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit rejections",
			},
			[]string{"principal_kind", "limit"},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.SessionsActive,
		m.SessionsExpired,
		m.LiveConnsActive,
		m.OrdersPlaced,
		m.OrderValueTotal,
		m.RateLimitHits,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records a finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordToolCall records one tool invocation. outcome is "ok" or the
// error code returned to the caller.
func (m *Metrics) RecordToolCall(tool, transport, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, transport, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordOrder records a placed order's value in its currency.
func (m *Metrics) RecordOrder(currency string, total float64) {
	if m == nil {
		return
	}
	m.OrdersPlaced.Inc()
	if total > 0 {
		m.OrderValueTotal.WithLabelValues(currency).Add(total)
	}
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

func (m *Metrics) RecordLiveConnStart() {
	if m == nil {
		return
	}
	m.LiveConnsActive.Inc()
}

func (m *Metrics) RecordLiveConnEnd() {
	if m == nil {
		return
	}
	m.LiveConnsActive.Dec()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(principalKind, limit string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(principalKind, limit).Inc()
}
