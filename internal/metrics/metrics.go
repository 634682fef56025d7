package metrics

import (
	"net/http"
	"time"

	"github.com/flexprice/billing/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Metrics holds the Prometheus collectors of the billing service.
type Metrics struct {
	registry *prometheus.Registry

	// Sweeps
	SweepRunsTotal  *prometheus.CounterVec
	SweepItemsTotal *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec

	// Payment retries
	PaymentRetryAttemptsTotal  *prometheus.CounterVec
	PaymentRetriesScheduled    *prometheus.CounterVec
	PaymentRetriesCleanedTotal prometheus.Counter

	// Events
	OutboxPublishedTotal  prometheus.Counter
	OutboxFailedTotal     prometheus.Counter
	PaymentEventsConsumed *prometheus.CounterVec

	// Plan cache
	PlanCacheRequestsTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of sweep runs by outcome",
			},
			[]string{"sweep", "status"},
		),
		SweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_items_total",
				Help:      "Total number of items handled by sweeps by outcome",
			},
			[]string{"sweep", "outcome"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Sweep duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"sweep"},
		),
		PaymentRetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_retry_attempts_total",
				Help:      "Total number of payment retry attempts by result",
			},
			[]string{"result"},
		),
		PaymentRetriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_retries_scheduled_total",
				Help:      "Total number of payment retry campaigns opened by failure type",
			},
			[]string{"failure_type"},
		),
		PaymentRetriesCleanedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_retries_cleaned_total",
				Help:      "Total number of closed payment retries deleted by retention",
			},
		),
		OutboxPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_published_total",
				Help:      "Total number of outbox events published",
			},
		),
		OutboxFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_failed_total",
				Help:      "Total number of failed outbox publish attempts",
			},
		),
		PaymentEventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_events_consumed_total",
				Help:      "Total number of inbound payment events by type and status",
			},
			[]string{"type", "status"},
		),
		PlanCacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_cache_requests_total",
				Help:      "Plan cache lookups by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.SweepRunsTotal,
		m.SweepItemsTotal,
		m.SweepDuration,
		m.PaymentRetryAttemptsTotal,
		m.PaymentRetriesScheduled,
		m.PaymentRetriesCleanedTotal,
		m.OutboxPublishedTotal,
		m.OutboxFailedTotal,
		m.PaymentEventsConsumed,
		m.PlanCacheRequestsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// NewNopMetrics registers on a private registry. Used by tests and by
// commands that never expose /metrics.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveBatch records the outcome of one sweep run.
func (m *Metrics) ObserveBatch(result *types.BatchResult, took time.Duration) {
	if m == nil || result == nil {
		return
	}

	sweep := string(result.Sweep)
	status := "ok"
	switch {
	case result.Skipped:
		status = "skipped"
	case result.Failed > 0:
		status = "partial_failure"
	}

	m.SweepRunsTotal.WithLabelValues(sweep, status).Inc()
	m.SweepDuration.WithLabelValues(sweep).Observe(took.Seconds())
	m.SweepItemsTotal.WithLabelValues(sweep, "succeeded").Add(float64(result.Succeeded))
	m.SweepItemsTotal.WithLabelValues(sweep, "failed").Add(float64(result.Failed))
	m.SweepItemsTotal.WithLabelValues(sweep, "exhausted").Add(float64(result.Exhausted))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
