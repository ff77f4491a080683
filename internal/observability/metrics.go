package observability

import (
	"cmp"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "mandate_engine"
	unmatchedRoute   = "unmatched"
)

// Metrics stores Prometheus collectors used by the API, resolver and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	statusAttemptsTotal    *prometheus.CounterVec
	statusAttemptDuration  *prometheus.HistogramVec
	backoffDuration        *prometheus.HistogramVec
	resolutionsTotal       *prometheus.CounterVec
	resolutionDuration     prometheus.Histogram
	resolutionsInflight    prometheus.Gauge
	markersConsumedTotal   *prometheus.CounterVec
	outcomesPublishedTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,

		httpRequestsTotal: f.NewCounterVec(counterOpts("http_requests_total",
			"HTTP requests served, by method, route and status."), []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(histogramOpts("http_request_duration_seconds",
			"HTTP request latency by method and route.", prometheus.DefBuckets), []string{"method", "path"}),

		statusAttemptsTotal: f.NewCounterVec(counterOpts("status_attempts_total",
			"Mandate status fetch attempts, by result kind and error class."), []string{"kind", "error_class"}),
		statusAttemptDuration: f.NewHistogramVec(histogramOpts("status_attempt_duration_seconds",
			"Status fetch latency by result kind.", prometheus.ExponentialBuckets(0.01, 2, 12)), []string{"kind"}),
		backoffDuration: f.NewHistogramVec(histogramOpts("backoff_duration_seconds",
			"Wait chosen between status attempts, by error class.", []float64{0.5, 1, 2, 4, 5, 6, 10, 15, 30}), []string{"error_class"}),

		resolutionsTotal: f.NewCounterVec(counterOpts("resolutions_total",
			"Finished polling sessions, by final state and reason."), []string{"final_state", "reason"}),
		resolutionDuration: f.NewHistogram(histogramOpts("resolution_duration_seconds",
			"Wall-clock length of a polling session.", []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 30, 45})),
		resolutionsInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "resolutions_inflight",
			Help:      "Polling sessions currently running.",
		}),

		markersConsumedTotal: f.NewCounterVec(counterOpts("pending_markers_consumed_total",
			"Pending markers taken on resume, by result."), []string{"result"}),
		outcomesPublishedTotal: f.NewCounterVec(counterOpts("outcomes_published_total",
			"Outcomes published to the outcome queue, by result."), []string{"result"}),
	}
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: metricsNamespace, Name: name, Help: help, Buckets: buckets}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveStatusAttempt(kind string, errorClass string, latency time.Duration) {
	if m == nil {
		return
	}
	kindLabel := normalizeLabel(kind)
	m.statusAttemptsTotal.WithLabelValues(kindLabel, normalizeLabel(errorClass)).Inc()
	m.statusAttemptDuration.WithLabelValues(kindLabel).Observe(nonNegativeSeconds(latency))
}

func (m *Metrics) ObserveBackoff(errorClass string, delay time.Duration) {
	if m == nil {
		return
	}
	m.backoffDuration.WithLabelValues(normalizeLabel(errorClass)).Observe(nonNegativeSeconds(delay))
}

func (m *Metrics) ObserveResolution(finalState string, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(normalizeLabel(finalState), normalizeLabel(reason)).Inc()
	m.resolutionDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncResolutionInFlight() {
	if m == nil {
		return
	}
	m.resolutionsInflight.Inc()
}

func (m *Metrics) DecResolutionInFlight() {
	if m == nil {
		return
	}
	m.resolutionsInflight.Dec()
}

func (m *Metrics) IncMarkerConsumed(result string) {
	if m == nil {
		return
	}
	m.markersConsumedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncOutcomePublished(result string) {
	if m == nil {
		return
	}
	m.outcomesPublishedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	method = cmp.Or(strings.ToUpper(strings.TrimSpace(method)), "UNKNOWN")
	path = cmp.Or(strings.TrimSpace(path), unmatchedRoute)

	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// routePath labels by route template so path parameters do not explode cardinality.
func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil {
		return cmp.Or(strings.TrimSpace(route.Path), unmatchedRoute)
	}
	return unmatchedRoute
}

func statusFromResult(c *fiber.Ctx, err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case err != nil:
		return fiber.StatusInternalServerError
	}

	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func normalizeLabel(value string) string {
	return cmp.Or(strings.ToLower(strings.TrimSpace(value)), "unknown")
}

func nonNegativeSeconds(d time.Duration) float64 {
	return max(d, 0).Seconds()
}
