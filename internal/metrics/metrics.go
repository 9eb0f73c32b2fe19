// Package metrics exposes Prometheus collectors for the visit orchestrator.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	visitOutcomesTotal         *prometheus.CounterVec
	visitStageDurationSeconds  *prometheus.HistogramVec
	screenshotsTotal           *prometheus.CounterVec
	resolverRequestsTotal      *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	activeVisits               prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		visitOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcat_visit_outcomes_total",
				Help: "Visit units processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		visitStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcat_visit_duration_seconds",
				Help:    "Latency of each visit stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		screenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcat_screenshots_total",
				Help: "Screenshots attempted, labeled by viewport and result.",
			},
			[]string{"viewport", "result"},
		)

		resolverRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcat_resolver_requests_total",
				Help: "Archive availability lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcat_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		activeVisits = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webcat_active_visits",
				Help: "Visit units currently in flight.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcat_http_requests_total",
				Help: "Ops server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcat_http_request_duration_seconds",
				Help:    "Ops server request latency, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveOutcome counts one finished visit unit.
func ObserveOutcome(outcome string) {
	Init()
	visitOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of a visit stage (resolve, raw, rendered, capture, store).
func ObserveStage(stage string, d time.Duration) {
	Init()
	visitStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveScreenshot counts one viewport capture attempt.
func ObserveScreenshot(viewport, result string) {
	Init()
	screenshotsTotal.WithLabelValues(viewport, result).Inc()
}

// ObserveResolver counts one availability lookup.
func ObserveResolver(result string) {
	Init()
	resolverRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// IncActiveVisits increments the in-flight gauge.
func IncActiveVisits() {
	Init()
	activeVisits.Inc()
}

// DecActiveVisits decrements the in-flight gauge.
func DecActiveVisits() {
	Init()
	activeVisits.Dec()
}

// ObserveHTTPRequest records one ops server request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
