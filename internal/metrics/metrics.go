// Package metrics exposes Prometheus collectors for the source monitor.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	runsEnqueuedTotal          prometheus.Counter
	findingsTotal              *prometheus.CounterVec
	alertsCreatedTotal         prometheus.Counter
	escalationsTotal           *prometheus.CounterVec
	processorTickSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetches_total",
				Help: "Total number of source fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_runs_total",
				Help: "Total number of processed monitor runs, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		runsEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_runs_enqueued_total",
				Help: "Total number of runs queued because their source came due.",
			},
		)

		findingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_findings_total",
				Help: "Total number of findings emitted, labeled by kind.",
			},
			[]string{"kind"},
		)

		alertsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_alerts_created_total",
				Help: "Total number of alerts newly opened for findings.",
			},
		)

		escalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_sla_escalations_total",
				Help: "Total number of SLA escalations created, labeled by kind.",
			},
			[]string{"kind"},
		)

		processorTickSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_processor_tick_seconds",
				Help:    "Duration of one processor invocation, labeled by job and result.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"job", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRun records the outcome of one processed run.
func ObserveRun(kind, outcome string) {
	Init()
	runsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRunsEnqueued records runs created for due sources.
func ObserveRunsEnqueued(n int) {
	Init()
	runsEnqueuedTotal.Add(float64(n))
}

// ObserveFinding records an emitted finding and whether it opened a new alert.
func ObserveFinding(kind string, alertCreated bool) {
	Init()
	findingsTotal.WithLabelValues(kind).Inc()
	if alertCreated {
		alertsCreatedTotal.Inc()
	}
}

// ObserveEscalation records a created SLA escalation.
func ObserveEscalation(kind string) {
	Init()
	escalationsTotal.WithLabelValues(kind).Inc()
}

// ObserveTick records one processor invocation.
func ObserveTick(job string, failed bool, duration time.Duration) {
	Init()
	result := "ok"
	if failed {
		result = "error"
	}
	processorTickSeconds.WithLabelValues(job, result).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
