// Package metrics exposes Prometheus collectors for the feed poller.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpoller_fetches_total",
			Help: "Total number of feed fetches, labeled by status class and verdict.",
		},
		[]string{"status_class", "verdict"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedpoller_fetch_duration_seconds",
			Help:    "Histogram of feed fetch latencies, labeled by status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"status_class"},
	)

	fetchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedpoller_fetches_in_flight",
			Help: "Number of feed fetches currently holding a concurrency slot.",
		},
	)

	artifactWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpoller_artifact_writes_total",
			Help: "Total number of artifact writes, labeled by namespace and result.",
		},
		[]string{"namespace", "result"},
	)

	redirectStubsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpoller_redirect_stubs_total",
			Help: "Total number of permanent redirects observed, labeled by status code.",
		},
		[]string{"code"},
	)

	hostWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedpoller_host_wait_seconds",
			Help:    "Histogram of time spent waiting on per-host rate limits.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedpoller_runs_total",
			Help: "Total number of poll runs, labeled by result.",
		},
		[]string{"result"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClassifyStatus groups status codes into coarse labels. Codes outside the
// 100-599 range (the synthetic failure codes) fall into "local".
func ClassifyStatus(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "local"
	}
}

// ObserveFetch records one completed fetch.
func ObserveFetch(code int, verdict string, duration time.Duration) {
	class := ClassifyStatus(code)
	fetchesTotal.WithLabelValues(class, verdict).Inc()
	fetchDurationSeconds.WithLabelValues(class).Observe(duration.Seconds())
}

// IncInFlight increments the in-flight fetch gauge.
func IncInFlight() {
	fetchesInFlight.Inc()
}

// DecInFlight decrements the in-flight fetch gauge.
func DecInFlight() {
	fetchesInFlight.Dec()
}

// ObserveArtifactWrite records the result of one artifact write.
func ObserveArtifactWrite(namespace string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	artifactWritesTotal.WithLabelValues(namespace, result).Inc()
}

// ObserveRedirectStub counts a permanent redirect seen mid-fetch.
func ObserveRedirectStub(code int) {
	redirectStubsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveHostWait records a per-host rate limit delay.
func ObserveHostWait(d time.Duration) {
	hostWaitSeconds.Observe(d.Seconds())
}

// ObserveRun counts a finished poll run.
func ObserveRun(result string) {
	runsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
