// Package metrics exposes Prometheus collectors for ingestion runs, feed
// fetches, the catalog update stream and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	feedFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_feed_fetch_duration_seconds",
			Help:    "Duration of supplier feed downloads.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"transport", "status"},
	)
	feedFetchBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_feed_fetch_bytes_total",
			Help: "Bytes downloaded from supplier feeds.",
		},
		[]string{"transport"},
	)

	ingestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_ingest_runs_total",
			Help: "Ingestion runs by final status.",
		},
		[]string{"status"},
	)
	ingestRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalogsync_ingest_run_duration_seconds",
			Help:    "Duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	ingestRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_ingest_rows_total",
			Help: "Feed rows processed by outcome.",
		},
		[]string{"outcome"},
	)
	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalogsync_ingest_active_runs",
			Help: "Ingestion runs currently holding a slot.",
		},
	)

	streamEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_stream_enqueued_total",
			Help: "Catalog update stream entries enqueued or refreshed, by reason.",
		},
		[]string{"reason"},
	)
	streamClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_stream_claimed_total",
			Help: "Catalog update stream entries claimed by consumers.",
		},
	)
	streamAckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_stream_acked_total",
			Help: "Catalog update stream entries acknowledged, by status.",
		},
		[]string{"status"},
	)
	relayPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_relay_messages_total",
			Help: "Stream entries forwarded to the message broker, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		feedFetchDuration,
		feedFetchBytes,
		ingestRunsTotal,
		ingestRunDuration,
		ingestRowsTotal,
		activeRuns,
		streamEnqueuedTotal,
		streamClaimedTotal,
		streamAckedTotal,
		relayPublishedTotal,
	)
}

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveFetch records one feed download. Transport failures use the
// synthetic status 599 and are reported as such.
func ObserveFetch(transport string, statusCode int, bytes int, duration time.Duration) {
	feedFetchDuration.WithLabelValues(transport, strconv.Itoa(statusCode)).Observe(duration.Seconds())
	if bytes > 0 {
		feedFetchBytes.WithLabelValues(transport).Add(float64(bytes))
	}
}

// RecordRun records a finalized ingestion run.
func RecordRun(status string, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(status).Inc()
	ingestRunDuration.Observe(duration.Seconds())
}

// AddRows counts processed rows: "valid", "invalid" or "changed".
func AddRows(outcome string, n int) {
	if n > 0 {
		ingestRowsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RunStarted and RunFinished track the number of runs holding a slot.
func RunStarted()  { activeRuns.Inc() }
func RunFinished() { activeRuns.Dec() }

// StreamEnqueued counts an enqueue (insert or in-place refresh).
func StreamEnqueued(reason string) {
	streamEnqueuedTotal.WithLabelValues(reason).Inc()
}

// StreamClaimed counts entries handed out by a claim.
func StreamClaimed(n int) {
	if n > 0 {
		streamClaimedTotal.Add(float64(n))
	}
}

// StreamAcked counts entries moved to a terminal status.
func StreamAcked(status string, n int) {
	if n > 0 {
		streamAckedTotal.WithLabelValues(status).Add(float64(n))
	}
}

// RelayPublished counts relay outcomes: "published" or "failed".
func RelayPublished(outcome string, n int) {
	if n > 0 {
		relayPublishedTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
