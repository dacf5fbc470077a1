// Package metrics exposes Prometheus collectors for the orchestration service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	crawlerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Total number of crawl runs, labeled by crawler and final status.",
		},
		[]string{"crawler", "status"},
	)

	crawlerItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_items_total",
			Help: "Total number of catalog items visited, labeled by crawler and outcome.",
		},
		[]string{"crawler", "outcome"},
	)

	crawlerTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_triggers_total",
			Help: "Total number of trigger requests, labeled by result.",
		},
		[]string{"result"},
	)

	crawlerActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_runs",
			Help: "Number of crawl runs currently executing.",
		},
	)

	crawlerPacerDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_pacer_delays_seconds",
			Help:    "Histogram of request pacing wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"crawler"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// Item outcome labels reported per fetched/skipped/failed item.
const (
	OutcomeFetched = "fetched"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(crawlerName, status string) {
	crawlerRunsTotal.WithLabelValues(crawlerName, status).Inc()
}

// ObserveItem increments the item counter for one visited catalog item.
func ObserveItem(crawlerName, outcome string) {
	crawlerItemsTotal.WithLabelValues(crawlerName, outcome).Inc()
}

// ObserveTrigger increments the trigger counter for the given result.
func ObserveTrigger(result string) {
	crawlerTriggersTotal.WithLabelValues(result).Inc()
}

// TriggerResultCount returns the current trigger counter value for one
// result label.
func TriggerResultCount(result string) float64 {
	var m dto.Metric
	if err := crawlerTriggersTotal.WithLabelValues(result).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	crawlerActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	crawlerActiveRuns.Dec()
}

// ObservePacerDelay records the duration of a pacing wait.
func ObservePacerDelay(crawlerName string, duration time.Duration) {
	crawlerPacerDelaysSeconds.WithLabelValues(crawlerName).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
