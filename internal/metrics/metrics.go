// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshTotal               *prometheus.CounterVec
	refreshDurationSeconds     prometheus.Histogram
	cachedRecords              prometheus.Gauge
	searchTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	webhookDeliveriesTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runedex_refresh_total",
				Help: "Total refresh cycles, labeled by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		)

		refreshDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "runedex_refresh_duration_seconds",
				Help:    "Histogram of full refresh cycle durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		cachedRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "runedex_cached_records",
				Help: "Number of records in the current cached set.",
			},
		)

		searchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runedex_search_total",
				Help: "Total name searches, labeled by outcome.",
			},
			[]string{"outcome"},
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

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runedex_webhook_deliveries_total",
				Help: "Total webhook notification deliveries, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh records one refresh cycle.
func ObserveRefresh(trigger, outcome string, duration time.Duration) {
	refreshTotal.WithLabelValues(trigger, outcome).Inc()
	refreshDurationSeconds.Observe(duration.Seconds())
}

// SetCachedRecords updates the cached record count gauge.
func SetCachedRecords(n int) {
	cachedRecords.Set(float64(n))
}

// ObserveSearch increments the search counter for the given outcome.
func ObserveSearch(outcome string) {
	searchTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWebhookDelivery increments the webhook delivery counter.
func ObserveWebhookDelivery(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}
