package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NetworkRequests counts HTTP calls issued by the transport by method and status.
	NetworkRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunview_network_requests_total",
			Help: "Total number of backend HTTP requests",
		},
		[]string{"method", "status"},
	)
	// NetworkDuration is the latency of backend HTTP requests.
	NetworkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunview_network_request_duration_seconds",
			Help:    "Backend HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	// InflightCalls is the number of network calls not yet completed or torn down.
	InflightCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunview_network_inflight_calls",
			Help: "Network calls currently in flight",
		},
	)
	// CacheResults counts cache exchange outcomes (hit, miss, optimistic, write).
	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunview_cache_results_total",
			Help: "Cache exchange outcomes",
		},
		[]string{"outcome"},
	)
	// DedupeDropped counts read operations collapsed onto an in-flight call.
	DedupeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunview_dedupe_dropped_total",
			Help: "Read operations dropped because an identical call was in flight",
		},
	)
	// Teardowns counts teardown operations emitted by clients.
	Teardowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunview_teardowns_total",
			Help: "Teardown operations emitted when the last observer of a key left",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
