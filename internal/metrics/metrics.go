// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timeline_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"route"})

	CheckpointsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_checkpoints_created_total",
		Help: "Checkpoints created (idempotent repeats excluded)",
	})

	BlobBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_blob_bytes_written_total",
		Help: "Bytes written to blob files after compression",
	})

	OpenRepositories = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timeline_open_repositories",
		Help: "Repositories currently held open by the registry",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
