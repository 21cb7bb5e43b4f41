// Package metrics exposes Prometheus collectors for the image pipeline.
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
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipe_cache_lookups_total",
			Help: "Total number of transform cache lookups, labeled by result.",
		},
		[]string{"result"},
	)

	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipe_builds_total",
			Help: "Total number of codec builds, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	buildDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagepipe_build_duration_seconds",
			Help:    "Histogram of codec build latencies, labeled by kind.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	devAssetResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipe_dev_asset_responses_total",
			Help: "Total number of dev middleware decisions, labeled by result.",
		},
		[]string{"result"},
	)

	flushedAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagepipe_flushed_assets_total",
			Help: "Total number of assets written by the build finalizer, labeled by status.",
		},
		[]string{"status"},
	)

	flushedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagepipe_flushed_bytes_total",
			Help: "Total number of bytes written by the build finalizer.",
		},
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

// ObserveCacheLookup records a cache lookup; result is "hit", "miss" or "shared".
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveBuild records one codec build of the given kind ("decode", "transform", "encode").
func ObserveBuild(kind string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	buildsTotal.WithLabelValues(kind, status).Inc()
	buildDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveDevAsset records a dev middleware decision; result is "served", "passthrough" or "error".
func ObserveDevAsset(result string) {
	devAssetResponsesTotal.WithLabelValues(result).Inc()
}

// ObserveFlushedAsset records one finalizer write.
func ObserveFlushedAsset(err error, size int) {
	if err != nil {
		flushedAssetsTotal.WithLabelValues("error").Inc()
		return
	}
	flushedAssetsTotal.WithLabelValues("success").Inc()
	flushedBytesTotal.Add(float64(size))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
