// Package observability holds the Prometheus instruments shared across the
// service. Instruments live on the default registry; the HTTP server mounts
// promhttp for them.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Tile store operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	storeOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Duration of tile store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	tileCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Resolver outcomes: hit, miss, placeholder.",
		},
		[]string{"outcome"},
	)

	tilesDownloadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiles_downloaded_total",
			Help: "Bulk download tile outcomes.",
		},
		[]string{"outcome"},
	)

	tileDownloadDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_download_duration_seconds",
			Help:    "Per-tile fetch duration including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	tileBytesDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_bytes_downloaded_total",
			Help: "Total tile payload bytes fetched from the network.",
		},
	)

	downloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "area_downloads_in_flight",
			Help: "Bulk area downloads currently running (0 or 1).",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOpTotal.WithLabelValues(op, outcome).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncTileCacheHit()         { tileCacheResults.WithLabelValues("hit").Inc() }
func IncTileCacheMiss()        { tileCacheResults.WithLabelValues("miss").Inc() }
func IncTileCachePlaceholder() { tileCacheResults.WithLabelValues("placeholder").Inc() }

func ObserveTileDownload(err error, bytes int, durationSeconds float64) {
	if err != nil {
		tilesDownloadedTotal.WithLabelValues("failed").Inc()
	} else {
		tilesDownloadedTotal.WithLabelValues("ok").Inc()
		tileBytesDownloadedTotal.Add(float64(bytes))
	}
	tileDownloadDurationSeconds.Observe(durationSeconds)
}

func SetDownloadInFlight(running bool) {
	if running {
		downloadsInFlight.Set(1)
		return
	}
	downloadsInFlight.Set(0)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
