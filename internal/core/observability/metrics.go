// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// tile fetch outcomes
const (
	TileCached  = "cached"
	TileFetched = "fetched"
	TileFailed  = "failed"
	TileAbsent  = "absent"
)

// render outcomes
const (
	RenderHit      = "hit"
	RenderBuilt    = "built"
	RenderNotFound = "not_found"
	RenderError    = "error"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "result"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	tileFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_ensure_total",
			Help: "Tiles handled by the tile store, by outcome.",
		},
		[]string{"map", "outcome"},
	)

	compositeTiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "composite_tiles",
			Help: "Tiles in the in-memory composite, by state.",
		},
		[]string{"map", "state"},
	)

	renderResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_results_total",
			Help: "Render cache results by outcome.",
		},
		[]string{"map", "outcome", "clustered"},
	)

	renderBuildSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_build_duration_seconds",
			Help:    "Time to build a rendered image on a cache miss.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"map"},
	)

	macroSlices = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "render_macro_slices",
			Help:    "Macro tiles touched by a render region.",
			Buckets: []float64{1, 2, 4, 6, 9, 12, 16},
		},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_commands_total",
			Help: "Operator commands consumed from Kafka, by op and result.",
		},
		[]string{"op", "result"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		redisOpSeconds, tileFetchTotal, compositeTiles, renderResults, renderBuildSeconds,
		macroSlices, commandsTotal, buildInfo,
	}
}

func init() {
	prometheus.MustRegister(collectors()...)
}

// Register adds the service collectors to an extra registry, such as the one
// behind the dedicated metrics listener.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		_ = reg.Register(c)
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	redisOpSeconds.WithLabelValues(op, result(err)).Observe(durationSeconds)
}

func AddTiles(mapID int, outcome string, n int) {
	if n <= 0 {
		return
	}
	tileFetchTotal.WithLabelValues(strconv.Itoa(mapID), outcome).Add(float64(n))
}

func SetCompositeTiles(mapID int, present, missing int) {
	m := strconv.Itoa(mapID)
	compositeTiles.WithLabelValues(m, "present").Set(float64(present))
	compositeTiles.WithLabelValues(m, "missing").Set(float64(missing))
}

func IncRender(mapID int, outcome string, clustered bool) {
	renderResults.WithLabelValues(strconv.Itoa(mapID), outcome, strconv.FormatBool(clustered)).Inc()
}

func ObserveRenderBuild(mapID int, durationSeconds float64) {
	renderBuildSeconds.WithLabelValues(strconv.Itoa(mapID)).Observe(durationSeconds)
}

func ObserveMacroSlices(n int) {
	macroSlices.Observe(float64(n))
}

// IncCommand counts one consumed command; result is ok, error or skipped.
func IncCommand(op, result string) {
	if op == "" {
		op = "unknown"
	}
	commandsTotal.WithLabelValues(op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
