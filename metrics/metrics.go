// Package metrics holds the pipeline's prometheus collectors.
//
// Collectors are registered on a private registry rather than the global
// default one so each process exposes only what it touches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hlsstream"

var (
	Registry = prometheus.NewRegistry()

	FramesEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "frames_total",
		Help:      "Frames written to the encoder input pipe",
	})

	RateOverruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "overruns_total",
		Help:      "Loop iterations that started after their period boundary",
	})

	MarkersPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "markers_published_total",
		Help:      "Markers appended and republished to the cache",
	})

	SegmentsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "segments_deleted_total",
		Help:      "Expired segment files removed by the retention sweep",
	})

	SegmentsRetained = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "segments_retained",
		Help:      "Segments referenced by the manifest at the last sweep",
	})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Marker cache requests by operation and outcome",
	}, []string{"op", "status"})
)

func init() {
	Registry.MustRegister(
		FramesEncoded,
		RateOverruns,
		MarkersPublished,
		SegmentsDeleted,
		SegmentsRetained,
		CacheRequests,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// CacheResult counts one cache request.
func CacheResult(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CacheRequests.WithLabelValues(op, status).Inc()
}
