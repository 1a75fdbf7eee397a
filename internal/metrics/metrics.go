// Package metrics exposes process-wide counters/histograms via
// prometheus/client_golang, the observability layer spec §1 places out
// of the core's scope but which the ambient stack still carries, the
// same way the teacher wires structured logging regardless of what the
// spec's functional Non-goals exclude.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric igni exports. A single instance is
// constructed at startup and served on /metrics; no pipeline stage
// records observations into it.
type Registry struct {
	reg *prometheus.Registry

	PartsPushed         prometheus.Counter
	PushRejected        *prometheus.CounterVec
	SegmentBuildSeconds *prometheus.HistogramVec
	SegmentBuildErrors  *prometheus.CounterVec
	DecodedFrames       prometheus.Counter
	ActiveSpecs         prometheus.Gauge
	ActiveSources       prometheus.Gauge
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		PartsPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "igni_parts_pushed_total",
			Help: "Number of push_part calls accepted.",
		}),
		PushRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igni_push_rejected_total",
			Help: "Number of push_part calls rejected, by error kind.",
		}, []string{"kind"}),
		SegmentBuildSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "igni_segment_build_seconds",
			Help:    "Wall-clock time to build one MPEG-TS segment.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		SegmentBuildErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "igni_segment_build_errors_total",
			Help: "Segment build failures, by error kind.",
		}, []string{"kind"}),
		DecodedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "igni_decoded_frames_total",
			Help: "Source frames decoded across all segment builds.",
		}),
		ActiveSpecs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "igni_active_specs",
			Help: "Specs currently held in memory.",
		}),
		ActiveSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "igni_active_sources",
			Help: "Sources currently held in the probe cache.",
		}),
	}
}

// Handler returns the gin handler serving /metrics in the Prometheus
// text exposition format.
func (r *Registry) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
