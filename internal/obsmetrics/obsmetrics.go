// Package obsmetrics holds the Prometheus registry for the replication
// engine: diff-apply outcomes, resyncs, retry-queue depth, REST weight, and
// websocket latency.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the replication engine emits.
type Registry struct {
	DiffApplyTotal  *prometheus.CounterVec
	GapsTotal       *prometheus.CounterVec
	ResyncsTotal    *prometheus.CounterVec
	RetryQueueDepth prometheus.Gauge
	RESTWeight      prometheus.Gauge
	WSLatency       *prometheus.HistogramVec
	ActiveStreams   prometheus.Gauge

	reg *prometheus.Registry
}

// NewRegistry builds every metric and registers it on a registry owned by
// the returned value, so separate instances never collide.
func NewRegistry() *Registry {
	r := &Registry{
		DiffApplyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquiditymon_diff_apply_total",
				Help: "Count of ApplyDiff outcomes by segment and result.",
			},
			[]string{"segment", "result"},
		),
		GapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquiditymon_gaps_total",
				Help: "Count of gap results that triggered a resync flag, by segment.",
			},
			[]string{"segment"},
		),
		ResyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquiditymon_resyncs_total",
				Help: "Count of completed resyncs, by segment.",
			},
			[]string{"segment"},
		),
		RetryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "liquiditymon_retry_queue_depth",
				Help: "Current number of entries in the subscription retry queue.",
			},
		),
		RESTWeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "liquiditymon_rest_weight_used",
				Help: "Request weight consumed in the current 1-minute window.",
			},
		),
		WSLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "liquiditymon_ws_latency_ms",
				Help:    "Time between a diff's arrival and its ApplyDiff return, in milliseconds.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"segment"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "liquiditymon_active_streams",
				Help: "Current number of open stream connections.",
			},
		),
	}

	r.reg = prometheus.NewRegistry()
	r.reg.MustRegister(
		r.DiffApplyTotal,
		r.GapsTotal,
		r.ResyncsTotal,
		r.RetryQueueDepth,
		r.RESTWeight,
		r.WSLatency,
		r.ActiveStreams,
	)
	return r
}

// Handler returns the HTTP handler serving the registered metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
