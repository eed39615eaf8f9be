// Package metrics exposes the tree's and knot's prometheus counters and
// gauges, all under the lithos_ name prefix.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lithos_sandboxes_total",
			Help: "Total number of sandboxes known to the tree",
		},
	)

	InstancesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lithos_instances_by_state",
			Help: "Number of instances in each reconciliation state",
		},
		[]string{"state"},
	)

	KnotsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lithos_knots_running",
			Help: "Number of knot processes currently running",
		},
	)

	RestartQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lithos_restart_queue_depth",
			Help: "Number of instances waiting on a restart timer",
		},
	)

	UnknownProcessesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lithos_unknown_processes_total",
			Help: "Child processes found by the last adoption scan that match no desired instance",
		},
	)

	KnotStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lithos_knot_starts_total",
			Help: "Total number of times the tree has started a knot for an instance",
		},
		[]string{"sandbox", "process"},
	)

	KnotFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lithos_knot_failures_total",
			Help: "Total number of knot exits classified as failures",
		},
		[]string{"sandbox", "process"},
	)

	KnotDeathsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lithos_knot_deaths_total",
			Help: "Total number of knot process exits, any cause",
		},
		[]string{"sandbox", "process"},
	)

	AdoptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lithos_adoptions_total",
			Help: "Total number of knot processes adopted from a previous tree generation",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lithos_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation pass over all sandboxes",
			Buckets: prometheus.DefBuckets,
		},
	)

	StartupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lithos_instance_startup_duration_seconds",
			Help:    "Time from knot exec to the exec of the container payload",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sandbox", "process"},
	)

	RestartBackoffSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lithos_restart_backoff_seconds",
			Help:    "Computed backoff delay before a restart attempt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"sandbox", "process"},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesTotal,
		InstancesByState,
		KnotsRunning,
		RestartQueueDepth,
		UnknownProcessesTotal,
		KnotStartsTotal,
		KnotFailuresTotal,
		KnotDeathsTotal,
		AdoptionsTotal,
		ReconciliationDuration,
		StartupDuration,
		RestartBackoffSeconds,
	)
}

// Handler returns the prometheus HTTP handler for the default registry.
// The tree does not start a listener for it.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later recording against a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
