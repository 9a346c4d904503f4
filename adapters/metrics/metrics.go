// Package metrics provides Prometheus metrics for the admission pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the service.
type Collector struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec
	DenialsTotal    *prometheus.CounterVec
	BypassTotal     *prometheus.CounterVec

	// Capacity metrics
	CapacityUsed prometheus.Gauge

	// Abuse metrics
	AbuseFlagged   prometheus.Counter
	AbuseTrackedIPs prometheus.Gauge

	// Commit metrics
	CommitsTotal   *prometheus.CounterVec
	CommitFailures prometheus.Counter

	// Upstream metrics
	GenerationDuration *prometheus.HistogramVec
	GenerationErrors   prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a collector registered on the given registerer. Tests use
// this with a fresh registry so collectors never collide.
func NewWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "admissions_total",
				Help:      "Admission decisions by outcome and tier",
			},
			[]string{"outcome", "tier"},
		),
		DenialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "denials_total",
				Help:      "Denied admissions by reason",
			},
			[]string{"reason"},
		),
		BypassTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "bypass_total",
				Help:      "Privileged bypass admissions by kind",
			},
			[]string{"kind"},
		),
		CapacityUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trumpswap",
				Name:      "capacity_window_used",
				Help:      "Requests admitted in the current global capacity window",
			},
		),
		AbuseFlagged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "abuse_flagged_total",
				Help:      "Requests denied by the per-IP abuse guard",
			},
		),
		AbuseTrackedIPs: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trumpswap",
				Name:      "abuse_tracked_ips",
				Help:      "Source IPs currently tracked by the abuse guard",
			},
		),
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "usage_commits_total",
				Help:      "Usage commits by payment kind",
			},
			[]string{"payment"},
		),
		CommitFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "usage_commit_failures_total",
				Help:      "Commits that failed to persist after a successful generation",
			},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "trumpswap",
				Name:      "generation_duration_seconds",
				Help:      "Upstream generation call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		GenerationErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "generation_errors_total",
				Help:      "Upstream generation calls that failed",
			},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trumpswap",
				Name:      "config_reload_errors_total",
				Help:      "Failed configuration reloads",
			},
		),
	}
}
