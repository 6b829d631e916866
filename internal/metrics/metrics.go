// Package metrics exposes dispatcher counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dropwatch"

// Rejection and failure reasons used as label values.
const (
	ReasonInvalidIdentifier = "invalid_identifier"
	ReasonDuplicate         = "duplicate"
	ReasonReadFailed        = "read_failed"
	ReasonInvalidDescriptor = "invalid_descriptor"
	ReasonLauncherMissing   = "launcher_missing"
	ReasonLaunchFailed      = "launch_failed"
	ReasonWatchFailed       = "watch_failed"
	ReasonInternal          = "internal"
)

// Metrics holds the dispatcher collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	triggersReceived prometheus.Counter
	triggersRejected *prometheus.CounterVec
	jobsLaunched     prometheus.Counter
	jobsCompleted    prometheus.Counter
	jobsFailed       *prometheus.CounterVec
	jobsTimedOut     prometheus.Counter
	gateWaiters      prometheus.Gauge
	jobInProgress    prometheus.Gauge
	jobDuration      prometheus.Histogram
}

// New creates the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		triggersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_received_total",
			Help:      "Descriptor files observed in the input directory",
		}),
		triggersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_rejected_total",
			Help:      "Triggers dropped before launch",
		}, []string{"reason"}),
		jobsLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_launched_total",
			Help:      "Jobs handed to the launcher",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs whose completion marker appeared",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs that could not be launched or awaited",
		}, []string{"reason"}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_timed_out_total",
			Help:      "Jobs whose completion wait exceeded output.timeout",
		}),
		gateWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_waiters",
			Help:      "Triggers blocked on the dispatch gate",
		}),
		jobInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_in_progress",
			Help:      "1 while a job holds the dispatch gate",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from launch to completion marker",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
	}

	reg.MustRegister(
		m.triggersReceived,
		m.triggersRejected,
		m.jobsLaunched,
		m.jobsCompleted,
		m.jobsFailed,
		m.jobsTimedOut,
		m.gateWaiters,
		m.jobInProgress,
		m.jobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) TriggerReceived() {
	if m == nil {
		return
	}
	m.triggersReceived.Inc()
}

func (m *Metrics) TriggerRejected(reason string) {
	if m == nil {
		return
	}
	m.triggersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobLaunched() {
	if m == nil {
		return
	}
	m.jobsLaunched.Inc()
}

func (m *Metrics) JobCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) JobFailed(reason string) {
	if m == nil {
		return
	}
	m.jobsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobTimedOut() {
	if m == nil {
		return
	}
	m.jobsTimedOut.Inc()
}

func (m *Metrics) SetGateWaiters(n int) {
	if m == nil {
		return
	}
	m.gateWaiters.Set(float64(n))
}

func (m *Metrics) SetInProgress(active bool) {
	if m == nil {
		return
	}
	if active {
		m.jobInProgress.Set(1)
		return
	}
	m.jobInProgress.Set(0)
}
