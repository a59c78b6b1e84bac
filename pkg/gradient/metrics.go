package gradient

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of worker health, readable without
// locks.
type Stats struct {
	JobsProcessed       int64   `json:"jobsProcessed"`
	JobsFailed          int64   `json:"jobsFailed"`
	AvgProcessingTimeMs float64 `json:"avgProcessingTimeMs"`
	ActiveJobs          int64   `json:"activeJobs"`
	IsRunning           bool    `json:"isRunning"`
	IsEnabled           bool    `json:"isEnabled"`
}

// Metrics tracks worker throughput with atomic counters and mirrors them
// into prometheus collectors.
type Metrics struct {
	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
	totalTimeMs   atomic.Int64
	activeJobs    atomic.Int64

	promProcessed prometheus.Counter
	promFailed    prometheus.Counter
	promDuration  prometheus.Histogram
	promActive    prometheus.Gauge
}

// NewMetrics creates worker metrics. reg may be nil to skip prometheus
// registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pictor",
			Subsystem: "gradient",
			Name:      "jobs_processed_total",
			Help:      "Gradient jobs completed successfully.",
		}),
		promFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pictor",
			Subsystem: "gradient",
			Name:      "jobs_failed_total",
			Help:      "Gradient job attempts that failed.",
		}),
		promDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pictor",
			Subsystem: "gradient",
			Name:      "job_duration_seconds",
			Help:      "Time spent processing one gradient job.",
			Buckets:   prometheus.DefBuckets,
		}),
		promActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pictor",
			Subsystem: "gradient",
			Name:      "active_jobs",
			Help:      "Gradient jobs currently in flight.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.promProcessed, m.promFailed, m.promDuration, m.promActive)
	}
	return m
}

// JobStarted marks a job in flight.
func (m *Metrics) JobStarted() {
	m.activeJobs.Add(1)
	m.promActive.Inc()
}

// JobFinished marks a job leaving flight.
func (m *Metrics) JobFinished() {
	m.activeJobs.Add(-1)
	m.promActive.Dec()
}

// JobSucceeded records a completed job and its duration.
func (m *Metrics) JobSucceeded(durationMs int64) {
	m.jobsProcessed.Add(1)
	m.totalTimeMs.Add(durationMs)
	m.promProcessed.Inc()
	m.promDuration.Observe(float64(durationMs) / 1000)
}

// JobFailed records a failed attempt.
func (m *Metrics) JobFailed() {
	m.jobsFailed.Add(1)
	m.promFailed.Inc()
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() Stats {
	processed := m.jobsProcessed.Load()
	var avg float64
	if processed > 0 {
		avg = float64(m.totalTimeMs.Load()) / float64(processed)
	}
	return Stats{
		JobsProcessed:       processed,
		JobsFailed:          m.jobsFailed.Load(),
		AvgProcessingTimeMs: avg,
		ActiveJobs:          m.activeJobs.Load(),
	}
}
