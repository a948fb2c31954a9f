package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the judging system.
type Metrics struct {
	Registry *prometheus.Registry

	SubmissionsTotal    *prometheus.CounterVec
	SecurityRejections  *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionErrors     *prometheus.CounterVec
	DatasetLoadDuration prometheus.Histogram
	GradeScore          prometheus.Histogram
	ActiveSandboxes     prometheus.Gauge
	SandboxEvictions    prometheus.Counter
	QueueDepth          prometheus.Gauge
	JobsTotal           *prometheus.CounterVec
	RequestsInFlight    prometheus.Gauge
	QuerySizeBytes      prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "submissions_total",
				Help:      "Total number of submissions by mode and status.",
			},
			[]string{"mode", "status"},
		),

		SecurityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "security_rejections_total",
				Help:      "Total submissions rejected by the SQL validator, by rule.",
			},
			[]string{"rule"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandboxed query executions in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "execution_errors_total",
				Help:      "Total sandbox execution errors by type.",
			},
			[]string{"type"},
		),

		DatasetLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "dataset_load_duration_seconds",
				Help:      "Duration of dataset loads into a sandbox.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		),

		GradeScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "grade_score",
				Help:      "Distribution of grading scores.",
				Buckets:   []float64{0, 25, 50, 75, 90, 99, 100},
			},
		),

		ActiveSandboxes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Name:      "active_sandboxes",
				Help:      "Number of live per-user sandboxes.",
			},
		),

		SandboxEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "sandbox_evictions_total",
				Help:      "Total sandboxes evicted to stay under the instance ceiling.",
			},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Name:      "queue_depth",
				Help:      "Number of jobs waiting to be claimed.",
			},
		),

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "judge",
				Name:      "jobs_total",
				Help:      "Total queue jobs by terminal status.",
			},
			[]string{"status"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "judge",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		QuerySizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "judge",
				Name:      "query_size_bytes",
				Help:      "Size of submitted SQL in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.SubmissionsTotal,
		m.SecurityRejections,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.DatasetLoadDuration,
		m.GradeScore,
		m.ActiveSandboxes,
		m.SandboxEvictions,
		m.QueueDepth,
		m.JobsTotal,
		m.RequestsInFlight,
		m.QuerySizeBytes,
	)

	return m
}

// RecordSubmission records metrics for a finished submission.
func (m *Metrics) RecordSubmission(mode, status string) {
	m.SubmissionsTotal.WithLabelValues(mode, status).Inc()
}

// RecordExecution records one sandboxed query execution.
func (m *Metrics) RecordExecution(status string, durationSec float64) {
	m.ExecutionDuration.WithLabelValues(status).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordRejection records a validator rejection by rule name.
func (m *Metrics) RecordRejection(rule string) {
	m.SecurityRejections.WithLabelValues(rule).Inc()
}
