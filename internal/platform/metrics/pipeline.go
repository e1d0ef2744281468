package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics collects ingestion and job chain metrics.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	rows         prometheus.Counter
	failed       prometheus.Counter
	rowErrors    prometheus.Counter
	inFlight     prometheus.Gauge
	stageRuns    *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
}

// NewPipelineMetrics creates pipeline metrics registered on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Total number of report rows written as daily stats.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_batches_failed_total",
			Help: "Total number of report batches that failed to ingest.",
		}),
		rowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_row_errors_total",
			Help: "Total number of malformed report rows skipped.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_units_in_flight",
			Help: "Number of report batches currently being resolved and written.",
		}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_stage_runs_total",
			Help: "Total number of job stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_stage_duration_seconds",
			Help:    "Job stage execution time in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.rows, m.failed, m.rowErrors, m.inFlight, m.stageRuns, m.stageLatency)
	}
	return m
}

// RowsIngested adds n written rows.
func (m *PipelineMetrics) RowsIngested(n int) {
	if m == nil {
		return
	}
	m.rows.Add(float64(n))
}

// BatchFailed counts a failed batch.
func (m *PipelineMetrics) BatchFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

// RowsSkipped adds n malformed rows.
func (m *PipelineMetrics) RowsSkipped(n int) {
	if m == nil {
		return
	}
	m.rowErrors.Add(float64(n))
}

// UnitsInFlight sets the in-flight gauge.
func (m *PipelineMetrics) UnitsInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// StageRun records one stage execution.
func (m *PipelineMetrics) StageRun(stage, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(seconds)
}
