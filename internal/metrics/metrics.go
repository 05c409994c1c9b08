// Package metrics provides Prometheus metrics for soil-loss pipeline runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for pipeline runs.
type Metrics struct {
	// Run metrics
	RunsStarted   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec

	// Stage metrics
	StagesCompleted *prometheus.CounterVec
	StagesSkipped   *prometheus.CounterVec
	StagesFailed    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	InFlightStages  prometheus.Gauge

	// Grid metrics
	GridCells      *prometheus.HistogramVec
	LookupMisses   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	return InitWith(namespace, prometheus.DefaultRegisterer)
}

// InitWith registers metrics with reg instead of the default registerer.
func InitWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "soil_loss"
	}
	f := promauto.With(reg)

	m := &Metrics{
		RunsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"run_kind"},
		),
		RunsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs that completed",
			},
			[]string{"run_kind"},
		),
		RunsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_failed_total",
				Help:      "Total number of pipeline runs that failed",
			},
			[]string{"run_kind", "reason"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a pipeline run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27min
			},
			[]string{"run_kind"},
		),
		StagesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of stages executed to completion",
			},
			[]string{"run_kind", "stage"},
		),
		StagesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_skipped_total",
				Help:      "Total number of stages skipped (already done on resume)",
			},
			[]string{"run_kind", "stage"},
		),
		StagesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_failed_total",
				Help:      "Total number of stages that failed",
			},
			[]string{"run_kind", "stage"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time to execute a stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"run_kind", "stage"},
		),
		InFlightStages: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_stages",
				Help:      "Number of stages currently executing",
			},
		),
		GridCells: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grid_valid_cells",
				Help:      "Valid cells in grids written by a stage",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 10), // 100 to ~26M
			},
			[]string{"stage"},
		),
		LookupMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_missing_cells_total",
				Help:      "Cells whose category code had no lookup table entry",
			},
			[]string{"table"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of grid storage errors",
			},
			[]string{"operation"},
		),
		MetadataErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of run catalog errors",
			},
			[]string{"operation"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	RunKind   string
	Stage     string
	Reason    string
	Table     string
	Operation string
}

// The helpers below are nil-safe so callers need not check whether metrics
// were initialised.

// IncRunsStarted increments the runs started counter.
func (m *Metrics) IncRunsStarted(l Labels) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(l.RunKind).Inc()
}

// IncRunsCompleted increments the runs completed counter.
func (m *Metrics) IncRunsCompleted(l Labels) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(l.RunKind).Inc()
}

// IncRunsFailed increments the runs failed counter.
func (m *Metrics) IncRunsFailed(l Labels) {
	if m == nil {
		return
	}
	m.RunsFailed.WithLabelValues(l.RunKind, l.Reason).Inc()
}

// ObserveRunDuration records a run's wall time.
func (m *Metrics) ObserveRunDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(l.RunKind).Observe(seconds)
}

// IncStagesCompleted increments the stages completed counter.
func (m *Metrics) IncStagesCompleted(l Labels) {
	if m == nil {
		return
	}
	m.StagesCompleted.WithLabelValues(l.RunKind, l.Stage).Inc()
}

// IncStagesSkipped increments the stages skipped counter.
func (m *Metrics) IncStagesSkipped(l Labels) {
	if m == nil {
		return
	}
	m.StagesSkipped.WithLabelValues(l.RunKind, l.Stage).Inc()
}

// IncStagesFailed increments the stages failed counter.
func (m *Metrics) IncStagesFailed(l Labels) {
	if m == nil {
		return
	}
	m.StagesFailed.WithLabelValues(l.RunKind, l.Stage).Inc()
}

// ObserveStageDuration records a stage's execution time.
func (m *Metrics) ObserveStageDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(l.RunKind, l.Stage).Observe(seconds)
}

// AddInFlightStages adjusts the in-flight stage gauge.
func (m *Metrics) AddInFlightStages(delta float64) {
	if m == nil {
		return
	}
	m.InFlightStages.Add(delta)
}

// ObserveGridCells records the valid cell count of a written grid.
func (m *Metrics) ObserveGridCells(l Labels, cells float64) {
	if m == nil {
		return
	}
	m.GridCells.WithLabelValues(l.Stage).Observe(cells)
}

// AddLookupMisses adds to the lookup miss counter.
func (m *Metrics) AddLookupMisses(l Labels, cells float64) {
	if m == nil {
		return
	}
	m.LookupMisses.WithLabelValues(l.Table).Add(cells)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(l.Operation).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors(l Labels) {
	if m == nil {
		return
	}
	m.MetadataErrors.WithLabelValues(l.Operation).Inc()
}
