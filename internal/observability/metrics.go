package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RowsExtracted    prometheus.Counter
	RecordsTyped     prometheus.Counter
	SchemaErrors     prometheus.Counter
	FlatRecords      prometheus.Counter
	EmptyExpansions  prometheus.Counter
	SummariesWritten prometheus.Counter
	PipelineRunning  prometheus.Gauge
	BatchSize        prometheus.Histogram
	RunDuration      prometheus.Histogram
	Runs             *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Total raw rows read from the source.",
		}),
		RecordsTyped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_typed_total",
			Help:      "Total rows successfully typed against the input schema.",
		}),
		SchemaErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_errors_total",
			Help:      "Total rows that could not be typed.",
		}),
		FlatRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flat_records_total",
			Help:      "Total hourly observations produced by expansion.",
		}),
		EmptyExpansions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_expansions_total",
			Help:      "Typed records that expanded to zero observations.",
		}),
		SummariesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_written_total",
			Help:      "Total hourly summary rows written to the sink.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of rows per batch extracted from the source.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100, 250, 500, 1000},
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete extract-expand-aggregate-load run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.RowsExtracted,
		m.RecordsTyped,
		m.SchemaErrors,
		m.FlatRecords,
		m.EmptyExpansions,
		m.SummariesWritten,
		m.PipelineRunning,
		m.BatchSize,
		m.RunDuration,
		m.Runs,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsExtracted:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rows_extracted_total"}),
		RecordsTyped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "records_typed_total"}),
		SchemaErrors:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "schema_errors_total"}),
		FlatRecords:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "flat_records_total"}),
		EmptyExpansions:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "empty_expansions_total"}),
		SummariesWritten: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "summaries_written_total"}),
		PipelineRunning:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		RunDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "run_duration_seconds"}),
		Runs:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "runs_total"}, []string{"outcome"}),
	}
}
