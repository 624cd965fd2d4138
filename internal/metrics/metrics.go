// Package metrics exposes fleetring counters and gauges to Prometheus.
//
// Collectors live on a private registry so several services can coexist
// in one process (and in tests) without duplicate registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetops/fleetring/internal/history"
)

const namespace = "fleetring"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsIngested    prometheus.Counter
	ReadingsRejected    prometheus.Counter
	AggregatesCompleted prometheus.Counter
	WALRecords          prometheus.Counter
	WALErrors           prometheus.Counter
	ExportFiles         prometheus.Counter
	ExportRows          prometheus.Counter
	ExportErrors        prometheus.Counter
	CompactedFiles      prometheus.Counter
	RetentionDeleted    *prometheus.CounterVec

	Series          prometheus.Gauge
	RetainedRaw     prometheus.Gauge
	RetainedAggs    prometheus.Gauge
	PendingReadings prometheus.Gauge
	EvictedRaw      prometheus.Gauge
	PendingExport   prometheus.Gauge

	IngestDuration prometheus.Histogram
	ExportDuration prometheus.Histogram
}

// New creates and registers all collectors. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings accepted into history.",
		}),
		ReadingsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings rejected by validation.",
		}),
		AggregatesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregates_completed_total",
			Help:      "Aggregation windows closed.",
		}),
		WALRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_records_total",
			Help:      "Batches appended to the write-ahead log.",
		}),
		WALErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_errors_total",
			Help:      "Failed write-ahead log appends or syncs.",
		}),
		ExportFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_files_total",
			Help:      "Parquet files written.",
		}),
		ExportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_rows_total",
			Help:      "Aggregates written to Parquet.",
		}),
		ExportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Failed Parquet exports.",
		}),
		CompactedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_files_compacted_total",
			Help:      "Export files merged into hourly files.",
		}),
		RetentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_files_total",
			Help:      "Files removed by retention, by class.",
		}, []string{"class"}),

		Series: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series",
			Help:      "Tracked (equipment, sensor) series.",
		}),
		RetainedRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_readings",
			Help:      "Raw readings currently held in ring buffers.",
		}),
		RetainedAggs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_aggregates",
			Help:      "Aggregates currently held in ring buffers.",
		}),
		PendingReadings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_readings",
			Help:      "Readings in open aggregation windows.",
		}),
		EvictedRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evicted_readings",
			Help:      "Raw readings overwritten in ring buffers since start.",
		}),
		PendingExport: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_export_aggregates",
			Help:      "Closed aggregates waiting for the next export.",
		}),

		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_duration_seconds",
			Help:      "Time to log and apply one ingest batch.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time to write one Parquet export.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.ReadingsIngested,
		m.ReadingsRejected,
		m.AggregatesCompleted,
		m.WALRecords,
		m.WALErrors,
		m.ExportFiles,
		m.ExportRows,
		m.ExportErrors,
		m.CompactedFiles,
		m.RetentionDeleted,
		m.Series,
		m.RetainedRaw,
		m.RetainedAggs,
		m.PendingReadings,
		m.EvictedRaw,
		m.PendingExport,
		m.IngestDuration,
		m.ExportDuration,
	)

	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStore copies history statistics into the gauges.
func (m *Metrics) ObserveStore(st history.Stats) {
	m.Series.Set(float64(st.Series))
	m.RetainedRaw.Set(float64(st.RawReadings))
	m.RetainedAggs.Set(float64(st.Aggregates))
	m.PendingReadings.Set(float64(st.PendingReadings))
	m.EvictedRaw.Set(float64(st.RawEvicted))
}
