package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taxilake_pipeline_build_info",
			Help: "Build information of the taxi trip pipeline",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taxilake_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
		},
		[]string{"stage"},
	)

	StageRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taxilake_pipeline_stage_rows",
			Help: "Rows entering and leaving each stage of the last run",
		},
		[]string{"stage", "direction"},
	)

	ColumnsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_columns_dropped_total",
			Help: "Columns eliminated by the null-density filter",
		},
		[]string{"column"},
	)

	TimestampParseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_timestamp_parse_failures_total",
			Help: "Timestamp cells that could not be parsed and became null",
		},
		[]string{"column"},
	)

	UndefinedRatiosTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_undefined_ratios_total",
			Help: "Derived ratio cells that are null, infinite or NaN",
		},
		[]string{"column", "kind"},
	)

	DuplicatesRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_duplicates_removed_total",
			Help: "Rows removed as exact duplicates",
		},
	)

	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_sink_writes_total",
			Help: "Aggregate table writes by sink and outcome",
		},
		[]string{"sink", "status"},
	)

	SinkWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taxilake_pipeline_sink_write_duration_seconds",
			Help:    "Duration of aggregate table writes, retries included",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		},
		[]string{"sink"},
	)

	SinkRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxilake_pipeline_sink_retries_total",
			Help: "Retried aggregate table writes",
		},
		[]string{"sink"},
	)
)

// WriteToTextfile writes the default registry to path in the text exposition
// format, for the node exporter textfile collector.
func WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
