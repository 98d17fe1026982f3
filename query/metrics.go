package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes used as the status label of Metrics.Queries.
const (
	StatusSuccess        = "success"
	StatusEmpty          = "empty"
	StatusSchemaMismatch = "schema_mismatch"
	StatusFailure        = "failure"
	StatusTimeout        = "timeout"
)

// Metrics holds all Prometheus metrics for the averages query.
type Metrics struct {
	Queries         *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	RowGroupsRead   prometheus.Counter
	RowGroupsPruned prometheus.Counter
	RowsScanned     prometheus.Counter
	BatchesScanned  prometheus.Counter
	PartialBatches  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tripmean_queries_total",
		Help: "Total averages queries by outcome",
	}, []string{"status"})

	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tripmean_query_duration_seconds",
		Help:    "Time from query start to result",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	rowGroupsRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripmean_scan_row_groups_read_total",
		Help: "Total Parquet row groups decoded",
	})

	rowGroupsPruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripmean_scan_row_groups_pruned_total",
		Help: "Total Parquet row groups skipped using column statistics",
	})

	rowsScanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripmean_scan_rows_total",
		Help: "Total rows decoded before filtering",
	})

	batchesScanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripmean_scan_batches_total",
		Help: "Total filtered batches fed to the aggregate stage",
	})

	partialBatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tripmean_aggregate_batches_total",
		Help: "Total partial aggregate batches merged into results",
	})

	reg.MustRegister(queries, queryDuration, rowGroupsRead, rowGroupsPruned, rowsScanned, batchesScanned, partialBatches)

	return &Metrics{
		Queries:         queries,
		QueryDuration:   queryDuration,
		RowGroupsRead:   rowGroupsRead,
		RowGroupsPruned: rowGroupsPruned,
		RowsScanned:     rowsScanned,
		BatchesScanned:  batchesScanned,
		PartialBatches:  partialBatches,
	}
}
