package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/vegasq/tripmean/dataset"
	"github.com/vegasq/tripmean/exec"
	"github.com/vegasq/tripmean/expr"
)

// AverageDistances computes the mean trip distance per passenger count over
// a dataset. It is safe for concurrent use.
type AverageDistances struct {
	ds          dataset.Dataset
	columns     Columns
	logger      log.Logger
	metrics     *Metrics
	pool        *exec.Pool
	mem         memory.Allocator
	parallelism int
	flushEvery  int
	queueSize   int
	batchSize   int
	timeout     time.Duration
}

// Option configures AverageDistances.
type Option func(*AverageDistances)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(a *AverageDistances) { a.logger = logger }
}

// WithMetrics records query metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *AverageDistances) { a.metrics = m }
}

// WithPool runs plans on pool instead of exec.DefaultPool.
func WithPool(pool *exec.Pool) Option {
	return func(a *AverageDistances) { a.pool = pool }
}

// WithAllocator sets the allocator for aggregate output.
func WithAllocator(mem memory.Allocator) Option {
	return func(a *AverageDistances) { a.mem = mem }
}

// WithParallelism sets the number of aggregate workers.
func WithParallelism(n int) Option {
	return func(a *AverageDistances) { a.parallelism = n }
}

// WithFlushEvery makes aggregate workers emit partial results every n
// input batches.
func WithFlushEvery(n int) Option {
	return func(a *AverageDistances) { a.flushEvery = n }
}

// WithQueueSize sets the capacity of the channels between stages.
func WithQueueSize(n int) Option {
	return func(a *AverageDistances) { a.queueSize = n }
}

// WithBatchSize caps the rows per scanned batch.
func WithBatchSize(n int) Option {
	return func(a *AverageDistances) { a.batchSize = n }
}

// WithTimeout bounds the wait for results. Zero waits for as long as the
// caller context allows.
func WithTimeout(d time.Duration) Option {
	return func(a *AverageDistances) { a.timeout = d }
}

// WithColumns overrides the dataset column names.
func WithColumns(c Columns) Option {
	return func(a *AverageDistances) { a.columns = c }
}

// New returns an averages query over ds.
func New(ds dataset.Dataset, opts ...Option) *AverageDistances {
	a := &AverageDistances{
		ds:          ds,
		columns:     DefaultColumns,
		logger:      log.NewNopLogger(),
		mem:         memory.DefaultAllocator,
		parallelism: 1,
		queueSize:   exec.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pool == nil {
		a.pool = exec.DefaultPool()
	}
	return a
}

// GetAverageDistances returns the mean trip distance for each passenger
// count among trips that start at or after start and end at or before end.
// Either bound may be nil. An empty map means no trip matched.
func (a *AverageDistances) GetAverageDistances(ctx context.Context, start, end *time.Time) (ResultMap, error) {
	begin := time.Now()
	logger := log.With(a.logger, "query_id", uuid.New().String())
	level.Debug(logger).Log("msg", "starting query", "start", formatBound(start), "end", formatBound(end))

	result, status, err := a.run(ctx, logger, start, end)
	if a.metrics != nil {
		a.metrics.Queries.WithLabelValues(status).Inc()
		a.metrics.QueryDuration.Observe(time.Since(begin).Seconds())
	}
	if err != nil {
		level.Error(logger).Log("msg", "query failed", "status", status, "err", err)
		return nil, err
	}
	level.Info(logger).Log("msg", "query finished", "groups", len(result), "duration", time.Since(begin))
	return result, nil
}

func (a *AverageDistances) run(ctx context.Context, logger log.Logger, start, end *time.Time) (ResultMap, string, error) {
	if err := a.columns.Validate(); err != nil {
		return nil, StatusFailure, err
	}

	builder := a.ds.NewScan().Project(a.columns.Projection()...).BatchSize(a.batchSize)
	if start != nil || end != nil {
		filter, err := a.columns.TimeFilter(start, end)
		if err != nil {
			return nil, StatusFailure, err
		}
		builder = builder.Filter(filter)
	}
	scan, err := builder.Finish()
	if err != nil {
		return nil, StatusSchemaMismatch, err
	}
	for _, f := range scan.ProjectedSchema().Fields()[2:] {
		if !expr.IsNumeric(f.Type) {
			return nil, StatusSchemaMismatch, fmt.Errorf("%w: column %q is %s, want numeric", ErrSchemaMismatch, f.Name, f.Type)
		}
	}

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	stream, err := scan.Batches(context.WithoutCancel(ctx))
	if err != nil {
		return nil, StatusFailure, fmt.Errorf("%w: %w", ErrExecutionFailure, err)
	}

	groupType := scan.ProjectedSchema().Field(2).Type
	collector := exec.NewCollector()
	plan := exec.Sequence(a.pool, []exec.Declaration{
		exec.Source(exec.SourceOptions{Schema: scan.ProjectedSchema(), Stream: stream}),
		exec.Aggregate(exec.AggregateOptions{
			Key:         a.columns.Group,
			Measure:     a.columns.Measure,
			Parallelism: a.parallelism,
			FlushEvery:  a.flushEvery,
			Allocator:   a.mem,
		}),
		exec.Sink(exec.SinkOptions{Collector: collector, Schema: exec.AggregateSchema(groupType)}),
	}, exec.WithQueueSize(a.queueSize), exec.WithLogger(logger))

	level.Debug(logger).Log("msg", "validating execution plan", "columns", fmt.Sprint(scan.Columns()), "filter", filterString(scan))
	if err := plan.Validate(); err != nil {
		_ = stream.Close()
		return nil, StatusFailure, err
	}

	level.Debug(logger).Log("msg", "executing the plan")
	if err := plan.StartProducing(waitCtx); err != nil {
		_ = stream.Close()
		if isDeadline(err) {
			return nil, StatusTimeout, fmt.Errorf("%w: waiting for workers: %w", ErrTimeout, err)
		}
		return nil, StatusFailure, err
	}

	done := exec.AllComplete(plan.Finished(), collector.Collected())
	if err := done.Wait(waitCtx); err != nil {
		if isDeadline(err) || errors.Is(err, context.Canceled) {
			// The plan cannot be interrupted; drop its output once it ends
			go func() {
				<-done.Done()
				a.recordScan(scan, nil)
				release(collector.Batches())
			}()
			if isDeadline(err) {
				return nil, StatusTimeout, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			return nil, StatusFailure, err
		}
		a.recordScan(scan, nil)
		return nil, StatusFailure, err
	}

	batches := collector.Batches()
	defer release(batches)
	a.recordScan(scan, batches)

	if len(batches) == 0 {
		return ResultMap{}, StatusEmpty, nil
	}
	result, err := Merge(batches)
	if err != nil {
		return nil, StatusFailure, err
	}
	if len(result) == 0 {
		return result, StatusEmpty, nil
	}
	return result, StatusSuccess, nil
}

func (a *AverageDistances) recordScan(scan *dataset.Scan, batches []arrow.Record) {
	if a.metrics == nil {
		return
	}
	stats := scan.Stats()
	a.metrics.RowGroupsRead.Add(float64(stats.RowGroupsRead))
	a.metrics.RowGroupsPruned.Add(float64(stats.RowGroupsPruned))
	a.metrics.RowsScanned.Add(float64(stats.RowsScanned))
	a.metrics.BatchesScanned.Add(float64(stats.BatchesEmitted))
	a.metrics.PartialBatches.Add(float64(len(batches)))
}

func release(batches []arrow.Record) {
	for _, rec := range batches {
		rec.Release()
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func filterString(scan *dataset.Scan) string {
	if f := scan.Filter(); f != nil {
		return f.String()
	}
	return "none"
}
