package exec

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

var inputSchema = arrow.NewSchema([]arrow.Field{
	{Name: "passenger_count", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "trip_distance", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "vendor", Type: arrow.BinaryTypes.String},
}, nil)

// sliceStream replays records, then fails with err or returns io.EOF
type sliceStream struct {
	records []arrow.Record
	err     error
	block   chan struct{}
	closed  bool
}

func (s *sliceStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.block != nil {
		<-s.block
	}
	if len(s.records) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func (s *sliceStream) Close() error {
	for _, rec := range s.records {
		rec.Release()
	}
	s.records = nil
	s.closed = true
	return nil
}

// panicStream panics on first read
type panicStream struct{}

func (panicStream) Next(context.Context) (arrow.Record, error) { panic("boom") }
func (panicStream) Close() error                              { return nil }

func makeBatch(mem memory.Allocator, keys []float64, keyValid []bool, values []float64) arrow.Record {
	b := array.NewRecordBuilder(mem, inputSchema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(keys, keyValid)
	b.Field(1).(*array.Float64Builder).AppendValues(values, nil)
	sb := b.Field(2).(*array.StringBuilder)
	for range keys {
		sb.Append("v")
	}
	return b.NewRecord()
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	pool, err := NewPool(size, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

// totals folds aggregate output batches per key
func totals(t *testing.T, recs []arrow.Record) map[float64]PartialAggregate {
	t.Helper()
	out := make(map[float64]PartialAggregate)
	for _, rec := range recs {
		require.True(t, rec.Schema().Equal(AggregateSchema(arrow.PrimitiveTypes.Float64)))
		keys := rec.Column(0).(*array.Float64)
		sums := rec.Column(1).(*array.Float64)
		counts := rec.Column(2).(*array.Uint64)
		for i := 0; i < int(rec.NumRows()); i++ {
			p := out[keys.Value(i)]
			p.Merge(PartialAggregate{Sum: sums.Value(i), Count: counts.Value(i)})
			out[keys.Value(i)] = p
		}
	}
	return out
}

// runPlan executes source → aggregate → sink; the caller releases the batches
func runPlan(t *testing.T, pool *Pool, stream RecordStream, agg AggregateOptions) ([]arrow.Record, error) {
	t.Helper()
	collector := NewCollector()
	plan := NewPlan(pool, WithQueueSize(1))
	plan.AddSequence(
		Source(SourceOptions{Schema: inputSchema, Stream: stream}),
		Aggregate(agg),
		Sink(SinkOptions{Collector: collector, Schema: AggregateSchema(arrow.PrimitiveTypes.Float64)}),
	)
	require.NoError(t, plan.Validate())
	require.NoError(t, plan.StartProducing(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := AllComplete(plan.Finished(), collector.Collected()).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return collector.Batches(), nil
}

func TestPlan_Aggregate(t *testing.T) {
	tests := []struct {
		name        string
		parallelism int
		flushEvery  int
	}{
		{"single worker", 1, 0},
		{"single worker flushing", 1, 1},
		{"parallel workers", 4, 0},
		{"parallel workers flushing", 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			stream := &sliceStream{records: []arrow.Record{
				makeBatch(mem, []float64{1, 1, 2}, nil, []float64{2.5, 5, 5}),
				makeBatch(mem, []float64{2, 0, 3}, []bool{true, false, true}, []float64{10, 100, 1}),
				makeBatch(mem, []float64{1, math.NaN()}, nil, []float64{0.5, 100}),
			}}

			batches, err := runPlan(t, newTestPool(t, 8), stream, AggregateOptions{
				Key:         "passenger_count",
				Measure:     "trip_distance",
				Parallelism: tt.parallelism,
				FlushEvery:  tt.flushEvery,
				Allocator:   mem,
			})
			require.NoError(t, err)
			require.True(t, stream.closed)

			got := totals(t, batches)
			require.Equal(t, map[float64]PartialAggregate{
				1: {Sum: 8, Count: 3},
				2: {Sum: 15, Count: 2},
				3: {Sum: 1, Count: 1},
			}, got)
			for _, rec := range batches {
				rec.Release()
			}
		})
	}
}

func TestPlan_EmptyInput(t *testing.T) {
	batches, err := runPlan(t, newTestPool(t, 4), &sliceStream{}, AggregateOptions{Key: "passenger_count", Measure: "trip_distance"})
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestPlan_SourceFailure(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	boom := errors.New("disk on fire")
	stream := &sliceStream{
		records: []arrow.Record{makeBatch(mem, []float64{1}, nil, []float64{1})},
		err:     boom,
	}

	collector := NewCollector()
	plan := NewPlan(newTestPool(t, 4))
	plan.AddSequence(
		Source(SourceOptions{Schema: inputSchema, Stream: stream}),
		Aggregate(AggregateOptions{Key: "passenger_count", Measure: "trip_distance", FlushEvery: 1, Allocator: mem}),
		Sink(SinkOptions{Collector: collector}),
	)
	require.NoError(t, plan.StartProducing(context.Background()))

	err := AllComplete(plan.Finished(), collector.Collected()).Wait(context.Background())
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, collector.Collected().Err(), ErrExecutionFailure)
	require.Nil(t, collector.Batches())
	require.True(t, stream.closed)
}

func TestPlan_Panic(t *testing.T) {
	collector := NewCollector()
	plan := NewPlan(newTestPool(t, 4))
	plan.AddSequence(
		Source(SourceOptions{Schema: inputSchema, Stream: panicStream{}}),
		Sink(SinkOptions{Collector: collector}),
	)
	require.NoError(t, plan.StartProducing(context.Background()))

	err := plan.Finished().Wait(context.Background())
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Contains(t, err.Error(), "boom")
	require.Error(t, collector.Collected().Wait(context.Background()))
}

func TestPlan_SchemaMismatchAtRuntime(t *testing.T) {
	other := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Float64}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, other)
	b.Field(0).(*array.Float64Builder).Append(1)
	rec := b.NewRecord()
	b.Release()

	collector := NewCollector()
	plan := NewPlan(newTestPool(t, 4))
	plan.AddSequence(
		Source(SourceOptions{Schema: inputSchema, Stream: &sliceStream{records: []arrow.Record{rec}}}),
		Sink(SinkOptions{Collector: collector}),
	)
	require.NoError(t, plan.StartProducing(context.Background()))
	require.ErrorIs(t, AllComplete(plan.Finished(), collector.Collected()).Wait(context.Background()), ErrExecutionFailure)
}

func TestPlan_Validate(t *testing.T) {
	source := Source(SourceOptions{Schema: inputSchema, Stream: &sliceStream{}})
	agg := func(key, measure string, parallelism int) Declaration {
		return Aggregate(AggregateOptions{Key: key, Measure: measure, Parallelism: parallelism})
	}
	sink := Sink(SinkOptions{Collector: NewCollector()})

	tests := []struct {
		name  string
		pool  int
		decls []Declaration
		ok    bool
	}{
		{"source aggregate sink", 4, []Declaration{source, agg("passenger_count", "trip_distance", 1), sink}, true},
		{"source sink", 4, []Declaration{source, sink}, true},
		{"no stages", 4, nil, false},
		{"sink first", 4, []Declaration{sink, source}, false},
		{"no sink", 4, []Declaration{source, agg("passenger_count", "trip_distance", 1)}, false},
		{"two sources", 4, []Declaration{source, source, sink}, false},
		{"two aggregates", 8, []Declaration{source, agg("passenger_count", "trip_distance", 1), agg(GroupKeyField, MeasureSumField, 1), sink}, false},
		{"unknown key", 4, []Declaration{source, agg("fare", "trip_distance", 1), sink}, false},
		{"string measure", 4, []Declaration{source, agg("passenger_count", "vendor", 1), sink}, false},
		{"pool too small", 4, []Declaration{source, agg("passenger_count", "trip_distance", 3), sink}, false},
		{"wrong options", 4, []Declaration{{Kind: StageSource, Options: "nope"}, sink}, false},
		{"nil collector", 4, []Declaration{source, Sink(SinkOptions{})}, false},
		{"sink schema", 4, []Declaration{source, Sink(SinkOptions{Collector: NewCollector(), Schema: AggregateSchema(arrow.PrimitiveTypes.Int64)})}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewPlan(newTestPool(t, tt.pool))
			plan.AddSequence(tt.decls...)
			err := plan.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidPlan)
			require.ErrorIs(t, err, ErrExecutionFailure)
		})
	}
}

func TestPlan_StartTwice(t *testing.T) {
	collector := NewCollector()
	plan := Sequence(newTestPool(t, 2), []Declaration{
		Source(SourceOptions{Schema: inputSchema, Stream: &sliceStream{}}),
		Sink(SinkOptions{Collector: collector}),
	})
	require.NoError(t, plan.StartProducing(context.Background()))
	require.ErrorIs(t, plan.StartProducing(context.Background()), ErrInvalidPlan)
	require.NoError(t, plan.Finished().Wait(context.Background()))
	require.NoError(t, collector.Collected().Wait(context.Background()))
}

func TestPool_AdmitsWholePlans(t *testing.T) {
	pool := newTestPool(t, 3)

	newPlan := func(stream RecordStream) (*Plan, *Collector) {
		c := NewCollector()
		p := NewPlan(pool)
		p.AddSequence(
			Source(SourceOptions{Schema: inputSchema, Stream: stream}),
			Aggregate(AggregateOptions{Key: "passenger_count", Measure: "trip_distance"}),
			Sink(SinkOptions{Collector: c}),
		)
		return p, c
	}

	gate := make(chan struct{})
	first, firstCollector := newPlan(&sliceStream{block: gate})
	require.NoError(t, first.StartProducing(context.Background()))

	second, secondCollector := newPlan(&sliceStream{})
	started := make(chan error, 1)
	go func() { started <- second.StartProducing(context.Background()) }()

	select {
	case err := <-started:
		t.Fatalf("second plan started while the pool was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, AllComplete(first.Finished(), firstCollector.Collected()).Wait(context.Background()))
	require.NoError(t, <-started)
	require.NoError(t, AllComplete(second.Finished(), secondCollector.Collected()).Wait(context.Background()))

	// Admission honours the caller's context
	gate2 := make(chan struct{})
	third, thirdCollector := newPlan(&sliceStream{block: gate2})
	require.NoError(t, third.StartProducing(context.Background()))
	fourth, _ := newPlan(&sliceStream{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fourth.StartProducing(ctx), context.DeadlineExceeded)
	close(gate2)
	require.NoError(t, AllComplete(third.Finished(), thirdCollector.Collected()).Wait(context.Background()))
}

func TestFuture(t *testing.T) {
	f := NewFuture()
	require.NoError(t, f.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)

	boom := errors.New("boom")
	f.MarkFinished(boom)
	f.MarkFinished(nil)
	require.ErrorIs(t, f.Err(), boom)
	require.ErrorIs(t, f.Wait(context.Background()), boom)

	ok := NewFuture()
	all := AllComplete(ok, f)
	ok.MarkFinished(nil)
	require.ErrorIs(t, all.Wait(context.Background()), boom)

	require.NoError(t, AllComplete().Wait(context.Background()))
}

func TestPartialAggregate(t *testing.T) {
	var p PartialAggregate
	require.True(t, math.IsNaN(p.Mean()))
	p.Add(2.5)
	p.Add(5)
	p.Merge(PartialAggregate{Sum: 0.5, Count: 1})
	require.Equal(t, PartialAggregate{Sum: 8, Count: 3}, p)
	require.InDelta(t, 8.0/3.0, p.Mean(), 1e-12)
}

func TestStageKind_String(t *testing.T) {
	require.Equal(t, "source", StageSource.String())
	require.Equal(t, "aggregate", StageAggregate.String())
	require.Equal(t, "sink", StageSink.String())
	require.Equal(t, "stage(9)", StageKind(9).String())
}

func TestAggregate_IntegerKeys(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "k", Type: arrow.PrimitiveTypes.Int64},
		{Name: "v", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{3, 1, 3}, nil)
	b.Field(1).(*array.Int32Builder).AppendValues([]int32{1, 2, 3}, nil)
	rec := b.NewRecord()
	b.Release()
	defer rec.Release()

	groups := make(groupTable)
	require.NoError(t, groups.accumulate(rec, 0, 1))
	out, err := groups.build(memory.DefaultAllocator, AggregateSchema(arrow.PrimitiveTypes.Int64))
	require.NoError(t, err)
	defer out.Release()

	require.Equal(t, []int64{1, 3}, out.Column(0).(*array.Int64).Int64Values())
	require.Equal(t, []float64{2, 4}, out.Column(1).(*array.Float64).Float64Values())
	require.Equal(t, []uint64{1, 2}, out.Column(2).(*array.Uint64).Uint64Values())
}
