package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vegasq/tripmean/expr"
)

// DefaultQueueSize is the capacity of the channel between two stages.
const DefaultQueueSize = 4

var (
	// ErrExecutionFailure is returned when a stage of a running plan fails.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrInvalidPlan is returned when a plan does not pass validation.
	ErrInvalidPlan = fmt.Errorf("%w: invalid plan", ErrExecutionFailure)

	// errStopped is returned internally by emit once the plan is aborting
	errStopped = errors.New("plan stopped")
)

// StageKind identifies the role of a stage in a plan.
type StageKind int

const (
	// StageSource emits batches from a RecordStream.
	StageSource StageKind = iota
	// StageAggregate folds batches into per-key partial aggregates.
	StageAggregate
	// StageSink hands batches to a Collector.
	StageSink
)

func (k StageKind) String() string {
	switch k {
	case StageSource:
		return "source"
	case StageAggregate:
		return "aggregate"
	case StageSink:
		return "sink"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Declaration describes one stage of a plan. Options holds the
// SourceOptions, AggregateOptions or SinkOptions matching Kind.
type Declaration struct {
	Kind    StageKind
	Options interface{}
}

// RecordStream is a pull-based producer of record batches. Next returns
// io.EOF after the last batch.
type RecordStream interface {
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// SourceOptions configures a source stage.
type SourceOptions struct {
	// Schema every batch of Stream carries.
	Schema *arrow.Schema
	Stream RecordStream
}

// AggregateOptions configures a hash aggregate computing the sum and count
// of Measure per distinct value of Key.
type AggregateOptions struct {
	Key     string
	Measure string

	// Parallelism is the number of workers sharing the input. Defaults to 1.
	Parallelism int

	// FlushEvery makes each worker emit its groups after this many input
	// batches. Zero emits only at end of input.
	FlushEvery int

	Allocator memory.Allocator
}

// SinkOptions configures a sink stage.
type SinkOptions struct {
	Collector *Collector

	// Schema, when set, must equal the output schema of the preceding stage.
	Schema *arrow.Schema
}

// Source declares a source stage.
func Source(opts SourceOptions) Declaration {
	return Declaration{Kind: StageSource, Options: opts}
}

// Aggregate declares an aggregate stage.
func Aggregate(opts AggregateOptions) Declaration {
	return Declaration{Kind: StageAggregate, Options: opts}
}

// Sink declares a sink stage.
func Sink(opts SinkOptions) Declaration {
	return Declaration{Kind: StageSink, Options: opts}
}

// PlanOption configures a Plan.
type PlanOption func(*Plan)

// WithQueueSize sets the capacity of inter-stage channels.
func WithQueueSize(n int) PlanOption {
	return func(p *Plan) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithLogger sets the plan logger.
func WithLogger(logger log.Logger) PlanOption {
	return func(p *Plan) { p.logger = logger }
}

// Plan is a linear source → [aggregate] → sink execution graph.
type Plan struct {
	pool      *Pool
	queueSize int
	logger    log.Logger
	decls     []Declaration

	validated bool
	source    SourceOptions
	aggregate *AggregateOptions
	sink      SinkOptions
	keyIdx    int
	measIdx   int
	outSchema *arrow.Schema

	started  atomic.Bool
	finished *Future
	stop     chan struct{}
	failOnce sync.Once
	failure  error
}

// NewPlan returns an empty plan whose tasks run on pool.
func NewPlan(pool *Pool, opts ...PlanOption) *Plan {
	p := &Plan{
		pool:      pool,
		queueSize: DefaultQueueSize,
		logger:    log.NewNopLogger(),
		finished:  NewFuture(),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sequence returns a plan running decls in data flow order on pool.
func Sequence(pool *Pool, decls []Declaration, opts ...PlanOption) *Plan {
	p := NewPlan(pool, opts...)
	p.AddSequence(decls...)
	return p
}

// AddSequence appends stages in data flow order.
func (p *Plan) AddSequence(decls ...Declaration) {
	p.decls = append(p.decls, decls...)
	p.validated = false
}

// tasks is the number of pool slots the plan occupies
func (p *Plan) tasks() int {
	n := 2
	if p.aggregate != nil {
		n += p.aggregate.Parallelism
	}
	return n
}

// Validate checks the plan shape, the options of every stage and the
// schemas flowing between them.
func (p *Plan) Validate() error {
	if p.pool == nil {
		return fmt.Errorf("%w: no worker pool", ErrInvalidPlan)
	}
	if len(p.decls) < 2 {
		return fmt.Errorf("%w: need at least a source and a sink, got %d stages", ErrInvalidPlan, len(p.decls))
	}
	if k := p.decls[0].Kind; k != StageSource {
		return fmt.Errorf("%w: first stage is %s, want source", ErrInvalidPlan, k)
	}
	if k := p.decls[len(p.decls)-1].Kind; k != StageSink {
		return fmt.Errorf("%w: last stage is %s, want sink", ErrInvalidPlan, k)
	}

	p.aggregate = nil
	var schema *arrow.Schema
	for i, d := range p.decls {
		switch d.Kind {
		case StageSource:
			if i != 0 {
				return fmt.Errorf("%w: source at position %d", ErrInvalidPlan, i)
			}
			opts, ok := d.Options.(SourceOptions)
			if !ok {
				return fmt.Errorf("%w: source options are %T", ErrInvalidPlan, d.Options)
			}
			if opts.Schema == nil || opts.Stream == nil {
				return fmt.Errorf("%w: source needs a schema and a stream", ErrInvalidPlan)
			}
			p.source = opts
			schema = opts.Schema

		case StageAggregate:
			if p.aggregate != nil {
				return fmt.Errorf("%w: more than one aggregate stage", ErrInvalidPlan)
			}
			opts, ok := d.Options.(AggregateOptions)
			if !ok {
				return fmt.Errorf("%w: aggregate options are %T", ErrInvalidPlan, d.Options)
			}
			keyIdx, err := numericField(schema, opts.Key)
			if err != nil {
				return fmt.Errorf("%w: group key: %v", ErrInvalidPlan, err)
			}
			measIdx, err := numericField(schema, opts.Measure)
			if err != nil {
				return fmt.Errorf("%w: measure: %v", ErrInvalidPlan, err)
			}
			if opts.Parallelism <= 0 {
				opts.Parallelism = 1
			}
			if opts.FlushEvery < 0 {
				return fmt.Errorf("%w: negative flush interval %d", ErrInvalidPlan, opts.FlushEvery)
			}
			if opts.Allocator == nil {
				opts.Allocator = memory.DefaultAllocator
			}
			p.aggregate = &opts
			p.keyIdx, p.measIdx = keyIdx, measIdx
			schema = AggregateSchema(schema.Field(keyIdx).Type)

		case StageSink:
			if i != len(p.decls)-1 {
				return fmt.Errorf("%w: sink at position %d", ErrInvalidPlan, i)
			}
			opts, ok := d.Options.(SinkOptions)
			if !ok {
				return fmt.Errorf("%w: sink options are %T", ErrInvalidPlan, d.Options)
			}
			if opts.Collector == nil {
				return fmt.Errorf("%w: sink needs a collector", ErrInvalidPlan)
			}
			if opts.Schema != nil && !opts.Schema.Equal(schema) {
				return fmt.Errorf("%w: sink expects %s, input is %s", ErrInvalidPlan, opts.Schema, schema)
			}
			p.sink = opts

		default:
			return fmt.Errorf("%w: unknown stage kind %s", ErrInvalidPlan, d.Kind)
		}
	}

	p.outSchema = schema
	if n := p.tasks(); n > p.pool.Size() {
		return fmt.Errorf("%w: plan needs %d workers, pool has %d", ErrInvalidPlan, n, p.pool.Size())
	}
	p.validated = true
	return nil
}

func numericField(schema *arrow.Schema, name string) (int, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return 0, fmt.Errorf("no column %q in %s", name, schema)
	}
	if dt := schema.Field(idx[0]).Type; !expr.IsNumeric(dt) {
		return 0, fmt.Errorf("column %q is %s, want numeric", name, dt)
	}
	return idx[0], nil
}

// OutputSchema is the schema of the batches reaching the sink. Valid after
// Validate.
func (p *Plan) OutputSchema() *arrow.Schema { return p.outSchema }

// Finished completes when every task of the plan has returned. Its error
// wraps ErrExecutionFailure.
func (p *Plan) Finished() *Future { return p.finished }

// StartProducing reserves pool slots for every task and starts them. It
// blocks only while waiting for slots; ctx bounds that wait. Once started
// the plan runs to completion regardless of ctx.
func (p *Plan) StartProducing(ctx context.Context) error {
	if !p.validated {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: plan already started", ErrInvalidPlan)
	}

	n := p.tasks()
	if err := p.pool.reserve(ctx, n); err != nil {
		return err
	}
	level.Debug(p.logger).Log("msg", "starting plan", "stages", len(p.decls), "tasks", n)
	runCtx := context.WithoutCancel(ctx)

	var all sync.WaitGroup
	all.Add(n)
	go func() {
		all.Wait()
		if err := p.err(); err != nil {
			p.finished.MarkFinished(err)
			return
		}
		p.finished.MarkFinished(nil)
	}()

	sourceOut := make(chan arrow.Record, p.queueSize)
	sinkIn := sourceOut

	var tasks []stageTask
	tasks = append(tasks, stageTask{
		kind: StageSource,
		run:  func() error { return p.runSource(runCtx, sourceOut) },
		done: newStageDone(1, func() { close(sourceOut) }),
	})
	if p.aggregate != nil {
		aggOut := make(chan arrow.Record, p.queueSize)
		sinkIn = aggOut
		done := newStageDone(p.aggregate.Parallelism, func() { close(aggOut) })
		for i := 0; i < p.aggregate.Parallelism; i++ {
			tasks = append(tasks, stageTask{
				kind: StageAggregate,
				run:  func() error { return p.runAggregate(sourceOut, aggOut) },
				done: done,
			})
		}
	}
	tasks = append(tasks, stageTask{
		kind: StageSink,
		run:  func() error { return p.runSink(sinkIn) },
		done: newStageDone(1, func() {}),
	})

	for _, t := range tasks {
		wrapped := p.wrap(t, &all)
		if err := p.pool.submit(wrapped); err != nil {
			p.fail(t.kind, fmt.Errorf("submit: %w", err))
			go wrapped()
		}
	}
	return nil
}

type stageTask struct {
	kind StageKind
	run  func() error
	done *stageDone
}

// stageDone runs onDone after the last of n tasks of a stage returns
type stageDone struct {
	remaining atomic.Int32
	onDone    func()
}

func newStageDone(n int, onDone func()) *stageDone {
	d := &stageDone{onDone: onDone}
	d.remaining.Store(int32(n))
	return d
}

func (d *stageDone) taskDone() {
	if d.remaining.Add(-1) == 0 {
		d.onDone()
	}
}

// wrap turns a stage task into a pool job that records failures, closes the
// stage output after its last task and frees the slot.
func (p *Plan) wrap(t stageTask, all *sync.WaitGroup) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer all.Done()
			defer p.pool.release(1)
			defer t.done.taskDone()
			defer func() {
				if r := recover(); r != nil {
					p.fail(t.kind, fmt.Errorf("panic: %v", r))
				}
			}()
			if err := t.run(); err != nil && !errors.Is(err, errStopped) {
				p.fail(t.kind, err)
			}
		})
	}
}

// fail records the first failure and tells every stage to stop
func (p *Plan) fail(kind StageKind, err error) {
	p.failOnce.Do(func() {
		p.failure = fmt.Errorf("%w: %s stage: %w", ErrExecutionFailure, kind, err)
		level.Error(p.logger).Log("msg", "plan failed", "stage", kind, "err", err)
		close(p.stop)
	})
}

func (p *Plan) err() error {
	if p.stopped() {
		return p.failure
	}
	return nil
}

func (p *Plan) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// emit pushes rec downstream unless the plan is aborting, in which case rec
// is released.
func (p *Plan) emit(out chan<- arrow.Record, rec arrow.Record) error {
	select {
	case out <- rec:
		return nil
	case <-p.stop:
		rec.Release()
		return errStopped
	}
}

// drain releases whatever is still queued on in
func drain(in <-chan arrow.Record) {
	for rec := range in {
		rec.Release()
	}
}
