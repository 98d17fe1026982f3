package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
)

func (p *Plan) runSource(ctx context.Context, out chan<- arrow.Record) (err error) {
	stream := p.source.Stream
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close stream: %w", cerr)
		}
	}()

	for batches := 0; ; batches++ {
		if p.stopped() {
			return errStopped
		}
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			level.Debug(p.logger).Log("msg", "source exhausted", "batches", batches)
			return nil
		}
		if err != nil {
			return err
		}
		if !rec.Schema().Equal(p.source.Schema) {
			rec.Release()
			return fmt.Errorf("batch schema %s does not match declared schema %s", rec.Schema(), p.source.Schema)
		}
		if err := p.emit(out, rec); err != nil {
			return err
		}
	}
}

// runAggregate is one worker of the aggregate stage. Workers share the
// input channel and keep private group tables.
func (p *Plan) runAggregate(in <-chan arrow.Record, out chan<- arrow.Record) error {
	opts := p.aggregate
	defer drain(in)

	groups := make(groupTable)
	flush := func() error {
		if len(groups) == 0 {
			return nil
		}
		rec, err := groups.build(opts.Allocator, p.outSchema)
		if err != nil {
			return err
		}
		groups = make(groupTable)
		return p.emit(out, rec)
	}

	batches := 0
	for rec := range in {
		if p.stopped() {
			rec.Release()
			return errStopped
		}
		err := groups.accumulate(rec, p.keyIdx, p.measIdx)
		rec.Release()
		if err != nil {
			return err
		}
		batches++
		if opts.FlushEvery > 0 && batches%opts.FlushEvery == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (p *Plan) runSink(in <-chan arrow.Record) (err error) {
	c := p.sink.Collector
	defer func() {
		// Upstream channels are closed only after every upstream task has
		// returned, so the plan outcome is known here
		if err == nil {
			err = p.err()
		}
		c.finish(err)
	}()

	for rec := range in {
		if p.stopped() {
			rec.Release()
			continue
		}
		c.add(rec)
	}
	return nil
}

// Collector gathers the batches reaching a sink in arrival order.
type Collector struct {
	mu        sync.Mutex
	batches   []arrow.Record
	collected *Future
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{collected: NewFuture()}
}

// Collected completes once the sink has drained its input. On failure the
// gathered batches are released and the future carries the error.
func (c *Collector) Collected() *Future { return c.collected }

// Batches hands the gathered batches to the caller, who must release them.
// It returns nil until Collected has completed successfully.
func (c *Collector) Batches() []arrow.Record {
	if c.collected.Err() != nil {
		return nil
	}
	select {
	case <-c.collected.Done():
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.batches
	c.batches = nil
	return out
}

// Release drops batches not handed out by Batches.
func (c *Collector) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.batches {
		rec.Release()
	}
	c.batches = nil
}

func (c *Collector) add(rec arrow.Record) {
	c.mu.Lock()
	c.batches = append(c.batches, rec)
	c.mu.Unlock()
}

func (c *Collector) finish(err error) {
	if err != nil {
		c.Release()
	}
	c.collected.MarkFinished(err)
}
