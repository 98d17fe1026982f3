package exec

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is a one-shot completion signal carrying an error.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture returns an unfinished future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// MarkFinished completes the future. Only the first call has an effect.
func (f *Future) MarkFinished(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the completion error, or nil while the future is pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future completes or ctx is done. Giving up on the
// wait does not affect the work behind the future.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AllComplete returns a future that finishes when every future in fs has
// finished, with the first error among them.
func AllComplete(fs ...*Future) *Future {
	out := NewFuture()
	go func() {
		var g errgroup.Group
		for _, f := range fs {
			g.Go(func() error {
				<-f.Done()
				return f.err
			})
		}
		out.MarkFinished(g.Wait())
	}()
	return out
}
