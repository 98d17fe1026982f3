package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"
)

// minDefaultPoolSize keeps the shared pool large enough for several
// concurrent plans on small machines
const minDefaultPoolSize = 64

// Pool runs plan tasks on a bounded set of goroutines.
//
// A plan reserves one slot per task before any of its tasks is submitted,
// so plans sharing a pool either start completely or wait.
type Pool struct {
	workers *ants.Pool
	slots   *semaphore.Weighted
	size    int
	logger  log.Logger
}

// NewPool creates a pool of size workers.
func NewPool(size int, logger log.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	workers, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		level.Error(logger).Log("msg", "worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Pool{
		workers: workers,
		slots:   semaphore.NewWeighted(int64(size)),
		size:    size,
		logger:  logger,
	}, nil
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process-wide pool, creating it on first use.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		size := 4 * runtime.GOMAXPROCS(0)
		if size < minDefaultPoolSize {
			size = minDefaultPoolSize
		}
		p, err := NewPool(size, nil)
		if err != nil {
			panic(err)
		}
		defaultPool = p
	})
	return defaultPool
}

// Size is the maximum number of concurrently running tasks.
func (p *Pool) Size() int { return p.size }

// Running is the number of tasks currently executing.
func (p *Pool) Running() int { return p.workers.Running() }

// Release stops the workers. Pending plans must have finished.
func (p *Pool) Release() {
	p.workers.Release()
}

// reserve blocks until n slots are free and takes them all at once.
func (p *Pool) reserve(ctx context.Context, n int) error {
	if n > p.size {
		return fmt.Errorf("%w: plan needs %d workers, pool has %d", ErrInvalidPlan, n, p.size)
	}
	return p.slots.Acquire(ctx, int64(n))
}

func (p *Pool) release(n int) {
	p.slots.Release(int64(n))
}

func (p *Pool) submit(task func()) error {
	return p.workers.Submit(task)
}
