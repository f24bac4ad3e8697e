package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultPoolWidth is the concurrency used when PoolConfig.Width is not set.
const DefaultPoolWidth = 5

// Task is one unit of work submitted to the pool: an operation on a target item.
type Task struct {
	// Type is the resource type the task belongs to.
	Type string

	// Operation is the kind of remote call the task performs.
	Operation OperationType

	// Name is the human-readable identity of the target item.
	Name string

	// Item is the target item.
	Item Item

	// Run performs the work. It is invoked exactly once.
	Run func(ctx context.Context) error
}

// PoolConfig configures an execution pool.
type PoolConfig struct {
	// Width is the maximum number of tasks in flight across all concurrent callers.
	Width int

	// RequestsPerSecond spaces task starts when positive. Zero disables rate limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Defaults to Width.
	Burst int
}

// Pool runs independent tasks with bounded concurrency and per-task failure
// isolation. A single pool is shared by every handler of a run, so its width
// is the global budget for in-flight remote calls.
type Pool struct {
	width   int
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewPool creates a new execution pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Width <= 0 {
		cfg.Width = DefaultPoolWidth
	}

	p := &Pool{
		width: cfg.Width,
		sem:   semaphore.NewWeighted(int64(cfg.Width)),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Width
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return p
}

// Width returns the pool's concurrency bound.
func (p *Pool) Width() int {
	return p.width
}

// RunEach runs every task and returns once all of them have settled. A failing
// task never prevents the others from being attempted. Failures are returned
// together as one aggregate error, in submission order.
func (p *Pool) RunEach(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	workerCount := p.width
	if len(tasks) < workerCount {
		workerCount = len(tasks)
	}

	type indexed struct {
		index int
		task  Task
	}

	workQueue := make(chan indexed, len(tasks))
	for i, task := range tasks {
		workQueue <- indexed{index: i, task: task}
	}
	close(workQueue)

	failures := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for w := range workQueue {
				failures[w.index] = p.run(ctx, w.task)
			}
		}()
	}

	wg.Wait()

	var result *multierror.Error
	for _, err := range failures {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		result.ErrorFormat = formatFailures
	}

	return result.ErrorOrNil()
}

// RunOne runs a single task under the same concurrency and rate coordination.
func (p *Pool) RunOne(ctx context.Context, task Task) error {
	return p.run(ctx, task)
}

// run acquires a slot, waits for the limiter and invokes the task. The returned
// error always identifies the task.
func (p *Pool) run(ctx context.Context, task Task) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return p.wrap(task, err)
	}
	defer p.sem.Release(1)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.wrap(task, err)
		}
	}

	if task.Run == nil {
		return p.wrap(task, fmt.Errorf("task has no work"))
	}

	if err := task.Run(ctx); err != nil {
		return p.wrap(task, err)
	}
	return nil
}

// wrap attaches the task identity to a failure unless it already carries one.
func (p *Pool) wrap(task Task, err error) error {
	if roe, ok := err.(*RemoteOperationError); ok {
		return roe
	}
	return &RemoteOperationError{
		Type:      task.Type,
		Operation: task.Operation,
		Item:      task.Name,
		Err:       err,
	}
}

// formatFailures renders aggregated task failures one per line.
func formatFailures(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}

	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, "  * "+err.Error())
	}
	return fmt.Sprintf("%d tasks failed:\n%s", len(errs), strings.Join(lines, "\n"))
}
