package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of work in a fan-out batch, identified by a caller key.
type Task struct {
	Key     string
	Payload interface{}
}

// Result pairs a task key with its outcome. Err is nil on success.
type Result struct {
	Key   string
	Value interface{}
	Err   error
}

// Worker processes a single task. Implementations must be safe for
// concurrent use.
type Worker func(context.Context, Task) (interface{}, error)

// PoolConfig configures fan-out behaviour.
type PoolConfig struct {
	Concurrency int
	Logger      *zap.Logger
}

// Pool runs batches of independent tasks with bounded concurrency and
// always collects one result per task. A failing task never aborts the
// batch; cancellation stops dispatching further tasks, but tasks already
// dispatched run to completion.
type Pool struct {
	concurrency int
	logger      *zap.Logger
}

// NewPool builds a pool with the provided configuration.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{concurrency: cfg.Concurrency, logger: cfg.Logger}
}

// Run executes all tasks and returns results in input order. Tasks not
// dispatched before ctx is cancelled are reported with ctx.Err().
func (p *Pool) Run(ctx context.Context, worker Worker, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	type indexed struct {
		idx  int
		task Task
	}

	feed := make(chan indexed)
	var wg sync.WaitGroup

	workers := p.concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range feed {
				value, err := worker(ctx, item.task)
				results[item.idx] = Result{Key: item.task.Key, Value: value, Err: err}
				if err != nil {
					p.logger.Debug("task failed", zap.String("key", item.task.Key), zap.Error(err))
				}
			}
		}()
	}

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Key: task.Key, Err: err}
			continue
		}
		select {
		case <-ctx.Done():
			results[i] = Result{Key: task.Key, Err: ctx.Err()}
		case feed <- indexed{idx: i, task: task}:
		}
	}
	close(feed)
	wg.Wait()

	return results
}
