package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunCollectsResultsInInputOrder(t *testing.T) {
	pool := NewPool(PoolConfig{Concurrency: 4})

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = Task{Key: fmt.Sprintf("task-%d", i)}
	}

	results := pool.Run(context.Background(), func(ctx context.Context, task Task) (interface{}, error) {
		return task.Key, nil
	}, tasks)

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.Key)
		assert.Equal(t, r.Key, r.Value)
		assert.NoError(t, r.Err)
	}
}

func TestPoolRunFailureDoesNotAbortBatch(t *testing.T) {
	pool := NewPool(PoolConfig{Concurrency: 2})
	boom := errors.New("boom")

	tasks := []Task{{Key: "a"}, {Key: "b"}, {Key: "c"}}
	results := pool.Run(context.Background(), func(ctx context.Context, task Task) (interface{}, error) {
		if task.Key == "b" {
			return nil, boom
		}
		return task.Key, nil
	}, tasks)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)
}

func TestPoolRunBoundsConcurrency(t *testing.T) {
	pool := NewPool(PoolConfig{Concurrency: 2})

	var current, peak int64
	var mu sync.Mutex

	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = Task{Key: fmt.Sprintf("task-%d", i)}
	}

	results := pool.Run(context.Background(), func(ctx context.Context, task Task) (interface{}, error) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		atomic.AddInt64(&current, -1)
		return nil, nil
	}, tasks)

	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak, int64(2))
}

func TestPoolRunCancelledContext(t *testing.T) {
	pool := NewPool(PoolConfig{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{{Key: "a"}, {Key: "b"}}
	results := pool.Run(ctx, func(ctx context.Context, task Task) (interface{}, error) {
		return task.Key, nil
	}, tasks)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestPoolRunEmptyTasks(t *testing.T) {
	pool := NewPool(PoolConfig{})
	results := pool.Run(context.Background(), func(ctx context.Context, task Task) (interface{}, error) {
		t.Fatal("worker must not run")
		return nil, nil
	}, nil)
	assert.Empty(t, results)
}
