// Package workerpool runs indexed tasks with bounded parallelism and returns
// their results in submission order.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default parallelism for shard reads.
const DefaultWorkers = 10

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	workers int
}

// New creates a pool with the given parallelism. Non-positive values fall back
// to the number of CPUs.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{workers: workers}
}

// Workers returns the configured parallelism.
func (p *Pool) Workers() int {
	return p.workers
}

// Map calls fn for every index in [0, n) with at most Workers calls in flight.
// The returned slice is positionally aligned with the indices: result[i] is
// always fn(ctx, i), no matter which call finished first.
//
// Tasks are not cancelled on ctx; fn is expected to observe it. Indices not yet
// started when ctx is done are skipped and keep the zero value of T.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, idx int) T) []T {
	results := make([]T, n)

	group := &errgroup.Group{}
	group.SetLimit(p.workers)

	for idx := range n {
		if ctx.Err() != nil {
			break
		}

		group.Go(func() error {
			results[idx] = fn(ctx, idx)

			return nil
		})
	}

	// Tasks never return errors; Wait only joins them.
	_ = group.Wait()

	return results
}
