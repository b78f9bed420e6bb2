package scan

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/semaphore"

	"cube-sql/internal/domain"
)

// DefaultFallbackWorkers is the pool size used when none is configured.
const DefaultFallbackWorkers = 4

// FallbackResult is the outcome of a fallback task.
type FallbackResult struct {
	Batch arrow.Record
	Err   error
}

// FallbackPool runs one-shot loads for downgraded streams on a bounded set
// of workers, so concurrent downgrades cannot pile up unbounded loads.
type FallbackPool struct {
	sem  *semaphore.Weighted
	size int
}

// NewFallbackPool creates a pool running at most size tasks at once.
func NewFallbackPool(size int) *FallbackPool {
	if size <= 0 {
		size = DefaultFallbackWorkers
	}
	return &FallbackPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the worker limit.
func (p *FallbackPool) Size() int { return p.size }

// Submit schedules task and returns a channel that receives exactly one
// result. A task that panics yields an error result instead of crashing the
// process. If ctx ends before a worker is free the result carries ctx's
// error.
func (p *FallbackPool) Submit(ctx context.Context, task func(context.Context) (arrow.Record, error)) <-chan FallbackResult {
	out := make(chan FallbackResult, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- FallbackResult{Err: fmt.Errorf("acquire fallback worker: %w", err)}
			return
		}
		defer p.sem.Release(1)
		out <- runFallback(ctx, task)
	}()
	return out
}

func runFallback(ctx context.Context, task func(context.Context) (arrow.Record, error)) (res FallbackResult) {
	defer func() {
		if r := recover(); r != nil {
			res = FallbackResult{Err: domain.ErrInternal("Can't load to stream: worker terminated abnormally: %v", r)}
		}
	}()
	batch, err := task(ctx)
	return FallbackResult{Batch: batch, Err: err}
}

// Wait blocks until the result of a submitted task arrives or ctx ends. When
// ctx ends first, a batch delivered later is released.
func (p *FallbackPool) Wait(ctx context.Context, results <-chan FallbackResult) (arrow.Record, error) {
	select {
	case res := <-results:
		return res.Batch, res.Err
	case <-ctx.Done():
		go func() {
			if res := <-results; res.Batch != nil {
				res.Batch.Release()
			}
		}()
		return nil, ctx.Err()
	}
}
