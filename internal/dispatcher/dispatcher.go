// Package dispatcher runs independent work items on a fixed worker pool.
package dispatcher

import (
	"context"
	"sync"
)

// Processor handles a single work item
type Processor[T any] interface {
	Process(ctx context.Context, item T) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc[T any] func(ctx context.Context, item T) error

// Process calls f(ctx, item)
func (f ProcessorFunc[T]) Process(ctx context.Context, item T) error {
	return f(ctx, item)
}

// Config holds configuration for the dispatcher
type Config[T any] struct {
	Items     []T
	PoolSize  int
	Processor Processor[T]
}

// workItem carries one item and its position in the input
type workItem[T any] struct {
	idx  int
	item T
}

// completion signals that a work item finished processing
type completion struct {
	idx int
	err error
}

// Execute processes every item with at most PoolSize running at once.
// Returns one error per item, in input order. Items never started because
// ctx was cancelled carry ctx.Err().
func Execute[T any](ctx context.Context, cfg Config[T]) []error {
	errs := make([]error, len(cfg.Items))
	if len(cfg.Items) == 0 {
		return errs
	}

	poolSize := cfg.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	if poolSize > len(cfg.Items) {
		poolSize = len(cfg.Items)
	}

	workQueue := make(chan workItem[T], len(cfg.Items))
	completions := make(chan completion, len(cfg.Items))
	for i, item := range cfg.Items {
		workQueue <- workItem[T]{idx: i, item: item}
	}
	close(workQueue)

	var wg sync.WaitGroup
	startWorkers(ctx, poolSize, workQueue, completions, cfg.Processor, &wg)

	// Workers exit when workQueue is drained or ctx is done
	wg.Wait()
	close(completions)

	done := make([]bool, len(cfg.Items))
	for c := range completions {
		errs[c.idx] = c.err
		done[c.idx] = true
	}
	for i := range errs {
		if !done[i] {
			errs[i] = ctx.Err()
		}
	}
	return errs
}

// startWorkers spawns a fixed pool of workers that pull from the work queue
func startWorkers[T any](ctx context.Context, poolSize int, workQueue <-chan workItem[T],
	completions chan<- completion, processor Processor[T], wg *sync.WaitGroup) {
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case item, ok := <-workQueue:
					if !ok {
						return // Queue drained, shut down
					}
					completions <- completion{idx: item.idx, err: processor.Process(ctx, item.item)}
				}
			}
		}()
	}
}
