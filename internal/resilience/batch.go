package resilience

import (
	"context"
	"sync"
)

// DefaultBatchConcurrency is the default worker pool size for RunBatch.
const DefaultBatchConcurrency = 3

// BatchTask is one unit of work keyed by an integer index (a page number,
// in the extraction pipeline).
type BatchTask[T any] struct {
	// Key identifies where the result lands in the output map
	Key int

	// Run performs the work
	Run func(context.Context) (T, error)
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	// Concurrency is the worker pool size (default 3)
	Concurrency int

	// ContinueOnError keeps the batch going after individual failures,
	// recording a nil result for the failed key
	ContinueOnError bool

	// OnProgress fires after each task completes, successful or not
	OnProgress func(completed, total int)
}

// DefaultBatchOptions returns the standard batch configuration.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Concurrency:     DefaultBatchConcurrency,
		ContinueOnError: true,
	}
}

// RunBatch executes tasks with a fixed pool of min(Concurrency, len(tasks))
// workers pulling from a shared queue. Results are written into a map keyed
// by task key; a failed task maps to nil when ContinueOnError is set.
// Without ContinueOnError the first failure cancels the remaining work and
// is returned as the batch error (completed results are still in the map).
func RunBatch[T any](ctx context.Context, tasks []BatchTask[T], opts BatchOptions) (map[int]*T, error) {
	results := make(map[int]*T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBatchConcurrency
	}
	workers := min(opts.Concurrency, len(tasks))

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan BatchTask[T], len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var (
		mu        sync.Mutex
		completed int
		firstErr  error
		wg        sync.WaitGroup
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				if batchCtx.Err() != nil {
					return
				}

				data, err := task.Run(batchCtx)

				mu.Lock()
				if err != nil {
					results[task.Key] = nil
					if !opts.ContinueOnError && firstErr == nil {
						firstErr = err
						cancel()
					}
				} else {
					results[task.Key] = &data
				}
				completed++
				done := completed
				mu.Unlock()

				if opts.OnProgress != nil {
					opts.OnProgress(done, len(tasks))
				}
			}
		}()
	}

	wg.Wait()
	return results, firstErr
}
