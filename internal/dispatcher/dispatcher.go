// Package dispatcher fans work items out to a fixed pool of workers.
package dispatcher

import (
	"context"
	"sync"
)

// Dispatcher runs a handler over items with at most Workers handlers in
// flight. A slow item holds one worker and never delays the others.
type Dispatcher[T any] struct {
	workers int
}

// New creates a Dispatcher with the given pool size. Sizes below one are
// treated as one.
func New[T any](workers int) *Dispatcher[T] {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher[T]{workers: workers}
}

// Run blocks until every dispatched item has been handled. Once ctx is done
// no further items are handed out; the number of items dispatched is
// returned.
func (d *Dispatcher[T]) Run(ctx context.Context, items []T, handle func(context.Context, T)) int {
	if len(items) == 0 {
		return 0
	}
	n := min(d.workers, len(items))

	jobs := make(chan T)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				handle(ctx, item)
			}
		}()
	}

	sent := 0
loop:
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case jobs <- item:
			sent++
		}
	}
	close(jobs)
	wg.Wait()
	return sent
}
