package concurrent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type limitedRunner struct {
	sem *semaphore.Weighted
}

// NewGoroutineLimiter creates a GoroutineRunner that runs no more than limit goroutines at the same time. Go blocks
// until a slot frees up or ctx is done. A limit below 2 runs every function synchronously.
func NewGoroutineLimiter(limit int64) GoroutineRunner {
	if limit < 2 {
		return NewSynchronousGoroutineRunner()
	}
	return &limitedRunner{
		sem: semaphore.NewWeighted(limit),
	}
}

func (l *limitedRunner) Go(ctx context.Context, fn func()) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	go func() {
		defer l.sem.Release(1)
		fn()
	}()

	return nil
}
