// Package concurrent runs independent work on bounded goroutines and collects the results in submission order.
package concurrent

import (
	"context"
	"fmt"
)

// GoroutineRunner starts fn. Go may block until the runner has room for fn, and fails if ctx is done first.
type GoroutineRunner interface {
	Go(ctx context.Context, fn func()) error
}

type synchronousRunner struct{}

// NewSynchronousGoroutineRunner runs every function on the calling goroutine, in submission order
func NewSynchronousGoroutineRunner() GoroutineRunner {
	return synchronousRunner{}
}

func (synchronousRunner) Go(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Future holds the outcome of a function started through a GoroutineRunner
type Future[T any] struct {
	done chan struct{}
	res  T
	err  error
}

// Submit starts fn through runner. It blocks as long as runner.Go does.
func Submit[T any](ctx context.Context, runner GoroutineRunner, fn func() (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	if err := runner.Go(ctx, func() {
		defer close(f.done)
		f.res, f.err = fn()
	}); err != nil {
		return nil, err
	}
	return f, nil
}

// Get waits for the function to return. It can be called any number of times, from any goroutine.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.res, f.err
	}
}

// Map calls fn on every input through runner and returns the outputs in input order. If calls fail, the error of the
// first failing input is returned.
func Map[S, T any](ctx context.Context, runner GoroutineRunner, inputs []S, fn func(S) (T, error)) ([]T, error) {
	futures := make([]*Future[T], 0, len(inputs))
	for i, in := range inputs {
		f, err := Submit(ctx, runner, func() (T, error) {
			return fn(in)
		})
		if err != nil {
			return nil, fmt.Errorf("submitting input %d: %w", i, err)
		}
		futures = append(futures, f)
	}

	outputs := make([]T, len(futures))
	for i, f := range futures {
		out, err := f.Get(ctx)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}
