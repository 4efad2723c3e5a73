// Package workpool runs batches of short independent tasks on a bounded
// number of goroutines. Every call blocks until the whole batch is done, so
// two batches never interleave.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// ErrPanic is wrapped by the error returned for a task that panicked.
var ErrPanic = errors.New("task panicked")

// Pool bounds how many tasks of a batch run at once.
type Pool struct {
	size int
}

// New returns a pool running at most size tasks at a time. A size below 1
// selects twice the number of CPUs.
func New(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU() * 2
	}
	return &Pool{size: size}
}

// Size is the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Run calls fn for every index in [0, n) and waits for all of them. The first
// error cancels the context handed to the remaining tasks and is returned.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return call(gctx, i, fn)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map is Run with one result slot per task. Results come back in index order
// regardless of completion order.
func Map[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := p.Run(ctx, n, func(ctx context.Context, i int) error {
		v, err := fn(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func call(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: task %d: %v\n%s", ErrPanic, i, r, debug.Stack())
		}
	}()
	return fn(ctx, i)
}
