package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrRefreshTimeout is returned to a caller that gave up waiting for an
	// in-flight refresh. The refresh itself continues for other waiters.
	ErrRefreshTimeout = errors.New("timed out waiting for refresh")

	// ErrRefreshPanicked wraps a panic raised by a refresh operation.
	ErrRefreshPanicked = errors.New("refresh operation panicked")
)

// Coordinator ensures that at most one operation runs for a given key at any
// instant. Callers arriving while an operation for their key is in flight
// share its outcome instead of starting another. The key is released as soon
// as the operation settles, so a later call runs afresh.
type Coordinator[T any] struct {
	group singleflight.Group
	wait  time.Duration

	started     atomic.Uint64
	piggybacked atomic.Uint64
	waiting     atomic.Int64
}

// NewCoordinator creates a Coordinator whose callers wait at most wait for an
// operation to settle.
func NewCoordinator[T any](wait time.Duration) *Coordinator[T] {
	return &Coordinator[T]{wait: wait}
}

// WithLock runs op for key unless an operation for key is already running, in
// which case it waits for that operation's result. The boolean result reports
// whether this caller shared another caller's operation.
//
// The operation is detached from the cancellation of the caller that started
// it, but is given a deadline of the configured wait. A caller that stops
// waiting, through its own context or the wait bound, receives
// ErrRefreshTimeout.
func (c *Coordinator[T]) WithLock(ctx context.Context, key string, op func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	// written by the operation goroutine before the result is sent, so it is
	// safe to read after the receive
	led := false

	results := c.group.DoChan(key, func() (any, error) {
		led = true
		c.started.Add(1)

		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.wait)
		defer cancel()

		return protect(func() (T, error) { return op(opCtx) })
	})

	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case res := <-results:
		shared := !led
		if shared {
			c.piggybacked.Add(1)
		}
		if res.Err != nil {
			return zero, shared, res.Err
		}
		return res.Val.(T), shared, nil

	case <-timer.C:
		return zero, false, fmt.Errorf("%w: gave up after %s", ErrRefreshTimeout, c.wait)

	case <-ctx.Done():
		return zero, false, fmt.Errorf("%w: %w", ErrRefreshTimeout, context.Cause(ctx))
	}
}

// Started returns the number of operations actually run.
func (c *Coordinator[T]) Started() uint64 {
	return c.started.Load()
}

// Piggybacked returns the number of callers that received another caller's
// result.
func (c *Coordinator[T]) Piggybacked() uint64 {
	return c.piggybacked.Load()
}

// Waiting returns the number of callers currently blocked in WithLock.
func (c *Coordinator[T]) Waiting() int64 {
	return c.waiting.Load()
}

// protect converts a panic in fn into an error. An unrecovered panic inside a
// singleflight DoChan call cannot be caught by any waiter and would end the
// process.
func protect[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRefreshPanicked, r)
		}
	}()

	return fn()
}
