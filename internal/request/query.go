package request

import (
	"context"
	"fmt"
)

// Query tracks a zero-argument read.
type Query[T any] struct {
	fetch func(ctx context.Context) (T, error)
	t     *tracker[T]
}

// NewQuery wraps fetch.
func NewQuery[T any](fetch func(ctx context.Context) (T, error), opts ...Option[T]) *Query[T] {
	return &Query[T]{fetch: fetch, t: newTracker(opts)}
}

// Execute runs the read and returns the resulting state. It never returns an
// error directly; failures land in State.Err. If the call was superseded or
// the query closed while it ran, the current state is returned unchanged.
func (q *Query[T]) Execute(ctx context.Context) State[T] {
	gen, callCtx, ok := q.t.begin(ctx)
	if !ok {
		return q.t.snapshot()
	}
	data, err := safeCall(func() (T, error) { return q.fetch(callCtx) })
	q.t.finish(gen, data, err)
	return q.t.snapshot()
}

// State returns the current snapshot.
func (q *Query[T]) State() State[T] { return q.t.snapshot() }

// Reset returns the query to Idle and discards stored data or error.
func (q *Query[T]) Reset() { q.t.reset() }

// Close marks the owner as torn down. Results arriving later are dropped.
func (q *Query[T]) Close() { q.t.close() }

// safeCall converts a panicking producer into an error so that a broken
// producer cannot leave the tracker stuck in Loading.
func safeCall[T any](fn func() (T, error)) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request: producer panicked: %v", r)
		}
	}()
	return fn()
}
