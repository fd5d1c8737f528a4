package request

import (
	"context"
	"errors"
)

// ErrClosed is returned by Mutate after Close.
var ErrClosed = errors.New("request: closed")

// ErrSuperseded is returned by Mutate when a newer call replaced this one
// before it resolved. The newer call owns the tracked state.
var ErrSuperseded = errors.New("request: superseded by a newer call")

// Mutation tracks a parameterised write.
type Mutation[In, Out any] struct {
	do func(ctx context.Context, in In) (Out, error)
	t  *tracker[Out]
}

// NewMutation wraps do.
func NewMutation[In, Out any](do func(ctx context.Context, in In) (Out, error), opts ...Option[Out]) *Mutation[In, Out] {
	return &Mutation[In, Out]{do: do, t: newTracker(opts)}
}

// Mutate runs the write. Unlike Query.Execute it returns the producer's
// error as well as recording it, so callers can branch on either. A call
// whose outcome was not applied (closed or superseded) reports that through
// ErrClosed or ErrSuperseded instead of the producer's result.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) (Out, error) {
	var zero Out
	gen, callCtx, ok := m.t.begin(ctx)
	if !ok {
		return zero, ErrClosed
	}
	out, err := safeCall(func() (Out, error) { return m.do(callCtx, in) })
	if !m.t.finish(gen, out, err) {
		if m.closed() {
			return zero, ErrClosed
		}
		return zero, ErrSuperseded
	}
	return out, err
}

// State returns the current snapshot.
func (m *Mutation[In, Out]) State() State[Out] { return m.t.snapshot() }

// Reset returns the mutation to Idle.
func (m *Mutation[In, Out]) Reset() { m.t.reset() }

// Close marks the owner as torn down.
func (m *Mutation[In, Out]) Close() { m.t.close() }

func (m *Mutation[In, Out]) closed() bool {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	return m.t.closed
}
