package request

import (
	"context"
	"sync"
)

// tracker holds the state machine shared by Query, Mutation and Pager.
type tracker[T any] struct {
	mu       sync.Mutex
	state    State[T]
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
	observer Observer[T]
}

func newTracker[T any](opts []Option[T]) *tracker[T] {
	t := &tracker[T]{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// begin supersedes any call in flight and moves to Loading. It returns the
// generation of the new call and the context it must run with. ok is false
// once the tracker is closed.
func (t *tracker[T]) begin(ctx context.Context) (gen uint64, callCtx context.Context, ok bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, nil, false
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	callCtx, t.cancel = context.WithCancel(ctx)
	var zero T
	t.state = State[T]{Status: Loading, Data: zero}
	gen = t.gen
	snapshot := t.state
	t.mu.Unlock()

	t.notify(snapshot)
	return gen, callCtx, true
}

// finish applies the outcome of call gen unless it was superseded, reset or
// the tracker was closed meanwhile. It reports whether the outcome was applied.
func (t *tracker[T]) finish(gen uint64, data T, err error) bool {
	t.mu.Lock()
	if t.closed || gen != t.gen {
		t.mu.Unlock()
		return false
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if err != nil {
		var zero T
		t.state = State[T]{Status: Error, Data: zero, Err: err}
	} else {
		t.state = State[T]{Status: Success, Data: data}
	}
	snapshot := t.state
	t.mu.Unlock()

	t.notify(snapshot)
	return true
}

func (t *tracker[T]) snapshot() State[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// reset drops stored data and abandons any call in flight.
func (t *tracker[T]) reset() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.state = State[T]{}
	snapshot := t.state
	t.mu.Unlock()

	t.notify(snapshot)
}

func (t *tracker[T]) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *tracker[T]) notify(s State[T]) {
	if t.observer != nil {
		t.observer(s)
	}
}
