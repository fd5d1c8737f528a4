package request

import "fmt"

// Status is the phase of a tracked call.
type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

var statusNames = [...]string{Idle: "idle", Loading: "loading", Success: "success", Error: "error"}

func (s Status) String() string {
	if s >= Idle && s <= Error {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// State is a snapshot of a tracked call. Data is only meaningful on Success
// and Err only on Error.
type State[T any] struct {
	Status Status
	Data   T
	Err    error
}

// Observer is notified after every applied state transition.
type Observer[T any] func(State[T])

// Option configures a tracker.
type Option[T any] func(*tracker[T])

// WithObserver registers fn to receive every applied transition.
func WithObserver[T any](fn Observer[T]) Option[T] {
	return func(t *tracker[T]) {
		t.observer = fn
	}
}
