package quiz

import (
	"errors"
	"fmt"
)

var (
	// ErrNoItems is wrapped by SessionStartError when the service has no questions for the scope.
	ErrNoItems        = errors.New("quiz: no questions available")
	ErrNotActive      = errors.New("quiz: no active session")
	ErrPaused         = errors.New("quiz: session is paused")
	ErrBusy           = errors.New("quiz: session is starting")
	ErrUnknownItem    = errors.New("quiz: item is not part of this session")
	ErrAnswerInFlight = errors.New("quiz: answer for this item is still being submitted")
	ErrSubmitInFlight = errors.New("quiz: session is being submitted")
	ErrTimeExpired    = errors.New("quiz: time limit reached")
	// ErrAbandoned is returned by calls whose session was discarded while they ran.
	ErrAbandoned = errors.New("quiz: session abandoned")
	ErrClosed    = errors.New("quiz: engine closed")
)

// SessionStartError is the terminal, non-retryable failure to start a quiz:
// the service answered, but with nothing to ask. Transient failures are
// returned as-is instead.
type SessionStartError struct {
	Scope string
	Err   error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("quiz: cannot start session for %q: %v", e.Scope, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }
