package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error classes of the session service. Use errors.Is to test for them.
var (
	// ErrTransport means no response was received; the call may be retried.
	ErrTransport = errors.New("remote: session service unreachable")
	// ErrValidation means the submission was rejected as malformed.
	ErrValidation = errors.New("remote: invalid request")
	// ErrUnauthorized means the credential was missing, expired or revoked.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrNotFound means the session, item or card does not exist.
	ErrNotFound = errors.New("remote: not found")
)

// StatusError is a non-2xx response from the session service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Status)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status onto the error classes above.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// IsRetryable reports whether err is worth retrying unchanged: transport
// failures and overloaded or failing servers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.Status)
	}
	return false
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// StatusFor is the inverse of StatusError.Unwrap, used by servers to choose
// a response status for err.
func StatusFor(err error) int {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Status
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
