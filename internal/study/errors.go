package study

import (
	"errors"
	"fmt"

	"github.com/conorfennell/medstudy/internal/domain"
)

var (
	ErrNotReviewing   = errors.New("study: no card under review")
	ErrAnswerHidden   = errors.New("study: answer has not been revealed")
	ErrReviewInFlight = errors.New("study: a review is already being submitted")
	ErrBusy           = errors.New("study: session is starting")
	ErrNothingToDefer = errors.New("study: no failed review to defer")
	ErrNoQueue        = errors.New("study: no sync queue configured")
	// ErrNextCard is wrapped when a rating was saved but the next card could
	// not be fetched; Advance retries the fetch.
	ErrNextCard  = errors.New("study: next card unavailable")
	ErrAbandoned = errors.New("study: session abandoned")
	ErrClosed    = errors.New("study: engine closed")
)

// ReviewError reports a rating the service did not confirm. Record holds
// everything needed to retry it or hand it to the sync queue.
type ReviewError struct {
	Record domain.ReviewRecord
	Err    error
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("study: review of card %s not saved: %v", e.Record.CardID, e.Err)
}

func (e *ReviewError) Unwrap() error { return e.Err }
