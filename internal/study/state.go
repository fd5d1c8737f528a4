package study

import "github.com/conorfennell/medstudy/internal/domain"

// Status returns the lifecycle phase.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StartErr returns why the last Start failed, if it did.
func (e *Engine) StartErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startErr
}

// SessionID returns the server-issued id of the session.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// DueCount is the number of due cards the service reported at start.
func (e *Engine) DueCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dueCount
}

// Current returns the card under review.
func (e *Engine) Current() (domain.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return domain.Item{}, false
	}
	return *e.current, true
}

// ShowingAnswer reports whether the current card has been flipped.
func (e *Engine) ShowingAnswer() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.showingAnswer
}

// InFlight reports whether a rating or next-card fetch is unresolved.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Reviewed is the number of confirmed ratings.
func (e *Engine) Reviewed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reviewed
}

// Correct is the number of confirmed ratings the service judged correct.
func (e *Engine) Correct() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.correct
}

// Deferred is the number of ratings handed to the sync queue.
func (e *Engine) Deferred() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deferred
}

// Accuracy is correct/reviewed, or 0 before the first confirmed rating.
func (e *Engine) Accuracy() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Accuracy(e.correct, e.reviewed)
}

// Records returns the confirmed ratings of the session in order.
func (e *Engine) Records() []domain.ReviewRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ReviewRecord(nil), e.records...)
}

// FailedReview returns the last rating the service did not confirm.
func (e *Engine) FailedReview() (domain.ReviewRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		return domain.ReviewRecord{}, false
	}
	return *e.failed, true
}

// Accuracy returns correct/reviewed without dividing by zero.
func Accuracy(correct, reviewed int) float64 {
	if reviewed <= 0 {
		return 0
	}
	return float64(correct) / float64(reviewed)
}
