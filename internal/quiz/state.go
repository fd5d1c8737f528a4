package quiz

import (
	"github.com/conorfennell/medstudy/internal/domain"
)

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

// Session returns a copy of the current session, or nil.
func (e *Engine) Session() *domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := *e.session
	s.Items = append([]domain.Item(nil), e.session.Items...)
	return &s
}

// Cursor returns the 0-based index of the current item.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Current returns the item under the cursor.
func (e *Engine) Current() (domain.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.Item{}, false
	}
	return e.session.Items[e.cursor], true
}

// Answer returns the confirmed answer for itemID.
func (e *Engine) Answer(itemID string) (domain.AnswerRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.answers[itemID]
	return rec, ok
}

// Pending returns the tentative, unconfirmed choice for itemID.
func (e *Engine) Pending(itemID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	opt, ok := e.pending[itemID]
	return opt, ok
}

// Answers returns the confirmed answers in item order.
func (e *Engine) Answers() []domain.AnswerRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	out := make([]domain.AnswerRecord, 0, len(e.answers))
	for _, it := range e.session.Items {
		if rec, ok := e.answers[it.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// AnsweredCount is the number of confirmed answers.
func (e *Engine) AnsweredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.answers)
}

// Skipped is the number of items without a confirmed answer.
func (e *Engine) Skipped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return 0
	}
	return len(e.session.Items) - len(e.answers)
}

// IsFlagged reports whether itemID is flagged.
func (e *Engine) IsFlagged(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags[itemID]
}

// Flags returns the flagged item ids in item order.
func (e *Engine) Flags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flagsLocked()
}

// ItemSeconds is the time spent on the current item since it became current
// or since its last confirmed answer.
func (e *Engine) ItemSeconds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.itemSeconds
}

// ElapsedSeconds is the active time of the whole attempt.
func (e *Engine) ElapsedSeconds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionSeconds
}

// Expired reports whether the time limit has been reached.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// Score derives the running score from the stored answers.
func (e *Engine) Score() domain.Score {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked()
}

// Result returns the outcome of a completed attempt.
func (e *Engine) Result() (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil, false
	}
	res := *e.result
	return &res, true
}

func (e *Engine) flagsLocked() []string {
	if e.session == nil || len(e.flags) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.flags))
	for _, it := range e.session.Items {
		if e.flags[it.ID] {
			out = append(out, it.ID)
		}
	}
	return out
}

func (e *Engine) scoreLocked() domain.Score {
	if e.session == nil {
		return domain.Score{}
	}
	var correct int
	for _, rec := range e.answers {
		if rec.IsCorrect {
			correct++
		}
	}
	total := len(e.session.Items)
	answered := len(e.answers)
	return domain.Score{
		Total:            total,
		Answered:         answered,
		Correct:          correct,
		Wrong:            answered - correct,
		Skipped:          total - answered,
		Flagged:          e.flagsLocked(),
		TimeSpentSeconds: e.sessionSeconds,
	}
}
