package domain

import (
	"encoding/json"
	"time"
)

// QuizMode selects how the service assembles a quiz.
type QuizMode string

const (
	ModeStandard QuizMode = "standard"
	ModeTimed    QuizMode = "timed"
	ModeReview   QuizMode = "review"
	ModeRandom   QuizMode = "random"
)

// IsValid reports whether m is one of the known quiz modes.
func (m QuizMode) IsValid() bool {
	switch m {
	case ModeStandard, ModeTimed, ModeReview, ModeRandom:
		return true
	}
	return false
}

// Skipped is the option id a service accepts for a question left unanswered.
// It never counts as an answer.
const Skipped = "skipped"

// Item is a quiz question or a flashcard due for review.
// Position is 1-based and never changes once the service has returned it.
type Item struct {
	ID       string          `json:"id"`
	Position int             `json:"position"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Session is one attempt at a quiz or a study run.
type Session struct {
	ID        string        `json:"id"`
	Scope     string        `json:"scope"`
	Mode      QuizMode      `json:"mode,omitempty"`
	Items     []Item        `json:"items"`
	StartedAt time.Time     `json:"started_at"`
	TimeLimit time.Duration `json:"time_limit,omitempty"`
}

// AnswerRecord is the confirmed answer for one quiz item.
type AnswerRecord struct {
	ItemID           string `json:"item_id"`
	OptionID         string `json:"option_id"`
	IsCorrect        bool   `json:"is_correct"`
	CorrectOptionID  string `json:"correct_option_id,omitempty"`
	Explanation      string `json:"explanation,omitempty"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// ReviewRecord is one flashcard rating submission.
type ReviewRecord struct {
	SessionID   string          `json:"session_id,omitempty"`
	CardID      string          `json:"card_id"`
	Rating      Rating          `json:"rating"`
	TimeSpentMs int64           `json:"time_spent_ms"`
	IsCorrect   bool            `json:"is_correct"`
	Schedule    json.RawMessage `json:"schedule,omitempty"`
	ReviewedAt  time.Time       `json:"reviewed_at"`
}

// Score is the terminal snapshot of a quiz attempt.
type Score struct {
	Total            int      `json:"total"`
	Answered         int      `json:"answered"`
	Correct          int      `json:"correct"`
	Wrong            int      `json:"wrong"`
	Skipped          int      `json:"skipped"`
	Flagged          []string `json:"flagged,omitempty"`
	TimeSpentSeconds int      `json:"time_spent_seconds"`
}

// Percent returns the share of correct answers over all items, 0 for an empty quiz.
func (s Score) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total) * 100
}
