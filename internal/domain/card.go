package domain

import "time"

// Card represents a single authored question-answer-context entry.
// Cards with Options are also eligible as quiz questions.
type Card struct {
	Deck        string
	Question    string
	Answer      string
	Context     string
	Options     []Option
	Explanation string
	Hash        string
}

// Option is one multiple-choice answer of a quiz question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"-"`
}

// CorrectOption returns the id of the first option marked correct.
func (c Card) CorrectOption() (string, bool) {
	for _, o := range c.Options {
		if o.Correct {
			return o.ID, true
		}
	}
	return "", false
}

// IsQuestion reports whether the card can be served in a quiz.
func (c Card) IsQuestion() bool {
	_, ok := c.CorrectOption()
	return ok && len(c.Options) > 1
}

// ReviewLog records a single review event for a card.
type ReviewLog struct {
	CardHash    string
	SessionID   string
	Timestamp   time.Time
	Grade       Rating
	TimeSpentMs int64
}
