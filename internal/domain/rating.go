package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRating is returned when a rating is outside Again..Easy.
var ErrInvalidRating = errors.New("domain: invalid rating")

// Rating is the learner's recall grade for a flashcard.
type Rating int

const (
	Again Rating = iota + 1 // Forgot; counts as incorrect.
	Hard
	Good
	Easy
)

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// ParseRating accepts a name ("good", "Good") or a number ("3").
func ParseRating(s string) (Rating, error) {
	if n, err := strconv.Atoi(s); err == nil {
		r := Rating(n)
		if !r.IsValid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidRating, n)
		}
		return r, nil
	}
	for r := Again; r <= Easy; r++ {
		if strings.EqualFold(ratingNames[r], s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
}

func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// IsValid reports whether r is Again through Easy.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// MarshalJSON encodes the rating as its number, which is what the session service expects.
func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return json.Marshal(int(r))
}

// UnmarshalJSON accepts either a number or a rating name.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		v := Rating(n)
		if !v.IsValid() {
			return fmt.Errorf("%w: %d", ErrInvalidRating, n)
		}
		*r = v
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRating, data)
	}
	v, err := ParseRating(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
