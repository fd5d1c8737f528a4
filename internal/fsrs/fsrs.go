// Package fsrs schedules flashcard reviews. Only the session service uses
// it; clients see its output as an opaque schedule preview.
package fsrs

import (
	"math"
	"time"

	"github.com/conorfennell/medstudy/internal/domain"
)

// Phase is the learning phase of a card.
type Phase int

const (
	New Phase = iota
	Learning
	Review
	Relearning
)

var phaseNames = [...]string{New: "new", Learning: "learning", Review: "review", Relearning: "relearning"}

func (p Phase) String() string {
	if p >= New && p <= Relearning {
		return phaseNames[p]
	}
	return "unknown"
}

// Params holds the parameters for the FSRS algorithm.
type Params struct {
	A                float64 // scales the overall memory increase
	B                float64 // difficulty exponent
	C                float64 // stability exponent
	D                float64 // retention effect scaler
	DesiredRetention float64 // desired retention rate (e.g., 0.9 for 90%)
}

// DefaultParams provides a set of sensible default parameters to start with.
func DefaultParams() *Params {
	return &Params{
		A:                0.2,
		B:                0.5,
		C:                0.1,
		D:                4.0,
		DesiredRetention: 0.9,
	}
}

// CardState holds the memory state of a card.
type CardState struct {
	Stability  float64
	Difficulty float64
	LastReview time.Time
	Phase      Phase
}

// initial stability and difficulty of a card seen for the first time
var (
	initialStability  = map[domain.Rating]float64{domain.Again: 1, domain.Hard: 1, domain.Good: 2, domain.Easy: 4}
	initialDifficulty = map[domain.Rating]float64{domain.Again: 7, domain.Hard: 6, domain.Good: 5, domain.Easy: 4}
)

// NextState calculates the next stability and difficulty based on a review
// made at now.
func (p *Params) NextState(current CardState, rating domain.Rating, now time.Time) CardState {
	if current.Phase == New {
		phase := Learning
		if rating == domain.Easy {
			phase = Review
		}
		return CardState{
			Stability:  initialStability[rating],
			Difficulty: initialDifficulty[rating],
			LastReview: now,
			Phase:      phase,
		}
	}

	if rating == domain.Again {
		return CardState{
			Stability:  1,
			Difficulty: math.Min(10, current.Difficulty+0.5),
			LastReview: now,
			Phase:      Relearning,
		}
	}

	newDifficulty := current.Difficulty
	switch rating {
	case domain.Hard:
		newDifficulty = math.Min(10, newDifficulty+0.1)
	case domain.Easy:
		newDifficulty = math.Max(1, newDifficulty-0.2)
	}

	return CardState{
		Stability:  p.calculateNewStability(current.Stability, current.Difficulty),
		Difficulty: newDifficulty,
		LastReview: now,
		Phase:      Review,
	}
}

// calculateNewStability applies the core FSRS formula for a successful review.
func (p *Params) calculateNewStability(stability, difficulty float64) float64 {
	// Formula: S' = S * (1 + a * D^(-b) * S^c * (e^(d * (1-R)) - 1))
	if stability < 1 {
		stability = 1
	}
	if difficulty < 1 {
		difficulty = 1
	}

	factor := p.A * math.Pow(difficulty, -p.B) * math.Pow(stability, p.C)
	exponent := p.D * (1 - p.DesiredRetention)
	multiplier := math.Exp(exponent) - 1

	return stability * (1 + factor*multiplier)
}

// NextDueDate schedules the next review newStability days after now.
func NextDueDate(newStability float64, now time.Time) time.Time {
	days := time.Duration(math.Round(newStability))
	return now.Add(days * 24 * time.Hour)
}

// Retrievability estimates the chance of recall elapsed time after the last
// review.
func Retrievability(stability float64, elapsed time.Duration) float64 {
	if stability <= 0 {
		return 0
	}
	days := elapsed.Hours() / 24
	return math.Pow(1+days/(9*stability), -1)
}

// Schedule is the preview sent to clients after a review.
type Schedule struct {
	Phase        string    `json:"phase"`
	Stability    float64   `json:"stability"`
	Difficulty   float64   `json:"difficulty"`
	IntervalDays int       `json:"interval_days"`
	Due          time.Time `json:"due"`
}

// Apply returns the state after rating and the matching preview.
func (p *Params) Apply(current CardState, rating domain.Rating, now time.Time) (CardState, Schedule) {
	next := p.NextState(current, rating, now)
	due := NextDueDate(next.Stability, now)
	return next, Schedule{
		Phase:        next.Phase.String(),
		Stability:    math.Round(next.Stability*100) / 100,
		Difficulty:   math.Round(next.Difficulty*100) / 100,
		IntervalDays: int(math.Round(next.Stability)),
		Due:          due,
	}
}

// Preview returns the schedule each rating would produce, keyed by rating
// name.
func (p *Params) Preview(current CardState, now time.Time) map[string]Schedule {
	out := make(map[string]Schedule, 4)
	for _, r := range []domain.Rating{domain.Again, domain.Hard, domain.Good, domain.Easy} {
		_, s := p.Apply(current, r, now)
		out[r.String()] = s
	}
	return out
}
