// Package remote defines the session service contract consumed by the quiz
// and study engines, and an HTTP client that speaks it.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/request"
)

// Service is the remote session service. Implementations must treat
// SubmitAnswer as idempotent per (session, item).
type Service interface {
	StartQuiz(ctx context.Context, req StartQuizRequest) (*QuizStart, error)
	SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResult, error)
	FlagQuestion(ctx context.Context, req FlagRequest) error
	CompleteQuiz(ctx context.Context, sessionID string) (*QuizCompletion, error)

	StartStudy(ctx context.Context, req StartStudyRequest) (*StudyStart, error)
	SubmitReview(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
	// NextDueCard returns nil when the deck has no further due card.
	NextDueCard(ctx context.Context, req NextCardRequest) (*domain.Item, error)
	SubmitBulkReviews(ctx context.Context, reqs []ReviewRequest) (*BulkReviewResult, error)

	ListDecks(ctx context.Context, page, pageSize int) (request.Page[Deck], error)
}

// StartQuizRequest asks for a new quiz attempt.
type StartQuizRequest struct {
	Scope            string          `json:"scope" validate:"required"`
	Mode             domain.QuizMode `json:"mode" validate:"required,oneof=standard timed review random"`
	Count            int             `json:"count" validate:"min=1,max=200"`
	TimeLimitSeconds int             `json:"time_limit_seconds,omitempty" validate:"min=0"`
}

// QuizStart is the service's answer to StartQuiz.
type QuizStart struct {
	SessionID string        `json:"session_id"`
	Items     []domain.Item `json:"items"`
	StartedAt time.Time     `json:"started_at"`
}

// AnswerRequest submits one answer of a quiz attempt.
type AnswerRequest struct {
	SessionID        string `json:"session_id" validate:"required"`
	ItemID           string `json:"item_id" validate:"required"`
	OptionID         string `json:"option_id" validate:"required"`
	TimeSpentSeconds int    `json:"time_spent_seconds" validate:"min=0"`
}

// AnswerResult reports the correctness of a submitted answer.
type AnswerResult struct {
	IsCorrect       bool   `json:"is_correct"`
	CorrectOptionID string `json:"correct_option_id"`
	Explanation     string `json:"explanation,omitempty"`
}

// FlagRequest mirrors a local flag toggle.
type FlagRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	ItemID    string `json:"item_id" validate:"required"`
	Flagged   bool   `json:"flagged"`
}

// QuizCompletion is the service's final verdict on an attempt.
type QuizCompletion struct {
	Total    int     `json:"total"`
	Answered int     `json:"answered"`
	Correct  int     `json:"correct"`
	Percent  float64 `json:"percent"`
}

// StudyFilters narrows the due-card batch of a study session.
type StudyFilters struct {
	Limit      int  `json:"limit,omitempty" validate:"min=0,max=500"`
	IncludeNew bool `json:"include_new"`
}

// StartStudyRequest asks for a new flashcard review session.
type StartStudyRequest struct {
	Deck    string       `json:"deck" validate:"required"`
	Filters StudyFilters `json:"filters"`
}

// StudyStart is the first batch of due cards, in review order.
type StudyStart struct {
	SessionID string        `json:"session_id"`
	Cards     []domain.Item `json:"cards"`
	DueCount  int           `json:"due_count"`
}

// ReviewRequest submits one flashcard rating.
type ReviewRequest struct {
	SessionID   string        `json:"session_id,omitempty"`
	CardID      string        `json:"card_id" validate:"required"`
	Rating      domain.Rating `json:"rating" validate:"min=1,max=4"`
	TimeSpentMs int64         `json:"time_spent_ms" validate:"min=0"`
	ReviewedAt  time.Time     `json:"reviewed_at"`
}

// ReviewResult carries the service's verdict and its opaque schedule preview.
type ReviewResult struct {
	IsCorrect bool            `json:"is_correct"`
	Schedule  json.RawMessage `json:"schedule,omitempty"`
}

// NextCardRequest fetches a single due card of the deck. Exclude lists
// cards the caller has already dealt with offline.
type NextCardRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	Deck      string   `json:"deck" validate:"required"`
	Exclude   []string `json:"exclude,omitempty"`
}

// ItemStatus is the per-review outcome of a bulk submission.
type ItemStatus struct {
	CardID string `json:"card_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BulkReviewResult lists one status per submitted review.
type BulkReviewResult struct {
	Results []ItemStatus `json:"results"`
}

// Deck summarises one deck for listing screens.
type Deck struct {
	Name      string `json:"name"`
	Cards     int    `json:"cards"`
	Due       int    `json:"due"`
	Questions int    `json:"questions"`
}

// ReviewRequestFrom builds the wire payload of a review record.
func ReviewRequestFrom(rec domain.ReviewRecord) ReviewRequest {
	return ReviewRequest{
		SessionID:   rec.SessionID,
		CardID:      rec.CardID,
		Rating:      rec.Rating,
		TimeSpentMs: rec.TimeSpentMs,
		ReviewedAt:  rec.ReviewedAt,
	}
}
