// Package remotetest provides a programmable remote.Service for tests.
package remotetest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/request"
)

// ErrNotProgrammed is returned by a Fake method that has no handler.
var ErrNotProgrammed = errors.New("remotetest: method not programmed")

// Fake dispatches every call to the matching func field and records it.
// Unset fields return ErrNotProgrammed, except FlagQuestionFunc which
// succeeds by default.
type Fake struct {
	StartQuizFunc         func(ctx context.Context, req remote.StartQuizRequest) (*remote.QuizStart, error)
	SubmitAnswerFunc      func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error)
	FlagQuestionFunc      func(ctx context.Context, req remote.FlagRequest) error
	CompleteQuizFunc      func(ctx context.Context, sessionID string) (*remote.QuizCompletion, error)
	StartStudyFunc        func(ctx context.Context, req remote.StartStudyRequest) (*remote.StudyStart, error)
	SubmitReviewFunc      func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error)
	NextDueCardFunc       func(ctx context.Context, req remote.NextCardRequest) (*domain.Item, error)
	SubmitBulkReviewsFunc func(ctx context.Context, reqs []remote.ReviewRequest) (*remote.BulkReviewResult, error)
	ListDecksFunc         func(ctx context.Context, page, pageSize int) (request.Page[remote.Deck], error)

	mu    sync.Mutex
	calls []string
}

var _ remote.Service = (*Fake)(nil)

// Calls returns the names of the methods called so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times method was called.
func (f *Fake) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
}

func (f *Fake) StartQuiz(ctx context.Context, req remote.StartQuizRequest) (*remote.QuizStart, error) {
	f.record("StartQuiz")
	if f.StartQuizFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.StartQuizFunc(ctx, req)
}

func (f *Fake) SubmitAnswer(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
	f.record("SubmitAnswer")
	if f.SubmitAnswerFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.SubmitAnswerFunc(ctx, req)
}

func (f *Fake) FlagQuestion(ctx context.Context, req remote.FlagRequest) error {
	f.record("FlagQuestion")
	if f.FlagQuestionFunc == nil {
		return nil
	}
	return f.FlagQuestionFunc(ctx, req)
}

func (f *Fake) CompleteQuiz(ctx context.Context, sessionID string) (*remote.QuizCompletion, error) {
	f.record("CompleteQuiz")
	if f.CompleteQuizFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.CompleteQuizFunc(ctx, sessionID)
}

func (f *Fake) StartStudy(ctx context.Context, req remote.StartStudyRequest) (*remote.StudyStart, error) {
	f.record("StartStudy")
	if f.StartStudyFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.StartStudyFunc(ctx, req)
}

func (f *Fake) SubmitReview(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
	f.record("SubmitReview")
	if f.SubmitReviewFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.SubmitReviewFunc(ctx, req)
}

func (f *Fake) NextDueCard(ctx context.Context, req remote.NextCardRequest) (*domain.Item, error) {
	f.record("NextDueCard")
	if f.NextDueCardFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.NextDueCardFunc(ctx, req)
}

func (f *Fake) SubmitBulkReviews(ctx context.Context, reqs []remote.ReviewRequest) (*remote.BulkReviewResult, error) {
	f.record("SubmitBulkReviews")
	if f.SubmitBulkReviewsFunc == nil {
		return nil, ErrNotProgrammed
	}
	return f.SubmitBulkReviewsFunc(ctx, reqs)
}

func (f *Fake) ListDecks(ctx context.Context, page, pageSize int) (request.Page[remote.Deck], error) {
	f.record("ListDecks")
	if f.ListDecksFunc == nil {
		return request.Page[remote.Deck]{}, ErrNotProgrammed
	}
	return f.ListDecksFunc(ctx, page, pageSize)
}

// Items returns n items with ids prefix1..prefixN at positions 1..n.
func Items(prefix string, n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{ID: prefix + strconv.Itoa(i+1), Position: i + 1}
	}
	return items
}
