// Package localsvc is a session service backed by the local card store.
// It serves the web API and lets the CLI study without a remote server.
package localsvc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/fsrs"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/request"
	"github.com/conorfennell/medstudy/internal/storage"
)

// DefaultStudyBatch is the batch size of StartStudy when the filters set
// no limit.
const DefaultStudyBatch = 20

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithParams sets the scheduler parameters.
func WithParams(p *fsrs.Params) Option {
	return func(s *Service) { s.params = p }
}

// WithShuffle replaces the shuffle used by random quizzes.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *Service) { s.shuffle = shuffle }
}

// Service implements remote.Service on top of storage.DB.
type Service struct {
	db      *storage.DB
	params  *fsrs.Params
	now     func() time.Time
	logger  *slog.Logger
	shuffle func(n int, swap func(i, j int))
}

var _ remote.Service = (*Service)(nil)

// New returns a service over db.
func New(db *storage.DB, opts ...Option) *Service {
	s := &Service{
		db:      db,
		params:  fsrs.DefaultParams(),
		now:     time.Now,
		logger:  slog.Default(),
		shuffle: rand.Shuffle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// quizPayload is what a quiz client sees of a question.
type quizPayload struct {
	Deck     string          `json:"deck"`
	Question string          `json:"question"`
	Context  string          `json:"context,omitempty"`
	Options  []domain.Option `json:"options"`
}

// cardPayload is what a study client sees of a flashcard.
type cardPayload struct {
	Deck     string                   `json:"deck"`
	Question string                   `json:"question"`
	Answer   string                   `json:"answer"`
	Context  string                   `json:"context,omitempty"`
	Preview  map[string]fsrs.Schedule `json:"preview"`
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, remote.ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", remote.ErrValidation, fmt.Sprintf(format, args...))
}

func (s *Service) StartQuiz(ctx context.Context, req remote.StartQuizRequest) (*remote.QuizStart, error) {
	if err := remote.Validate(req); err != nil {
		return nil, err
	}

	stored, err := s.db.QuestionCards(ctx, req.Scope, false)
	if err != nil {
		return nil, err
	}
	cards := make([]storage.CardState, 0, len(stored))
	for _, cs := range stored {
		if cs.Card().IsQuestion() {
			cards = append(cards, cs)
		}
	}

	switch req.Mode {
	case domain.ModeRandom:
		s.shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	case domain.ModeReview:
		// Previously studied cards first, in authored order otherwise.
		slices.SortStableFunc(cards, func(a, b storage.CardState) int {
			return boolRank(a.State == 0) - boolRank(b.State == 0)
		})
	}
	if len(cards) > req.Count {
		cards = cards[:req.Count]
	}

	now := s.now()
	session := storage.QuizSession{
		ID:               uuid.NewString(),
		Scope:            req.Scope,
		Mode:             string(req.Mode),
		TimeLimitSeconds: req.TimeLimitSeconds,
		StartedAt:        now,
	}
	items := make([]storage.QuizItem, len(cards))
	out := make([]domain.Item, len(cards))
	for i, cs := range cards {
		card := cs.Card()
		correct, _ := card.CorrectOption()
		payload, err := json.Marshal(quizPayload{
			Deck:     card.Deck,
			Question: card.Question,
			Context:  card.Context,
			Options:  card.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode question %s: %w", card.Hash, err)
		}
		items[i] = storage.QuizItem{
			ItemID:        card.Hash,
			Position:      i + 1,
			Payload:       payload,
			CorrectOption: correct,
			Explanation:   card.Explanation,
		}
		out[i] = domain.Item{ID: card.Hash, Position: i + 1, Payload: payload}
	}

	if err := s.db.CreateQuizSession(ctx, session, items); err != nil {
		return nil, err
	}
	s.logger.Info("Quiz session started", "session_id", session.ID, "scope", req.Scope, "mode", req.Mode, "items", len(items))
	return &remote.QuizStart{SessionID: session.ID, Items: out, StartedAt: now}, nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Service) SubmitAnswer(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
	if err := remote.Validate(req); err != nil {
		return nil, err
	}
	session, err := s.db.FindQuizSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound("quiz session", req.SessionID)
	}
	if session.CompletedAt.Valid {
		return nil, invalid("quiz session %s is already complete", req.SessionID)
	}
	item, err := s.db.FindQuizItem(ctx, req.SessionID, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound("quiz item", req.ItemID)
	}
	if req.OptionID != domain.Skipped {
		var payload quizPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode question %s: %w", item.ItemID, err)
		}
		if !slices.ContainsFunc(payload.Options, func(o domain.Option) bool { return o.ID == req.OptionID }) {
			return nil, invalid("option %q is not part of item %s", req.OptionID, req.ItemID)
		}
	}

	isCorrect := req.OptionID == item.CorrectOption
	err = s.db.UpsertQuizAnswer(ctx, storage.QuizAnswer{
		SessionID:        req.SessionID,
		ItemID:           req.ItemID,
		OptionID:         req.OptionID,
		IsCorrect:        isCorrect,
		TimeSpentSeconds: req.TimeSpentSeconds,
		AnsweredAt:       s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &remote.AnswerResult{
		IsCorrect:       isCorrect,
		CorrectOptionID: item.CorrectOption,
		Explanation:     item.Explanation,
	}, nil
}

func (s *Service) FlagQuestion(ctx context.Context, req remote.FlagRequest) error {
	if err := remote.Validate(req); err != nil {
		return err
	}
	ok, err := s.db.SetQuizFlag(ctx, req.SessionID, req.ItemID, req.Flagged)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("quiz item", req.ItemID)
	}
	return nil
}

// CompleteQuiz scores the attempt. Completing twice returns the same score.
func (s *Service) CompleteQuiz(ctx context.Context, sessionID string) (*remote.QuizCompletion, error) {
	session, err := s.db.FindQuizSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound("quiz session", sessionID)
	}
	items, err := s.db.QuizItems(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.db.QuizAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.db.CompleteQuizSession(ctx, sessionID, s.now()); err != nil {
		return nil, err
	}

	res := &remote.QuizCompletion{Total: len(items)}
	for _, a := range answers {
		if a.OptionID == domain.Skipped {
			continue
		}
		res.Answered++
		if a.IsCorrect {
			res.Correct++
		}
	}
	if res.Total > 0 {
		res.Percent = float64(res.Correct) * 100 / float64(res.Total)
	}
	s.logger.Info("Quiz session completed", "session_id", sessionID, "total", res.Total, "answered", res.Answered, "correct", res.Correct)
	return res, nil
}

func (s *Service) StartStudy(ctx context.Context, req remote.StartStudyRequest) (*remote.StudyStart, error) {
	if err := remote.Validate(req); err != nil {
		return nil, err
	}
	now := s.now()
	limit := req.Filters.Limit
	if limit == 0 {
		limit = DefaultStudyBatch
	}
	filter := storage.DueFilter{Deck: req.Deck, Now: now, Limit: limit, IncludeNew: req.Filters.IncludeNew}

	due, err := s.db.DueCards(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = 0
	dueCount, err := s.db.CountDue(ctx, filter)
	if err != nil {
		return nil, err
	}

	session := storage.StudySession{ID: uuid.NewString(), Deck: req.Deck, StartedAt: now, IncludeNew: req.Filters.IncludeNew}
	if err := s.db.CreateStudySession(ctx, session); err != nil {
		return nil, err
	}

	cards := make([]domain.Item, len(due))
	for i, cs := range due {
		item, err := s.cardItem(cs, i+1, now)
		if err != nil {
			return nil, err
		}
		cards[i] = item
	}
	s.logger.Info("Study session started", "session_id", session.ID, "deck", req.Deck, "batch", len(cards), "due", dueCount)
	return &remote.StudyStart{SessionID: session.ID, Cards: cards, DueCount: dueCount}, nil
}

func (s *Service) cardItem(cs storage.CardState, position int, now time.Time) (domain.Item, error) {
	payload, err := json.Marshal(cardPayload{
		Deck:     cs.Deck,
		Question: cs.Question,
		Answer:   cs.Answer,
		Context:  cs.Context,
		Preview:  s.params.Preview(memoryState(cs), now),
	})
	if err != nil {
		return domain.Item{}, fmt.Errorf("failed to encode card %s: %w", cs.Hash, err)
	}
	return domain.Item{ID: cs.Hash, Position: position, Payload: payload}, nil
}

func memoryState(cs storage.CardState) fsrs.CardState {
	return fsrs.CardState{
		Stability:  cs.Stability,
		Difficulty: cs.Difficulty,
		LastReview: cs.LastReview.Time,
		Phase:      fsrs.Phase(cs.State),
	}
}

// SubmitReview schedules the card from the time of the review, so a rating
// synced late is scheduled as if it had arrived on time. Every rating but
// Again counts as correct.
func (s *Service) SubmitReview(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
	if err := remote.Validate(req); err != nil {
		return nil, err
	}
	cs, err := s.db.FindCardStateByHash(ctx, req.CardID)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, notFound("card", req.CardID)
	}
	if req.SessionID != "" {
		session, err := s.db.FindStudySession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, notFound("study session", req.SessionID)
		}
	}

	reviewedAt := req.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = s.now()
	}
	next, schedule := s.params.Apply(memoryState(*cs), req.Rating, reviewedAt)
	cs.Stability = next.Stability
	cs.Difficulty = next.Difficulty
	cs.DueDate = schedule.Due
	cs.LastReview = sql.NullTime{Time: next.LastReview, Valid: true}
	cs.State = int(next.Phase)

	correct := req.Rating != domain.Again
	log := domain.ReviewLog{
		CardHash:    req.CardID,
		SessionID:   req.SessionID,
		Timestamp:   reviewedAt,
		Grade:       req.Rating,
		TimeSpentMs: req.TimeSpentMs,
	}
	if err := s.db.RecordReview(ctx, cs, log, correct); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule of %s: %w", req.CardID, err)
	}
	s.logger.Debug("Review recorded", "card_id", req.CardID, "rating", req.Rating, "due", schedule.Due)
	return &remote.ReviewResult{IsCorrect: correct, Schedule: raw}, nil
}

// NextDueCard returns the most overdue card of the deck, honouring the
// session's new-card filter.
func (s *Service) NextDueCard(ctx context.Context, req remote.NextCardRequest) (*domain.Item, error) {
	if err := remote.Validate(req); err != nil {
		return nil, err
	}
	includeNew := true
	if req.SessionID != "" {
		session, err := s.db.FindStudySession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, notFound("study session", req.SessionID)
		}
		includeNew = session.IncludeNew
	}

	now := s.now()
	due, err := s.db.DueCards(ctx, storage.DueFilter{
		Deck:       req.Deck,
		Now:        now,
		Limit:      1,
		IncludeNew: includeNew,
		Exclude:    req.Exclude,
	})
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	item, err := s.cardItem(due[0], 1, now)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SubmitBulkReviews applies each review independently; one failure does not
// stop the rest.
func (s *Service) SubmitBulkReviews(ctx context.Context, reqs []remote.ReviewRequest) (*remote.BulkReviewResult, error) {
	res := &remote.BulkReviewResult{Results: make([]remote.ItemStatus, 0, len(reqs))}
	for _, r := range reqs {
		st := remote.ItemStatus{CardID: r.CardID, OK: true}
		if _, err := s.SubmitReview(ctx, r); err != nil {
			st.OK = false
			st.Error = err.Error()
			s.logger.Warn("Bulk review rejected", "card_id", r.CardID, "error", err)
		}
		res.Results = append(res.Results, st)
	}
	return res, nil
}

func (s *Service) ListDecks(ctx context.Context, page, pageSize int) (request.Page[remote.Deck], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = request.DefaultPageSize
	}
	decks, total, err := s.db.ListDecks(ctx, s.now(), pageSize, (page-1)*pageSize)
	if err != nil {
		return request.Page[remote.Deck]{}, err
	}
	out := request.Page[remote.Deck]{Items: make([]remote.Deck, len(decks)), Total: total}
	for i, d := range decks {
		out.Items[i] = remote.Deck{Name: d.Name, Cards: d.Cards, Due: d.Due, Questions: d.Questions}
	}
	return out, nil
}
