// Package study runs a spaced-repetition review session: one current card,
// rating submission and the running accuracy. Scheduling is the service's
// job; the engine only forwards ratings and shows what comes back.
//
// Ordering rule: the next card is requested only after the service has
// confirmed the rating of the current one. Nothing is fetched ahead.
package study

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/medstudy/internal/auth"
	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/request"
)

// Status is the lifecycle phase of the engine.
type Status int

const (
	Idle Status = iota
	Loading
	Reviewing
	Complete
)

var statusNames = [...]string{Idle: "idle", Loading: "loading", Reviewing: "reviewing", Complete: "complete"}

func (s Status) String() string {
	if s >= Idle && s <= Complete {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Deferrer accepts ratings the service could not confirm.
type Deferrer interface {
	Enqueue(rec domain.ReviewRecord)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSyncQueue enables Defer.
func WithSyncQueue(q Deferrer) Option {
	return func(e *Engine) { e.queue = q }
}

// WithLogoutSignal ends the session whenever s is published.
func WithLogoutSignal(s *auth.Signal) Option {
	return func(e *Engine) { e.signal = s }
}

// Engine owns one study session at a time and is safe for concurrent use.
type Engine struct {
	svc    remote.Service
	queue  Deferrer
	logger *slog.Logger
	now    func() time.Time
	signal *auth.Signal
	unsub  func()
	start  *request.Mutation[remote.StartStudyRequest, *remote.StudyStart]

	mu            sync.Mutex
	gen           uint64
	closed        bool
	status        Status
	startErr      error
	sessionID     string
	deck          string
	dueCount      int
	batch         []domain.Item
	seen          map[string]bool
	current       *domain.Item
	shownAt       time.Time
	showingAnswer bool
	inFlight      bool
	awaitingNext  bool
	reviewed      int
	correct       int
	deferred      int
	deferredCards []string
	records       []domain.ReviewRecord
	failed        *domain.ReviewRecord
}

// New creates an engine backed by svc.
func New(svc remote.Service, opts ...Option) *Engine {
	e := &Engine{
		svc:    svc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.start = request.NewMutation(svc.StartStudy)
	if e.signal != nil {
		e.unsub = e.signal.Subscribe(func() {
			e.logger.Info("Credential expired, ending study session")
			e.End()
		})
	}
	e.resetLocked()
	return e
}

// Start requests the due cards of deck and shows the first one. A deck with
// nothing due completes immediately.
func (e *Engine) Start(ctx context.Context, deck string, filters remote.StudyFilters) error {
	req := remote.StartStudyRequest{Deck: deck, Filters: filters}
	if err := remote.Validate(req); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.status == Loading {
		e.mu.Unlock()
		return ErrBusy
	}
	e.gen++
	gen := e.gen
	e.resetLocked()
	e.status = Loading
	e.mu.Unlock()

	res, err := e.start.Mutate(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if stale := e.staleLocked(gen); stale != nil {
		return stale
	}
	if err != nil {
		e.status = Idle
		e.startErr = err
		e.logger.Warn("Failed to start study session", "deck", deck, "error", err)
		return fmt.Errorf("start study: %w", err)
	}

	e.sessionID = res.SessionID
	e.deck = deck
	e.dueCount = res.DueCount
	e.batch = append([]domain.Item(nil), res.Cards...)
	if len(e.batch) == 0 {
		e.status = Complete
		e.logger.Info("No cards due", "deck", deck)
		return nil
	}
	e.showLocked(e.batch[0])
	e.status = Reviewing
	e.logger.Info("Study session started", "session_id", res.SessionID, "deck", deck, "due", res.DueCount)
	return nil
}

// RevealAnswer flips the current card.
func (e *Engine) RevealAnswer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.status != Reviewing || e.current == nil {
		return ErrNotReviewing
	}
	e.showingAnswer = true
	return nil
}

// SubmitReview sends rating for the current card. Only one rating may be in
// flight; a second call while the first is unresolved returns
// ErrReviewInFlight and changes nothing.
//
// On failure the engine stays on the card with the answer showing and the
// counters untouched, and the returned *ReviewError carries the record for
// a retry or for Defer. On success the next card is fetched; if that fetch
// fails the confirmed record is returned together with an error wrapping
// ErrNextCard.
func (e *Engine) SubmitReview(ctx context.Context, rating domain.Rating) (domain.ReviewRecord, error) {
	if !rating.IsValid() {
		return domain.ReviewRecord{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return domain.ReviewRecord{}, ErrClosed
	case e.inFlight:
		e.mu.Unlock()
		return domain.ReviewRecord{}, ErrReviewInFlight
	case e.status != Reviewing || e.current == nil:
		e.mu.Unlock()
		return domain.ReviewRecord{}, ErrNotReviewing
	case !e.showingAnswer:
		e.mu.Unlock()
		return domain.ReviewRecord{}, ErrAnswerHidden
	}
	e.inFlight = true
	gen := e.gen
	now := e.now()
	rec := domain.ReviewRecord{
		SessionID:   e.sessionID,
		CardID:      e.current.ID,
		Rating:      rating,
		TimeSpentMs: max(now.Sub(e.shownAt).Milliseconds(), 0),
		ReviewedAt:  now,
	}
	e.mu.Unlock()

	res, err := e.svc.SubmitReview(ctx, remote.ReviewRequestFrom(rec))

	e.mu.Lock()
	if stale := e.staleLocked(gen); stale != nil {
		e.mu.Unlock()
		return domain.ReviewRecord{}, stale
	}
	if err != nil {
		e.inFlight = false
		failed := rec
		e.failed = &failed
		e.mu.Unlock()
		e.logger.Warn("Review not saved", "session_id", rec.SessionID, "card_id", rec.CardID, "rating", rating, "error", err)
		return domain.ReviewRecord{}, &ReviewError{Record: rec, Err: err}
	}

	rec.IsCorrect = res.IsCorrect
	rec.Schedule = res.Schedule
	e.reviewed++
	if res.IsCorrect {
		e.correct++
	}
	e.records = append(e.records, rec)
	e.failed = nil
	e.showingAnswer = false
	e.awaitingNext = true
	// inFlight stays set until the replacement card is in place, so the
	// rated card cannot be rated twice.
	e.mu.Unlock()

	return rec, e.fetchNext(ctx, gen)
}

// Advance retries the next-card fetch after SubmitReview returned an error
// wrapping ErrNextCard.
func (e *Engine) Advance(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.inFlight {
		e.mu.Unlock()
		return ErrReviewInFlight
	}
	if !e.awaitingNext {
		e.mu.Unlock()
		return nil
	}
	e.inFlight = true
	gen := e.gen
	e.mu.Unlock()

	return e.fetchNext(ctx, gen)
}

// fetchNext replaces the current card with the next one due. The caller has
// set inFlight.
func (e *Engine) fetchNext(ctx context.Context, gen uint64) error {
	e.mu.Lock()
	req := remote.NextCardRequest{SessionID: e.sessionID, Deck: e.deck, Exclude: e.deferredIDs()}
	e.mu.Unlock()

	next, err := e.svc.NextDueCard(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staleLocked(gen) != nil {
		// The rating itself was confirmed; there is just nothing left to show.
		return nil
	}
	e.inFlight = false
	if err != nil {
		e.current = nil
		e.logger.Warn("Failed to fetch next card", "session_id", e.sessionID, "deck", e.deck, "error", err)
		return fmt.Errorf("%w: %w", ErrNextCard, err)
	}
	e.awaitingNext = false
	if next == nil {
		e.current = nil
		e.status = Complete
		e.logger.Info("Study session complete", "session_id", e.sessionID, "reviewed", e.reviewed, "correct", e.correct)
		return nil
	}
	e.showLocked(*next)
	return nil
}

// Defer hands the last unconfirmed rating to the sync queue and moves on to
// the next card of the start batch that has not been shown yet. No card is
// fetched from the service, because the deferred rating is not recorded
// there yet.
func (e *Engine) Defer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.queue == nil:
		return ErrNoQueue
	case e.inFlight:
		return ErrReviewInFlight
	case e.failed == nil:
		return ErrNothingToDefer
	}

	e.queue.Enqueue(*e.failed)
	e.deferredCards = append(e.deferredCards, e.failed.CardID)
	e.logger.Info("Review deferred to sync queue", "session_id", e.sessionID, "card_id", e.failed.CardID)
	e.failed = nil
	e.deferred++
	e.showingAnswer = false

	for _, it := range e.batch {
		if !e.seen[it.ID] {
			e.showLocked(it)
			return nil
		}
	}
	e.current = nil
	e.status = Complete
	return nil
}

// End discards the session unconditionally. Calls in flight resolve but
// their results are dropped.
func (e *Engine) End() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.resetLocked()
}

// Close ends the session and rejects every later call.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.gen++
	e.resetLocked()
	e.mu.Unlock()

	e.start.Close()
	if e.unsub != nil {
		e.unsub()
	}
}

func (e *Engine) showLocked(it domain.Item) {
	card := it
	e.current = &card
	e.seen[it.ID] = true
	e.shownAt = e.now()
	e.showingAnswer = false
}

// deferredIDs lists the cards handed to the sync queue this session, so the
// service does not serve them again before the queue has flushed.
func (e *Engine) deferredIDs() []string {
	if len(e.deferredCards) == 0 {
		return nil
	}
	return append([]string(nil), e.deferredCards...)
}

func (e *Engine) resetLocked() {
	e.status = Idle
	e.startErr = nil
	e.sessionID = ""
	e.deck = ""
	e.dueCount = 0
	e.batch = nil
	e.seen = make(map[string]bool)
	e.current = nil
	e.shownAt = time.Time{}
	e.showingAnswer = false
	e.inFlight = false
	e.awaitingNext = false
	e.reviewed = 0
	e.correct = 0
	e.deferred = 0
	e.deferredCards = nil
	e.records = nil
	e.failed = nil
}

func (e *Engine) staleLocked(gen uint64) error {
	if e.closed {
		return ErrClosed
	}
	if gen != e.gen {
		return ErrAbandoned
	}
	return nil
}
