// Package quiz runs one timed or untimed quiz attempt against the session
// service: question set, answers, flags, timers and the navigation cursor.
package quiz

import (
	"context"
	"errors"
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
	NotStarted Status = iota
	Loading
	Active
	Paused
	Completed
	// Failed is terminal for the attempt: the service had no questions.
	Failed
)

var statusNames = [...]string{
	NotStarted: "not_started",
	Loading:    "loading",
	Active:     "active",
	Paused:     "paused",
	Completed:  "completed",
	Failed:     "failed",
}

func (s Status) String() string {
	if s >= NotStarted && s <= Failed {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// StartOptions describes the attempt to request.
type StartOptions struct {
	Scope     string
	Mode      domain.QuizMode
	Count     int
	TimeLimit time.Duration
}

// Result is what Submit returns: the score derived from local state and the
// service's own completion figures.
type Result struct {
	Score  domain.Score
	Server *remote.QuizCompletion
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLogoutSignal abandons the current session whenever s is published.
func WithLogoutSignal(s *auth.Signal) Option {
	return func(e *Engine) { e.signal = s }
}

// Engine owns one quiz attempt at a time. It is safe for concurrent use;
// service calls are made without holding the lock and their results are
// applied only if the attempt they belong to is still current.
type Engine struct {
	svc      remote.Service
	logger   *slog.Logger
	signal   *auth.Signal
	unsub    func()
	start    *request.Mutation[remote.StartQuizRequest, *remote.QuizStart]
	complete *request.Mutation[string, *remote.QuizCompletion]

	mu       sync.Mutex
	gen      uint64
	closed   bool
	status   Status
	startErr error
	session  *domain.Session
	index    map[string]int
	cursor   int
	answers  map[string]domain.AnswerRecord
	pending  map[string]string
	inFlight map[string]bool
	flags    map[string]bool

	itemSeconds    int
	moves          uint64
	sessionSeconds int
	expired        bool
	submitting     bool
	result         *Result
}

// New creates an engine backed by svc.
func New(svc remote.Service, opts ...Option) *Engine {
	e := &Engine{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.start = request.NewMutation(svc.StartQuiz)
	e.complete = request.NewMutation(svc.CompleteQuiz)
	if e.signal != nil {
		e.unsub = e.signal.Subscribe(func() {
			e.logger.Info("Credential expired, abandoning quiz session")
			e.Abandon()
		})
	}
	e.resetLocked()
	return e
}

// Start requests a new attempt and makes it current. Any previous attempt
// is discarded. An empty question set yields a *SessionStartError and the
// Failed status; transport and validation errors leave the engine in
// NotStarted so the caller may try again.
func (e *Engine) Start(ctx context.Context, opts StartOptions) error {
	req := remote.StartQuizRequest{
		Scope:            opts.Scope,
		Mode:             opts.Mode,
		Count:            opts.Count,
		TimeLimitSeconds: int(opts.TimeLimit / time.Second),
	}
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
	if err := e.staleLocked(gen); err != nil {
		return err
	}
	if err != nil {
		e.status = NotStarted
		e.startErr = err
		e.logger.Warn("Failed to start quiz session", "scope", opts.Scope, "error", err)
		return fmt.Errorf("start quiz: %w", err)
	}
	if res == nil || len(res.Items) == 0 {
		e.status = Failed
		e.startErr = &SessionStartError{Scope: opts.Scope, Err: ErrNoItems}
		return e.startErr
	}

	items := make([]domain.Item, len(res.Items))
	copy(items, res.Items)
	startedAt := res.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	e.session = &domain.Session{
		ID:        res.SessionID,
		Scope:     opts.Scope,
		Mode:      opts.Mode,
		Items:     items,
		StartedAt: startedAt,
		TimeLimit: opts.TimeLimit,
	}
	for i, it := range items {
		e.index[it.ID] = i
	}
	e.status = Active
	e.logger.Info("Quiz session started", "session_id", res.SessionID, "scope", opts.Scope, "mode", opts.Mode, "items", len(items))
	return nil
}

// SelectOption submits optionID as the answer to itemID. While the
// submission is in flight the choice is visible through Pending; it is
// replaced by the confirmed AnswerRecord on success and dropped on failure.
// A second call for the same item while the first is unresolved changes
// nothing and returns ErrAnswerInFlight.
func (e *Engine) SelectOption(ctx context.Context, itemID, optionID string) (domain.AnswerRecord, error) {
	e.mu.Lock()
	if err := e.answerableLocked(itemID); err != nil {
		e.mu.Unlock()
		return domain.AnswerRecord{}, err
	}
	if e.inFlight[itemID] {
		e.mu.Unlock()
		return domain.AnswerRecord{}, ErrAnswerInFlight
	}
	e.inFlight[itemID] = true
	e.pending[itemID] = optionID
	gen := e.gen
	// Only the item under the cursor has been accumulating seconds.
	onCursor := e.index[itemID] == e.cursor
	moves := e.moves
	spent := 0
	if onCursor {
		spent = e.itemSeconds
	}
	req := remote.AnswerRequest{
		SessionID:        e.session.ID,
		ItemID:           itemID,
		OptionID:         optionID,
		TimeSpentSeconds: spent,
	}
	e.mu.Unlock()

	res, err := e.svc.SubmitAnswer(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if stale := e.staleLocked(gen); stale != nil {
		return domain.AnswerRecord{}, stale
	}
	delete(e.inFlight, itemID)
	delete(e.pending, itemID)
	if err != nil {
		e.logger.Warn("Answer not saved", "session_id", req.SessionID, "item_id", itemID, "error", err)
		return domain.AnswerRecord{}, fmt.Errorf("submit answer for %s: %w", itemID, err)
	}

	rec := domain.AnswerRecord{
		ItemID:           itemID,
		OptionID:         optionID,
		IsCorrect:        res.IsCorrect,
		CorrectOptionID:  res.CorrectOptionID,
		Explanation:      res.Explanation,
		TimeSpentSeconds: spent,
	}
	e.answers[itemID] = rec
	// Seconds ticked while the call was in flight stay with the next answer.
	// After a move the timer already belongs to another item.
	if onCursor && moves == e.moves {
		e.itemSeconds = max(e.itemSeconds-spent, 0)
	}
	return rec, nil
}

// Skip leaves itemID unanswered and, when it is the current item, moves the
// cursor past it. Nothing is sent to the service: skipped items are the ones
// without an answer at completion, so an earlier answer to itemID is
// discarded locally.
func (e *Engine) Skip(itemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.answerableLocked(itemID); err != nil {
		return err
	}
	if e.inFlight[itemID] {
		return ErrAnswerInFlight
	}
	delete(e.answers, itemID)
	delete(e.pending, itemID)
	if e.index[itemID] == e.cursor {
		e.moveLocked(e.cursor + 1)
	}
	return nil
}

// Next moves the cursor forward. On the last item it submits the attempt
// instead and returns the result.
func (e *Engine) Next(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if err := e.navigableLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if e.cursor < len(e.session.Items)-1 {
		e.moveLocked(e.cursor + 1)
		e.mu.Unlock()
		return nil, nil
	}
	e.mu.Unlock()
	return e.Submit(ctx)
}

// Previous moves the cursor back, staying on the first item.
func (e *Engine) Previous() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.navigableLocked(); err != nil {
		return err
	}
	e.moveLocked(e.cursor - 1)
	return nil
}

// GoTo moves the cursor to the 0-based index, clamped to the item range.
func (e *Engine) GoTo(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.navigableLocked(); err != nil {
		return err
	}
	e.moveLocked(index)
	return nil
}

// ToggleFlag flips the flag on itemID and reports the new value. The change
// applies locally at once and is mirrored to the service; a failed mirror
// is logged and not rolled back.
func (e *Engine) ToggleFlag(ctx context.Context, itemID string) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	if e.status != Active && e.status != Paused {
		e.mu.Unlock()
		return false, ErrNotActive
	}
	if _, ok := e.index[itemID]; !ok {
		e.mu.Unlock()
		return false, ErrUnknownItem
	}
	flagged := !e.flags[itemID]
	if flagged {
		e.flags[itemID] = true
	} else {
		delete(e.flags, itemID)
	}
	sessionID := e.session.ID
	e.mu.Unlock()

	if err := e.svc.FlagQuestion(ctx, remote.FlagRequest{SessionID: sessionID, ItemID: itemID, Flagged: flagged}); err != nil {
		e.logger.Warn("Failed to mirror flag", "session_id", sessionID, "item_id", itemID, "flagged", flagged, "error", err)
	}
	return flagged, nil
}

// Submit completes the attempt. On success the engine is Completed and the
// result is kept for Result(); on failure nothing changes.
func (e *Engine) Submit(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.status != Active && e.status != Paused {
		e.mu.Unlock()
		return nil, ErrNotActive
	}
	if e.submitting {
		e.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	e.submitting = true
	gen := e.gen
	sessionID := e.session.ID
	e.mu.Unlock()

	comp, err := e.complete.Mutate(ctx, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if stale := e.staleLocked(gen); stale != nil {
		return nil, stale
	}
	e.submitting = false
	if err != nil {
		e.logger.Warn("Failed to complete quiz session", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("complete quiz: %w", err)
	}
	e.status = Completed
	e.result = &Result{Score: e.scoreLocked(), Server: comp}
	e.logger.Info("Quiz session completed", "session_id", sessionID,
		"answered", e.result.Score.Answered, "correct", e.result.Score.Correct, "skipped", e.result.Score.Skipped)
	res := *e.result
	return &res, nil
}

// Pause freezes the timers. Answers and navigation data are kept.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Active {
		return ErrNotActive
	}
	e.status = Paused
	return nil
}

// Resume restarts the timers after Pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Paused {
		return ErrNotActive
	}
	e.status = Active
	return nil
}

// Tick advances the current-item and session counters by one second while
// the attempt is active. It reports true on the tick that reaches the time
// limit; from then on no further answers are accepted.
func (e *Engine) Tick() (expiredNow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.status != Active || e.submitting {
		return false
	}
	e.itemSeconds++
	e.sessionSeconds++
	limit := e.session.TimeLimit
	if limit > 0 && !e.expired && time.Duration(e.sessionSeconds)*time.Second >= limit {
		e.expired = true
		return true
	}
	return false
}

// Run ticks once per second until ctx ends or the attempt is over, and
// submits automatically when the time limit elapses.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.Tick() {
				if _, err := e.Submit(ctx); err != nil && !errors.Is(err, ErrSubmitInFlight) {
					return err
				}
			}
			switch e.Status() {
			case Completed, Failed, NotStarted:
				return nil
			}
		}
	}
}

// Abandon discards the current attempt. Calls still in flight resolve but
// their results are dropped.
func (e *Engine) Abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.resetLocked()
}

// Close abandons the attempt and rejects every later call.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.gen++
	e.resetLocked()
	e.mu.Unlock()

	e.start.Close()
	e.complete.Close()
	if e.unsub != nil {
		e.unsub()
	}
}

func (e *Engine) resetLocked() {
	e.status = NotStarted
	e.startErr = nil
	e.session = nil
	e.index = make(map[string]int)
	e.cursor = 0
	e.answers = make(map[string]domain.AnswerRecord)
	e.pending = make(map[string]string)
	e.inFlight = make(map[string]bool)
	e.flags = make(map[string]bool)
	e.itemSeconds = 0
	e.sessionSeconds = 0
	e.expired = false
	e.submitting = false
	e.result = nil
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

func (e *Engine) answerableLocked(itemID string) error {
	switch {
	case e.closed:
		return ErrClosed
	case e.status == Paused:
		return ErrPaused
	case e.status != Active:
		return ErrNotActive
	case e.submitting:
		return ErrSubmitInFlight
	case e.expired:
		return ErrTimeExpired
	}
	if _, ok := e.index[itemID]; !ok {
		return ErrUnknownItem
	}
	return nil
}

func (e *Engine) navigableLocked() error {
	switch {
	case e.closed:
		return ErrClosed
	case e.status == Paused:
		return ErrPaused
	case e.status != Active:
		return ErrNotActive
	}
	return nil
}

// moveLocked places the cursor on index, clamped to the item range. Moving
// restarts the per-item timer, so revisiting an item starts from zero.
func (e *Engine) moveLocked(index int) {
	last := len(e.session.Items) - 1
	index = min(max(index, 0), last)
	if index != e.cursor {
		e.cursor = index
		e.itemSeconds = 0
		e.moves++
	}
}
