// Package syncqueue holds flashcard ratings the session service could not
// confirm and resubmits them in batches.
//
// The queue absorbs failures: Flush never returns an error. What happened is
// visible through Len, Pending and Err.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/remote"
)

// ErrRejected is wrapped by Err when the service refused some entries.
var ErrRejected = errors.New("syncqueue: reviews rejected")

// Entry is one pending rating.
type Entry struct {
	ID       uuid.UUID           `json:"id"`
	Record   domain.ReviewRecord `json:"record"`
	QueuedAt time.Time           `json:"queued_at"`
	Attempts int                 `json:"attempts"`
}

// Submitter sends a batch of ratings. remote.Service satisfies it.
type Submitter interface {
	SubmitBulkReviews(ctx context.Context, reqs []remote.ReviewRequest) (*remote.BulkReviewResult, error)
}

// Store persists the pending list across restarts.
type Store interface {
	LoadPending(ctx context.Context) ([]Entry, error)
	SavePending(ctx context.Context, entries []Entry) error
}

// FlushResult summarises one Flush call.
type FlushResult struct {
	// Skipped is set when nothing was sent: the list was empty or another
	// flush was already running.
	Skipped  bool
	Sent     int
	Accepted int
	Retained int
	Err      error
}

// Option configures a Queue.
type Option func(*Queue)

// WithStore persists every change of the pending list to s.
func WithStore(s Store) Option {
	return func(q *Queue) { q.store = s }
}

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is safe for concurrent use. Enqueue may be called from any number
// of study sessions; flushes are serialised.
type Queue struct {
	svc    Submitter
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	entries  []Entry
	flushing bool
	err      error
}

// New creates an empty queue that submits through svc.
func New(svc Submitter, opts ...Option) *Queue {
	q := &Queue{
		svc:    svc,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the in-memory list with the store's contents.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	entries, err := q.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending reviews: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(entries, q.entries...)
	q.logger.Info("Loaded pending reviews", "count", len(entries))
	return nil
}

// Enqueue appends rec. Ratings are never merged, even for the same card.
func (q *Queue) Enqueue(rec domain.ReviewRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := Entry{ID: uuid.New(), Record: rec, QueuedAt: q.now()}
	q.entries = append(q.entries, e)
	q.logger.Debug("Queued review", "entry_id", e.ID, "card_id", rec.CardID, "pending", len(q.entries))
	q.persistLocked()
}

// Flush submits every pending entry as one batch. Entries the service
// accepts are dropped; entries it rejects stay queued, as does everything
// when the call itself fails. A Flush issued while another is running
// returns at once without sending anything.
func (q *Queue) Flush(ctx context.Context) FlushResult {
	q.mu.Lock()
	if q.flushing || len(q.entries) == 0 {
		q.mu.Unlock()
		return FlushResult{Skipped: true}
	}
	q.flushing = true
	batch := append([]Entry(nil), q.entries...)
	q.mu.Unlock()

	reqs := make([]remote.ReviewRequest, len(batch))
	for i, e := range batch {
		reqs[i] = remote.ReviewRequestFrom(e.Record)
	}
	res, err := q.svc.SubmitBulkReviews(ctx, reqs)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushing = false

	sent := make(map[uuid.UUID]bool, len(batch))
	for _, e := range batch {
		sent[e.ID] = true
	}

	if err != nil {
		q.err = err
		q.bumpAttemptsLocked(sent)
		q.persistLocked()
		q.logger.Warn("Failed to flush pending reviews", "count", len(batch), "error", err)
		return FlushResult{Sent: len(batch), Retained: len(batch), Err: err}
	}

	accepted := acceptedEntries(batch, res)
	kept := q.entries[:0:0]
	dropped := 0
	for _, e := range q.entries {
		if accepted[e.ID] {
			dropped++
			continue
		}
		if sent[e.ID] {
			e.Attempts++
		}
		kept = append(kept, e)
	}
	q.entries = kept

	result := FlushResult{Sent: len(batch), Accepted: dropped, Retained: len(batch) - dropped}
	if result.Retained > 0 {
		q.err = fmt.Errorf("%w: %d of %d", ErrRejected, result.Retained, len(batch))
		result.Err = q.err
	} else {
		q.err = nil
	}
	q.persistLocked()
	q.logger.Info("Flushed pending reviews", "sent", result.Sent, "accepted", result.Accepted, "retained", result.Retained)
	return result
}

// acceptedEntries returns the ids of batch entries the service accepted.
// Statuses that line up with the batch are matched by position, so two
// ratings of one card can settle differently. Otherwise they are matched by
// card id and a card with any rejected status stays queued.
func acceptedEntries(batch []Entry, res *remote.BulkReviewResult) map[uuid.UUID]bool {
	ok := make(map[uuid.UUID]bool, len(batch))
	if res == nil {
		return ok
	}
	if aligned(batch, res.Results) {
		for i, st := range res.Results {
			if st.OK {
				ok[batch[i].ID] = true
			}
		}
		return ok
	}

	accepted := make(map[string]bool)
	rejected := make(map[string]bool)
	for _, st := range res.Results {
		if st.OK {
			accepted[st.CardID] = true
		} else {
			rejected[st.CardID] = true
		}
	}
	for _, e := range batch {
		if accepted[e.Record.CardID] && !rejected[e.Record.CardID] {
			ok[e.ID] = true
		}
	}
	return ok
}

func aligned(batch []Entry, results []remote.ItemStatus) bool {
	if len(batch) != len(results) {
		return false
	}
	for i, st := range results {
		if st.CardID != batch[i].Record.CardID {
			return false
		}
	}
	return true
}

func (q *Queue) bumpAttemptsLocked(sent map[uuid.UUID]bool) {
	for i := range q.entries {
		if sent[q.entries[i].ID] {
			q.entries[i].Attempts++
		}
	}
}

// ClearPending discards every entry. It is meant for a deliberate reset by
// the user, not for normal operation.
func (q *Queue) ClearPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	q.err = nil
	q.persistLocked()
	q.logger.Info("Cleared pending reviews", "count", n)
}

// Pending returns a copy of the pending list in queue order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Err returns the outcome of the last flush that sent something: nil when
// everything was accepted.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Flushing reports whether a flush is in progress.
func (q *Queue) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushing
}

// Run flushes every interval until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Flush(ctx)
		}
	}
}

func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	if err := q.store.SavePending(context.Background(), q.entries); err != nil {
		q.logger.Error("Failed to persist pending reviews", "count", len(q.entries), "error", err)
	}
}
