package study

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/medstudy/internal/auth"
	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/remote/remotetest"
)

var errOffline = errors.New("offline")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingQueue struct {
	records []domain.ReviewRecord
}

func (q *recordingQueue) Enqueue(rec domain.ReviewRecord) {
	q.records = append(q.records, rec)
}

// deckFake serves a deck of n cards. Ratings other than Again are correct;
// NextDueCard walks the deck in order.
func deckFake(n int) *remotetest.Fake {
	cards := remotetest.Items("c", n)
	var mu sync.Mutex
	next := 1
	return &remotetest.Fake{
		StartStudyFunc: func(ctx context.Context, req remote.StartStudyRequest) (*remote.StudyStart, error) {
			return &remote.StudyStart{SessionID: "study-1", Cards: cards, DueCount: n}, nil
		},
		SubmitReviewFunc: func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
			return &remote.ReviewResult{IsCorrect: req.Rating != domain.Again}, nil
		},
		NextDueCardFunc: func(ctx context.Context, req remote.NextCardRequest) (*domain.Item, error) {
			mu.Lock()
			defer mu.Unlock()
			if next >= len(cards) {
				return nil, nil
			}
			c := cards[next]
			next++
			return &c, nil
		},
	}
}

func startedEngine(t *testing.T, fake *remotetest.Fake, opts ...Option) *Engine {
	t.Helper()
	e := New(fake, append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(e.Close)
	if err := e.Start(context.Background(), "cardiology", remote.StudyFilters{Limit: 20}); err != nil {
		t.Fatalf("Start returned an unexpected error: %v", err)
	}
	return e
}

func reviewCurrent(t *testing.T, e *Engine, rating domain.Rating) (domain.ReviewRecord, error) {
	t.Helper()
	if err := e.RevealAnswer(); err != nil {
		t.Fatalf("RevealAnswer returned an unexpected error: %v", err)
	}
	return e.SubmitReview(context.Background(), rating)
}

func currentID(e *Engine) string {
	c, ok := e.Current()
	if !ok {
		return ""
	}
	return c.ID
}

func TestStart(t *testing.T) {
	e := startedEngine(t, deckFake(3))
	if e.Status() != Reviewing {
		t.Fatalf("Expected reviewing, but got %v", e.Status())
	}
	if currentID(e) != "c1" || e.ShowingAnswer() || e.Reviewed() != 0 || e.Correct() != 0 {
		t.Errorf("Unexpected start state: current=%q showing=%v reviewed=%d correct=%d",
			currentID(e), e.ShowingAnswer(), e.Reviewed(), e.Correct())
	}
	if e.SessionID() != "study-1" || e.DueCount() != 3 {
		t.Errorf("Expected session study-1 with 3 due, but got %q with %d", e.SessionID(), e.DueCount())
	}
}

func TestStartWithNothingDue(t *testing.T) {
	e := startedEngine(t, deckFake(0))
	if e.Status() != Complete {
		t.Errorf("Expected complete, but got %v", e.Status())
	}
	if e.Accuracy() != 0 {
		t.Errorf("Expected accuracy 0, but got %v", e.Accuracy())
	}
}

func TestStartFailure(t *testing.T) {
	fake := &remotetest.Fake{
		StartStudyFunc: func(ctx context.Context, req remote.StartStudyRequest) (*remote.StudyStart, error) {
			return nil, errOffline
		},
	}
	e := New(fake, WithLogger(quietLogger()))
	defer e.Close()

	err := e.Start(context.Background(), "cardiology", remote.StudyFilters{})
	if !errors.Is(err, errOffline) {
		t.Fatalf("Expected the start error, but got %v", err)
	}
	if e.Status() != Idle || !errors.Is(e.StartErr(), errOffline) {
		t.Errorf("Expected idle with the error recorded, got %v / %v", e.Status(), e.StartErr())
	}
}

func TestSubmitRequiresReveal(t *testing.T) {
	fake := deckFake(3)
	e := startedEngine(t, fake)

	if _, err := e.SubmitReview(context.Background(), domain.Good); !errors.Is(err, ErrAnswerHidden) {
		t.Errorf("Expected ErrAnswerHidden, but got %v", err)
	}
	if _, err := e.SubmitReview(context.Background(), domain.Rating(7)); !errors.Is(err, domain.ErrInvalidRating) {
		t.Errorf("Expected ErrInvalidRating, but got %v", err)
	}
	if fake.Count("SubmitReview") != 0 {
		t.Errorf("Expected no review sent, but got %d", fake.Count("SubmitReview"))
	}
}

func TestThreeCardSession(t *testing.T) {
	fake := deckFake(3)
	e := startedEngine(t, fake)

	steps := []struct {
		rating   domain.Rating
		wantNext string
		accuracy float64
	}{
		{domain.Good, "c2", 1},
		{domain.Again, "c3", 0.5},
		{domain.Easy, "", 2.0 / 3.0},
	}
	for i, step := range steps {
		rec, err := reviewCurrent(t, e, step.rating)
		if err != nil {
			t.Fatalf("Review %d returned an unexpected error: %v", i+1, err)
		}
		if rec.Rating != step.rating || rec.SessionID != "study-1" {
			t.Errorf("Unexpected record %+v", rec)
		}
		if got := currentID(e); got != step.wantNext {
			t.Errorf("Review %d: expected current %q, but got %q", i+1, step.wantNext, got)
		}
		if got := e.Accuracy(); got != step.accuracy {
			t.Errorf("Review %d: expected accuracy %v, but got %v", i+1, step.accuracy, got)
		}
		if e.ShowingAnswer() {
			t.Errorf("Review %d: expected the answer hidden on the new card", i+1)
		}
	}

	if e.Status() != Complete {
		t.Errorf("Expected complete, but got %v", e.Status())
	}
	if e.Reviewed() != 3 || e.Correct() != 2 || len(e.Records()) != 3 {
		t.Errorf("Expected 3 reviewed / 2 correct, but got %d / %d", e.Reviewed(), e.Correct())
	}
}

func TestNextCardFetchedOnlyAfterSubmit(t *testing.T) {
	fake := deckFake(2)
	e := startedEngine(t, fake)

	if _, err := reviewCurrent(t, e, domain.Good); err != nil {
		t.Fatalf("Review returned an unexpected error: %v", err)
	}
	want := []string{"StartStudy", "SubmitReview", "NextDueCard"}
	got := fake.Calls()
	if len(got) != len(want) {
		t.Fatalf("Expected calls %v, but got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected calls %v, but got %v", want, got)
			break
		}
	}
}

func TestSubmitFailureDoesNotAdvance(t *testing.T) {
	fake := deckFake(3)
	e := startedEngine(t, fake)

	if _, err := reviewCurrent(t, e, domain.Good); err != nil {
		t.Fatalf("Review returned an unexpected error: %v", err)
	}

	working := fake.SubmitReviewFunc
	fake.SubmitReviewFunc = func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
		return nil, errOffline
	}
	_, err := reviewCurrent(t, e, domain.Hard)
	var reviewErr *ReviewError
	if !errors.As(err, &reviewErr) || !errors.Is(err, errOffline) {
		t.Fatalf("Expected a ReviewError wrapping the failure, but got %v", err)
	}
	if reviewErr.Record.CardID != "c2" || reviewErr.Record.Rating != domain.Hard {
		t.Errorf("Unexpected failed record %+v", reviewErr.Record)
	}
	if currentID(e) != "c2" || !e.ShowingAnswer() || e.InFlight() {
		t.Errorf("Expected to stay on c2 with the answer showing, got current=%q showing=%v",
			currentID(e), e.ShowingAnswer())
	}
	if e.Reviewed() != 1 || e.Correct() != 1 {
		t.Errorf("Expected counters unchanged at 1/1, but got %d/%d", e.Reviewed(), e.Correct())
	}
	if fake.Count("NextDueCard") != 1 {
		t.Errorf("Expected no next-card fetch after the failure, but got %d fetches", fake.Count("NextDueCard"))
	}

	fake.SubmitReviewFunc = working
	if _, err := e.SubmitReview(context.Background(), domain.Hard); err != nil {
		t.Fatalf("Retry returned an unexpected error: %v", err)
	}
	if currentID(e) != "c3" || e.Reviewed() != 2 {
		t.Errorf("Expected c3 after the retry with 2 reviewed, got %q / %d", currentID(e), e.Reviewed())
	}
}

func TestDoubleSubmitIsRejected(t *testing.T) {
	fake := deckFake(3)
	release := make(chan struct{})
	entered := make(chan struct{})
	working := fake.SubmitReviewFunc
	fake.SubmitReviewFunc = func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
		close(entered)
		<-release
		return working(ctx, req)
	}
	e := startedEngine(t, fake)
	if err := e.RevealAnswer(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitReview(context.Background(), domain.Good)
		done <- err
	}()
	<-entered

	if _, err := e.SubmitReview(context.Background(), domain.Easy); !errors.Is(err, ErrReviewInFlight) {
		t.Errorf("Expected ErrReviewInFlight, but got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("First review returned an unexpected error: %v", err)
	}

	if fake.Count("SubmitReview") != 1 || len(e.Records()) != 1 {
		t.Errorf("Expected exactly one review recorded, got %d calls and %d records",
			fake.Count("SubmitReview"), len(e.Records()))
	}
	if currentID(e) != "c2" {
		t.Errorf("Expected c2, but got %q", currentID(e))
	}
}

func TestTimeSpentIsMeasuredPerCard(t *testing.T) {
	clock := newClock()
	fake := deckFake(2)
	e := New(fake, WithLogger(quietLogger()), WithClock(clock.Now))
	defer e.Close()

	if err := e.Start(context.Background(), "cardiology", remote.StudyFilters{}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Second)
	first, err := reviewCurrent(t, e, domain.Good)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(1500 * time.Millisecond)
	second, err := reviewCurrent(t, e, domain.Good)
	if err != nil {
		t.Fatal(err)
	}

	if first.TimeSpentMs != 4000 {
		t.Errorf("Expected 4000ms on the first card, but got %d", first.TimeSpentMs)
	}
	if second.TimeSpentMs != 1500 {
		t.Errorf("Expected 1500ms on the second card, but got %d", second.TimeSpentMs)
	}
}

func TestNextCardFailureCanBeRetried(t *testing.T) {
	fake := deckFake(3)
	working := fake.NextDueCardFunc
	fake.NextDueCardFunc = func(ctx context.Context, req remote.NextCardRequest) (*domain.Item, error) {
		return nil, errOffline
	}
	e := startedEngine(t, fake)

	rec, err := reviewCurrent(t, e, domain.Good)
	if !errors.Is(err, ErrNextCard) {
		t.Fatalf("Expected ErrNextCard, but got %v", err)
	}
	if rec.CardID != "c1" || e.Reviewed() != 1 {
		t.Errorf("Expected the rating of c1 to count, got %+v reviewed=%d", rec, e.Reviewed())
	}
	if _, ok := e.Current(); ok {
		t.Error("Expected no current card while the fetch is outstanding")
	}
	if err := e.RevealAnswer(); !errors.Is(err, ErrNotReviewing) {
		t.Errorf("Expected ErrNotReviewing, but got %v", err)
	}

	fake.NextDueCardFunc = working
	if err := e.Advance(context.Background()); err != nil {
		t.Fatalf("Advance returned an unexpected error: %v", err)
	}
	if currentID(e) != "c2" {
		t.Errorf("Expected c2, but got %q", currentID(e))
	}
}

func TestDefer(t *testing.T) {
	fake := deckFake(3)
	fake.SubmitReviewFunc = func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
		return nil, errOffline
	}
	queue := &recordingQueue{}
	e := startedEngine(t, fake, WithSyncQueue(queue))

	if err := e.Defer(); !errors.Is(err, ErrNothingToDefer) {
		t.Errorf("Expected ErrNothingToDefer, but got %v", err)
	}

	for _, want := range []string{"c2", "c3", ""} {
		if _, err := reviewCurrent(t, e, domain.Good); err == nil {
			t.Fatal("Expected the review to fail")
		}
		if err := e.Defer(); err != nil {
			t.Fatalf("Defer returned an unexpected error: %v", err)
		}
		if got := currentID(e); got != want {
			t.Errorf("Expected current %q after deferring, but got %q", want, got)
		}
	}

	if e.Status() != Complete {
		t.Errorf("Expected complete, but got %v", e.Status())
	}
	if len(queue.records) != 3 || e.Deferred() != 3 || e.Reviewed() != 0 {
		t.Errorf("Expected 3 deferred and none reviewed, got queue=%d deferred=%d reviewed=%d",
			len(queue.records), e.Deferred(), e.Reviewed())
	}
	if queue.records[0].CardID != "c1" || queue.records[2].CardID != "c3" {
		t.Errorf("Unexpected queued records %+v", queue.records)
	}
	if fake.Count("NextDueCard") != 0 {
		t.Errorf("Expected no server fetch while deferring, but got %d", fake.Count("NextDueCard"))
	}
}

func TestDeferWithoutQueue(t *testing.T) {
	e := startedEngine(t, deckFake(1))
	if err := e.Defer(); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Expected ErrNoQueue, but got %v", err)
	}
}

func TestEndDropsLateResult(t *testing.T) {
	fake := deckFake(3)
	release := make(chan struct{})
	entered := make(chan struct{})
	working := fake.SubmitReviewFunc
	fake.SubmitReviewFunc = func(ctx context.Context, req remote.ReviewRequest) (*remote.ReviewResult, error) {
		close(entered)
		<-release
		return working(ctx, req)
	}
	signal := auth.NewSignal()
	e := startedEngine(t, fake, WithLogoutSignal(signal))
	if err := e.RevealAnswer(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitReview(context.Background(), domain.Good)
		done <- err
	}()
	<-entered
	signal.Publish()
	close(release)

	if err := <-done; !errors.Is(err, ErrAbandoned) {
		t.Errorf("Expected ErrAbandoned, but got %v", err)
	}
	if e.Status() != Idle || e.Reviewed() != 0 {
		t.Errorf("Expected a discarded session, got %v with %d reviewed", e.Status(), e.Reviewed())
	}
	if fake.Count("NextDueCard") != 0 {
		t.Errorf("Expected no next-card fetch, but got %d", fake.Count("NextDueCard"))
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		correct, reviewed int
		want              float64
	}{
		{0, 0, 0},
		{1, 1, 1},
		{1, 2, 0.5},
		{3, 4, 0.75},
	}
	for _, tt := range tests {
		if got := Accuracy(tt.correct, tt.reviewed); got != tt.want {
			t.Errorf("Accuracy(%d, %d): expected %v, but got %v", tt.correct, tt.reviewed, tt.want, got)
		}
	}
}
