package quiz

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

// newFake serves n questions whose correct option is always "a".
func newFake(n int) *remotetest.Fake {
	return &remotetest.Fake{
		StartQuizFunc: func(ctx context.Context, req remote.StartQuizRequest) (*remote.QuizStart, error) {
			return &remote.QuizStart{SessionID: "quiz-1", Items: remotetest.Items("q", n)}, nil
		},
		SubmitAnswerFunc: func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
			return &remote.AnswerResult{IsCorrect: req.OptionID == "a", CorrectOptionID: "a"}, nil
		},
		CompleteQuizFunc: func(ctx context.Context, sessionID string) (*remote.QuizCompletion, error) {
			return &remote.QuizCompletion{Total: n}, nil
		},
	}
}

func startedEngine(t *testing.T, fake *remotetest.Fake, opts StartOptions) *Engine {
	t.Helper()
	e := New(fake, WithLogger(quietLogger()))
	t.Cleanup(e.Close)
	if opts.Scope == "" {
		opts = StartOptions{Scope: "cardiology", Mode: domain.ModeStandard, Count: 5}
	}
	if err := e.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start returned an unexpected error: %v", err)
	}
	return e
}

func TestStart(t *testing.T) {
	e := startedEngine(t, newFake(5), StartOptions{})
	if e.Status() != Active {
		t.Fatalf("Expected active, but got %v", e.Status())
	}
	if e.Cursor() != 0 || e.AnsweredCount() != 0 || e.ElapsedSeconds() != 0 || len(e.Flags()) != 0 {
		t.Errorf("Expected a fresh session, got cursor=%d answered=%d elapsed=%d flags=%v",
			e.Cursor(), e.AnsweredCount(), e.ElapsedSeconds(), e.Flags())
	}
	if s := e.Session(); s == nil || s.ID != "quiz-1" || len(s.Items) != 5 {
		t.Errorf("Unexpected session %+v", s)
	}
}

func TestStartWithNoItemsIsTerminal(t *testing.T) {
	fake := newFake(0)
	e := New(fake, WithLogger(quietLogger()))
	defer e.Close()

	err := e.Start(context.Background(), StartOptions{Scope: "empty", Mode: domain.ModeRandom, Count: 5})
	var startErr *SessionStartError
	if !errors.As(err, &startErr) || !errors.Is(err, ErrNoItems) {
		t.Fatalf("Expected a SessionStartError wrapping ErrNoItems, but got %v", err)
	}
	if e.Status() != Failed {
		t.Errorf("Expected failed status, but got %v", e.Status())
	}
}

func TestStartTransientFailure(t *testing.T) {
	fake := newFake(3)
	fake.StartQuizFunc = func(ctx context.Context, req remote.StartQuizRequest) (*remote.QuizStart, error) {
		return nil, remote.ErrTransport
	}
	e := New(fake, WithLogger(quietLogger()))
	defer e.Close()

	err := e.Start(context.Background(), StartOptions{Scope: "renal", Mode: domain.ModeStandard, Count: 3})
	if !errors.Is(err, remote.ErrTransport) {
		t.Fatalf("Expected a transport error, but got %v", err)
	}
	var startErr *SessionStartError
	if errors.As(err, &startErr) {
		t.Error("A transient failure must not be reported as a SessionStartError")
	}
	if e.Status() != NotStarted {
		t.Errorf("Expected not_started after a transient failure, but got %v", e.Status())
	}
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	fake := newFake(3)
	e := New(fake, WithLogger(quietLogger()))
	defer e.Close()

	err := e.Start(context.Background(), StartOptions{Scope: "renal", Mode: "marathon", Count: 3})
	if !errors.Is(err, remote.ErrValidation) {
		t.Errorf("Expected ErrValidation, but got %v", err)
	}
	if fake.Count("StartQuiz") != 0 {
		t.Error("Expected no call to the service for invalid options")
	}
}

func TestSelectOption(t *testing.T) {
	e := startedEngine(t, newFake(3), StartOptions{})

	rec, err := e.SelectOption(context.Background(), "q1", "a")
	if err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if !rec.IsCorrect || rec.CorrectOptionID != "a" {
		t.Errorf("Unexpected record %+v", rec)
	}

	// Answering again overwrites.
	if _, err := e.SelectOption(context.Background(), "q1", "b"); err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if e.AnsweredCount() != 1 {
		t.Errorf("Expected one answer record per item, but got %d", e.AnsweredCount())
	}
	if got, _ := e.Answer("q1"); got.OptionID != "b" || got.IsCorrect {
		t.Errorf("Expected the second answer to replace the first, got %+v", got)
	}

	if _, err := e.SelectOption(context.Background(), "nope", "a"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("Expected ErrUnknownItem, but got %v", err)
	}
}

func TestSelectOptionInFlightGuard(t *testing.T) {
	fake := newFake(3)
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.SubmitAnswerFunc = func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
		close(entered)
		<-release
		return &remote.AnswerResult{IsCorrect: true, CorrectOptionID: "a"}, nil
	}
	e := startedEngine(t, fake, StartOptions{})

	done := make(chan error)
	go func() {
		_, err := e.SelectOption(context.Background(), "q1", "a")
		done <- err
	}()
	<-entered

	if opt, ok := e.Pending("q1"); !ok || opt != "a" {
		t.Errorf("Expected a tentative selection while in flight, got %q %v", opt, ok)
	}
	if _, err := e.SelectOption(context.Background(), "q1", "b"); !errors.Is(err, ErrAnswerInFlight) {
		t.Errorf("Expected ErrAnswerInFlight, but got %v", err)
	}
	if opt, _ := e.Pending("q1"); opt != "a" {
		t.Errorf("Expected the overlapping call to change nothing, pending is %q", opt)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if _, ok := e.Pending("q1"); ok {
		t.Error("Expected the tentative selection to be replaced by the confirmed record")
	}
	if fake.Count("SubmitAnswer") != 1 {
		t.Errorf("Expected a single submission, but got %d", fake.Count("SubmitAnswer"))
	}
}

func TestSelectOptionFailureRollsBack(t *testing.T) {
	fake := newFake(3)
	fake.SubmitAnswerFunc = func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
		return nil, errOffline
	}
	e := startedEngine(t, fake, StartOptions{})

	if _, err := e.SelectOption(context.Background(), "q2", "a"); !errors.Is(err, errOffline) {
		t.Fatalf("Expected the failure to be surfaced, but got %v", err)
	}
	if _, ok := e.Answer("q2"); ok {
		t.Error("Expected no answer record after a failed submission")
	}
	if _, ok := e.Pending("q2"); ok {
		t.Error("Expected the tentative selection to be discarded")
	}
	if e.AnsweredCount() != 0 {
		t.Errorf("Expected 0 answered, but got %d", e.AnsweredCount())
	}
}

func TestNavigation(t *testing.T) {
	fake := newFake(3)
	e := startedEngine(t, fake, StartOptions{})

	if err := e.Previous(); err != nil || e.Cursor() != 0 {
		t.Errorf("Expected Previous on the first item to stay at 0, got %d (%v)", e.Cursor(), err)
	}
	for want := 1; want <= 2; want++ {
		res, err := e.Next(context.Background())
		if err != nil || res != nil {
			t.Fatalf("Expected Next to move, got %v %v", res, err)
		}
		if e.Cursor() != want {
			t.Errorf("Expected cursor %d, but got %d", want, e.Cursor())
		}
	}

	res, err := e.Next(context.Background())
	if err != nil {
		t.Fatalf("Next on the last item returned an unexpected error: %v", err)
	}
	if res == nil || e.Status() != Completed {
		t.Errorf("Expected Next on the last item to submit, got result=%v status=%v", res, e.Status())
	}
	if fake.Count("CompleteQuiz") != 1 {
		t.Errorf("Expected one completion call, but got %d", fake.Count("CompleteQuiz"))
	}
}

func TestToggleFlag(t *testing.T) {
	fake := newFake(3)
	fake.FlagQuestionFunc = func(ctx context.Context, req remote.FlagRequest) error {
		return errOffline
	}
	e := startedEngine(t, fake, StartOptions{})

	flagged, err := e.ToggleFlag(context.Background(), "q2")
	if err != nil || !flagged {
		t.Fatalf("Expected the flag to be set, got %v %v", flagged, err)
	}
	if !e.IsFlagged("q2") {
		t.Error("Expected the flag to survive a failed mirror")
	}

	if err := e.GoTo(2); err != nil {
		t.Fatalf("GoTo returned an unexpected error: %v", err)
	}
	if !e.IsFlagged("q2") {
		t.Error("Expected the flag to survive navigation")
	}

	flagged, _ = e.ToggleFlag(context.Background(), "q2")
	if flagged || e.IsFlagged("q2") || len(e.Flags()) != 0 {
		t.Errorf("Expected a double toggle to restore the original membership, flags=%v", e.Flags())
	}
	if fake.Count("FlagQuestion") != 2 {
		t.Errorf("Expected every toggle to be mirrored, got %d", fake.Count("FlagQuestion"))
	}
}

func TestFiveItemScenario(t *testing.T) {
	e := startedEngine(t, newFake(5), StartOptions{})
	ctx := context.Background()

	for _, id := range []string{"q1", "q2", "q4"} {
		if _, err := e.SelectOption(ctx, id, "a"); err != nil {
			t.Fatalf("SelectOption(%s) returned an unexpected error: %v", id, err)
		}
		if e.AnsweredCount() != len(e.Answers()) {
			t.Fatalf("answeredCount drifted from the record map")
		}
	}
	if _, err := e.ToggleFlag(ctx, "q3"); err != nil {
		t.Fatalf("ToggleFlag returned an unexpected error: %v", err)
	}

	res, err := e.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit returned an unexpected error: %v", err)
	}
	s := res.Score
	if s.Answered != 3 || s.Skipped != 2 {
		t.Errorf("Expected answered=3 skipped=2, but got answered=%d skipped=%d", s.Answered, s.Skipped)
	}
	if s.Correct+s.Wrong+s.Skipped != s.Total || s.Total != 5 {
		t.Errorf("Expected correct+wrong+skipped == total == 5, got %+v", s)
	}
	if len(s.Flagged) != 1 || s.Flagged[0] != "q3" {
		t.Errorf("Expected flagged={q3}, but got %v", s.Flagged)
	}
	if e.Status() != Completed {
		t.Errorf("Expected completed, but got %v", e.Status())
	}
	if _, err := e.SelectOption(ctx, "q5", "a"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected answers to be rejected after completion, got %v", err)
	}
}

func TestSubmitFailureKeepsSession(t *testing.T) {
	fake := newFake(2)
	fake.CompleteQuizFunc = func(ctx context.Context, sessionID string) (*remote.QuizCompletion, error) {
		return nil, errOffline
	}
	e := startedEngine(t, fake, StartOptions{})

	if _, err := e.Submit(context.Background()); !errors.Is(err, errOffline) {
		t.Fatalf("Expected the failure to be surfaced, but got %v", err)
	}
	if e.Status() != Active {
		t.Errorf("Expected the session to stay active, but got %v", e.Status())
	}
}

func TestTimers(t *testing.T) {
	var gotSpent []int
	fake := newFake(3)
	fake.SubmitAnswerFunc = func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
		gotSpent = append(gotSpent, req.TimeSpentSeconds)
		return &remote.AnswerResult{IsCorrect: true}, nil
	}
	e := startedEngine(t, fake, StartOptions{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		e.Tick()
	}
	if _, err := e.SelectOption(ctx, "q1", "a"); err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if e.ItemSeconds() != 0 {
		t.Errorf("Expected the item timer to reset after an answer, got %d", e.ItemSeconds())
	}

	e.Tick()
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause returned an unexpected error: %v", err)
	}
	e.Tick()
	e.Tick()
	if e.ElapsedSeconds() != 5 {
		t.Errorf("Expected paused ticks to be ignored, elapsed=%d", e.ElapsedSeconds())
	}
	if _, err := e.SelectOption(ctx, "q2", "a"); !errors.Is(err, ErrPaused) {
		t.Errorf("Expected ErrPaused, but got %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume returned an unexpected error: %v", err)
	}

	e.Tick()
	if _, err := e.Next(ctx); err != nil {
		t.Fatalf("Next returned an unexpected error: %v", err)
	}
	e.Tick()
	if _, err := e.SelectOption(ctx, "q2", "a"); err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}

	if len(gotSpent) != 2 || gotSpent[0] != 4 || gotSpent[1] != 1 {
		t.Errorf("Expected time spent [4 1], but got %v", gotSpent)
	}
	if e.ElapsedSeconds() != 7 {
		t.Errorf("Expected 7 seconds of session time, but got %d", e.ElapsedSeconds())
	}
}

func TestTimeLimit(t *testing.T) {
	e := startedEngine(t, newFake(2), StartOptions{Scope: "neuro", Mode: domain.ModeTimed, Count: 2, TimeLimit: 3 * time.Second})

	if e.Tick() || e.Tick() {
		t.Fatal("Expected no expiry before the limit")
	}
	if !e.Tick() {
		t.Fatal("Expected the third tick to reach the limit")
	}
	if _, err := e.SelectOption(context.Background(), "q1", "a"); !errors.Is(err, ErrTimeExpired) {
		t.Errorf("Expected ErrTimeExpired, but got %v", err)
	}
	if _, err := e.Submit(context.Background()); err != nil {
		t.Errorf("Expected submission to remain possible after expiry, got %v", err)
	}
}

func TestAbandonDropsLateAnswer(t *testing.T) {
	fake := newFake(3)
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.SubmitAnswerFunc = func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
		close(entered)
		<-release
		return &remote.AnswerResult{IsCorrect: true}, nil
	}
	signal := auth.NewSignal()
	e := New(fake, WithLogger(quietLogger()), WithLogoutSignal(signal))
	defer e.Close()
	if err := e.Start(context.Background(), StartOptions{Scope: "gi", Mode: domain.ModeStandard, Count: 3}); err != nil {
		t.Fatalf("Start returned an unexpected error: %v", err)
	}

	done := make(chan error)
	go func() {
		_, err := e.SelectOption(context.Background(), "q1", "a")
		done <- err
	}()
	<-entered
	signal.Publish()
	close(release)

	if err := <-done; !errors.Is(err, ErrAbandoned) {
		t.Errorf("Expected ErrAbandoned for a result arriving after logout, got %v", err)
	}
	if e.Status() != NotStarted || e.AnsweredCount() != 0 {
		t.Errorf("Expected the session to be discarded, status=%v answered=%d", e.Status(), e.AnsweredCount())
	}
}

func TestSkipIsLocal(t *testing.T) {
	fake := newFake(5)
	e := startedEngine(t, fake, StartOptions{})
	ctx := context.Background()

	steps := []struct {
		item string
		skip bool
	}{
		{"q1", false},
		{"q2", false},
		{"q3", true},
		{"q4", false},
		{"q5", true},
	}
	for _, step := range steps {
		if step.skip {
			if err := e.Skip(step.item); err != nil {
				t.Fatalf("Skip(%s) returned an unexpected error: %v", step.item, err)
			}
			continue
		}
		if _, err := e.SelectOption(ctx, step.item, "a"); err != nil {
			t.Fatalf("SelectOption(%s) returned an unexpected error: %v", step.item, err)
		}
		if _, err := e.Next(ctx); err != nil {
			t.Fatalf("Next returned an unexpected error: %v", err)
		}
	}
	if e.Cursor() != 4 {
		t.Errorf("Expected the cursor to stay on the last item, but got %d", e.Cursor())
	}
	if fake.Count("SubmitAnswer") != 3 {
		t.Errorf("Expected skipped items not to be submitted, but got %d submissions", fake.Count("SubmitAnswer"))
	}
	if e.AnsweredCount() != len(e.Answers()) || e.Skipped() != 2 {
		t.Errorf("Expected 3 answered and 2 skipped, got %d and %d", e.AnsweredCount(), e.Skipped())
	}

	res, err := e.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit returned an unexpected error: %v", err)
	}
	s := res.Score
	if s.Answered != 3 || s.Skipped != 2 || s.Correct != 3 || s.Wrong != 0 {
		t.Errorf("Expected answered=3 skipped=2 correct=3 wrong=0, but got %+v", s)
	}
}

func TestSkipDiscardsEarlierAnswer(t *testing.T) {
	e := startedEngine(t, newFake(3), StartOptions{})

	if _, err := e.SelectOption(context.Background(), "q1", "b"); err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if err := e.Skip("q1"); err != nil {
		t.Fatalf("Skip returned an unexpected error: %v", err)
	}
	if _, ok := e.Answer("q1"); ok {
		t.Error("Expected the earlier answer to be discarded")
	}
	if e.Cursor() != 1 {
		t.Errorf("Expected the cursor to move past the skipped item, but got %d", e.Cursor())
	}
	if err := e.Skip("q9"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("Expected ErrUnknownItem, but got %v", err)
	}
}

func TestItemTimerSurvivesMoveDuringAnswer(t *testing.T) {
	fake := newFake(3)
	entered := make(chan struct{})
	release := make(chan struct{})
	var spent []int
	fake.SubmitAnswerFunc = func(ctx context.Context, req remote.AnswerRequest) (*remote.AnswerResult, error) {
		spent = append(spent, req.TimeSpentSeconds)
		if req.ItemID == "q1" {
			close(entered)
			<-release
		}
		return &remote.AnswerResult{IsCorrect: true}, nil
	}
	e := startedEngine(t, fake, StartOptions{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e.Tick()
	}
	done := make(chan error)
	go func() {
		_, err := e.SelectOption(ctx, "q1", "a")
		done <- err
	}()
	<-entered

	if err := e.GoTo(1); err != nil {
		t.Fatalf("GoTo returned an unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.Tick()
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if e.ItemSeconds() != 3 {
		t.Errorf("Expected the new item to keep 3 seconds, but got %d", e.ItemSeconds())
	}

	// Answering an item that is not under the cursor reports no time and
	// leaves the current item's timer alone.
	if _, err := e.SelectOption(ctx, "q3", "a"); err != nil {
		t.Fatalf("SelectOption returned an unexpected error: %v", err)
	}
	if e.ItemSeconds() != 3 {
		t.Errorf("Expected the current timer to stay at 3, but got %d", e.ItemSeconds())
	}
	if len(spent) != 2 || spent[0] != 10 || spent[1] != 0 {
		t.Errorf("Expected time spent [10 0], but got %v", spent)
	}
}
