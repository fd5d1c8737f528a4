package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/quiz"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/study"
)

// cardView is the part of an item payload the terminal renders.
type cardView struct {
	Deck     string          `json:"deck"`
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Context  string          `json:"context"`
	Options  []domain.Option `json:"options"`
}

func decodeCard(item domain.Item) cardView {
	var v cardView
	if err := json.Unmarshal(item.Payload, &v); err != nil {
		v.Question = string(item.Payload)
	}
	return v
}

// prompt prints msg and returns the next trimmed input line. It returns
// false when stdin is closed.
func prompt(in *bufio.Scanner, msg string) (string, bool) {
	fmt.Print(msg)
	if !in.Scan() {
		return "", false
	}
	return strings.TrimSpace(in.Text()), true
}

func runReview(ctx context.Context, a *app, args []string) error {
	deck, err := deckArg("review", args)
	if err != nil {
		return err
	}

	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	if q.Len() > 0 {
		res := q.Flush(ctx)
		a.logger.Info("Flushed offline reviews", "accepted", res.Accepted, "pending", res.Retained)
	}

	e := study.New(a.svc, study.WithLogger(a.logger), study.WithSyncQueue(q), study.WithLogoutSignal(a.signal))
	defer e.Close()

	filters := remote.StudyFilters{Limit: a.cfg.Study.Limit, IncludeNew: a.cfg.Study.IncludeNew}
	if err := e.Start(ctx, deck, filters); err != nil {
		return err
	}
	fmt.Printf("%d cards due in %s.\n", e.DueCount(), deck)

	in := bufio.NewScanner(os.Stdin)
	for e.Status() == study.Reviewing {
		item, ok := e.Current()
		if !ok {
			// The next card failed to load.
			if _, ok := prompt(in, "Could not load the next card. Press Enter to retry. "); !ok {
				break
			}
			if err := e.Advance(ctx); err != nil {
				fmt.Println(err)
			}
			continue
		}

		card := decodeCard(item)
		fmt.Printf("\n[%d/%d] %s\n", e.Reviewed()+1, e.DueCount(), card.Question)
		if card.Context != "" {
			fmt.Printf("(%s)\n", card.Context)
		}
		if _, ok := prompt(in, "Press Enter to show the answer. "); !ok {
			break
		}
		if err := e.RevealAnswer(); err != nil {
			return err
		}
		fmt.Printf("%s\n", card.Answer)

		if !reviewCard(ctx, e, in) {
			break
		}
	}

	fmt.Printf("\nReviewed %d, correct %d (%.0f%%), saved offline %d.\n",
		e.Reviewed(), e.Correct(), e.Accuracy()*100, e.Deferred())

	if q.Len() > 0 {
		res := q.Flush(ctx)
		if res.Retained > 0 {
			fmt.Printf("%d reviews are still waiting to sync; run \"medstudy flush\" later.\n", res.Retained)
		}
	}
	return nil
}

// reviewCard reads a rating for the shown card until it is saved or deferred.
// It returns false when the user quits.
func reviewCard(ctx context.Context, e *study.Engine, in *bufio.Scanner) bool {
	for {
		line, ok := prompt(in, "Rate 1 Again, 2 Hard, 3 Good, 4 Easy (q to quit): ")
		if !ok || line == "q" {
			return false
		}
		n, err := strconv.Atoi(line)
		if err != nil || !domain.Rating(n).IsValid() {
			fmt.Println("Enter a number from 1 to 4.")
			continue
		}

		_, err = e.SubmitReview(ctx, domain.Rating(n))
		var rerr *study.ReviewError
		switch {
		case err == nil, errors.Is(err, study.ErrNextCard):
			return true
		case errors.As(err, &rerr):
			fmt.Printf("Could not save the review: %v\n", rerr.Err)
			choice, ok := prompt(in, "r to retry, d to save it for later: ")
			if !ok {
				return false
			}
			if choice == "d" {
				if err := e.Defer(); err != nil {
					fmt.Println(err)
				}
				return true
			}
		default:
			fmt.Println(err)
			return e.Status() == study.Reviewing
		}
	}
}

func runQuiz(ctx context.Context, a *app, args []string) error {
	scope, err := deckArg("quiz", args)
	if err != nil {
		return err
	}

	e := quiz.New(a.svc, quiz.WithLogger(a.logger), quiz.WithLogoutSignal(a.signal))
	defer e.Close()

	opts := quiz.StartOptions{
		Scope:     scope,
		Mode:      domain.QuizMode(a.cfg.Quiz.Mode),
		Count:     a.cfg.Quiz.Count,
		TimeLimit: a.cfg.Quiz.TimeLimit,
	}
	if err := e.Start(ctx, opts); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := e.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Quiz timer stopped", "error", err)
		}
	}()

	in := bufio.NewScanner(os.Stdin)
	total := len(e.Session().Items)
	for e.Status() == quiz.Active {
		item, _ := e.Current()
		card := decodeCard(item)
		flag := ""
		if e.IsFlagged(item.ID) {
			flag = " [flagged]"
		}
		fmt.Printf("\n[%d/%d]%s %s\n", item.Position, total, flag, card.Question)
		for _, o := range card.Options {
			fmt.Printf("  %s) %s\n", o.ID, o.Text)
		}
		if rec, ok := e.Answer(item.ID); ok {
			fmt.Printf("Answered: %s\n", rec.OptionID)
		}

		line, ok := prompt(in, "Option, s skip, f flag, p previous, n next, q submit: ")
		if !ok {
			break
		}
		if e.Status() != quiz.Active {
			fmt.Println("Time is up.")
			break
		}
		if err := quizCommand(ctx, e, item, line); err != nil {
			if errors.Is(err, errSubmit) {
				break
			}
			fmt.Println(err)
		}
	}

	res, ok := e.Result()
	if !ok {
		if res, err = e.Submit(ctx); err != nil {
			return err
		}
	}
	s := res.Score
	fmt.Printf("\nScore: %d/%d correct, %d wrong, %d skipped, %d flagged.\n",
		s.Correct, s.Total, s.Wrong, s.Skipped, len(s.Flagged))
	if res.Server != nil {
		fmt.Printf("Recorded by the service: %.0f%%.\n", res.Server.Percent)
	}
	return nil
}

var errSubmit = errors.New("submit")

func quizCommand(ctx context.Context, e *quiz.Engine, item domain.Item, line string) error {
	switch line {
	case "s":
		return e.Skip(item.ID)
	case "f":
		_, err := e.ToggleFlag(ctx, item.ID)
		return err
	case "p":
		return e.Previous()
	case "n":
		_, err := e.Next(ctx)
		return err
	case "q":
		return errSubmit
	}

	rec, err := e.SelectOption(ctx, item.ID, line)
	if err != nil {
		return err
	}
	if rec.IsCorrect {
		fmt.Println("Correct.")
	} else {
		fmt.Printf("Incorrect, the answer is %s.\n", rec.CorrectOptionID)
	}
	if rec.Explanation != "" {
		fmt.Println(rec.Explanation)
	}
	_, err = e.Next(ctx)
	return err
}
