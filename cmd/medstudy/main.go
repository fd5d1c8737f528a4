package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/medstudy/internal/auth"
	"github.com/conorfennell/medstudy/internal/config"
	"github.com/conorfennell/medstudy/internal/localsvc"
	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/request"
	"github.com/conorfennell/medstudy/internal/storage"
	"github.com/conorfennell/medstudy/internal/sync"
	"github.com/conorfennell/medstudy/internal/syncqueue"
	"github.com/conorfennell/medstudy/internal/web"
)

const usage = `Usage: medstudy <command> [flags] [args]

Commands:
  serve               Serve the session API over the local database
  add-source <path>   Register a card directory or git repository
  sync                Scan every source and reconcile cards
  decks               List decks with due counts
  review <deck>       Study due flashcards of a deck
  quiz <scope>        Take a multiple-choice quiz ("all" for every deck)
  flush               Send reviews saved while offline

Run "medstudy <command> --help" for flags.
`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"serve":      runServe,
	"add-source": runAddSource,
	"sync":       runSync,
	"decks":      runDecks,
	"review":     runReview,
	"quiz":       runQuiz,
	"flush":      runFlush,
}

// app carries what every command needs once config is loaded.
type app struct {
	cfg    *config.Config
	db     *storage.DB
	logger *slog.Logger
	signal *auth.Signal
	svc    remote.Service
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	fs := config.Flags(name)
	if err := fs.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, name, cmd, fs); err != nil {
		fmt.Fprintf(os.Stderr, "medstudy %s: %v\n", name, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, name string, cmd command, fs *pflag.FlagSet) error {
	// 1. Load config
	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	// 2. Open the database
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Debug("Database opened", "path", cfg.DB, "command", name)

	// 3. Pick the session service
	a := &app{cfg: cfg, db: db, logger: logger, signal: auth.NewSignal()}
	if cfg.Remote.URL != "" {
		a.svc = remote.NewClient(cfg.Remote.URL,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
			remote.WithTokenProvider(auth.StaticToken(cfg.Remote.Token)),
			remote.WithAuthSignal(a.signal),
			remote.WithLogger(logger),
			remote.WithRetry(cfg.Remote.MaxRetries, 250*time.Millisecond, 5*time.Second),
		)
	} else {
		a.svc = localsvc.New(db, localsvc.WithLogger(logger))
	}
	a.signal.Subscribe(func() {
		logger.Error("Session service rejected the token; sign in again and retry")
	})

	return cmd(ctx, a, fs.Args())
}

// queue returns the offline review queue restored from the database.
func (a *app) queue(ctx context.Context) (*syncqueue.Queue, error) {
	q := syncqueue.New(a.svc, syncqueue.WithStore(a.db), syncqueue.WithLogger(a.logger))
	if err := q.Load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (a *app) syncOptions() sync.Options {
	return sync.Options{ReposDir: a.cfg.ReposDir, Progress: os.Stderr}
}

func runServe(ctx context.Context, a *app, _ []string) error {
	if a.cfg.Remote.URL != "" {
		return errors.New("serve uses the local database; unset remote.url")
	}
	srv := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: web.NewServer(a.svc,
			web.WithToken(a.cfg.Server.Token),
			web.WithLogger(a.logger),
			web.WithSources(a.db, a.syncOptions()),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", "addr", srv.Addr, "auth", a.cfg.Server.Token != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}

func runAddSource(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("add-source takes exactly one path or git URL")
	}
	src, err := sync.AddSource(ctx, a.db, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Source %d: %s (%s)\n", src.ID, src.Path, src.Type)
	return nil
}

func runSync(ctx context.Context, a *app, _ []string) error {
	reports, err := sync.RunSync(ctx, a.db, a.syncOptions())
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Printf("%s: %d parsed, %d new, %d moved, %d removed, %d errors\n",
			r.Path, r.Parsed, r.Inserted, r.Moved, r.Orphaned, len(r.Errors))
		for _, e := range r.Errors {
			fmt.Printf("  - %v\n", e)
		}
	}
	return nil
}

func runDecks(ctx context.Context, a *app, _ []string) error {
	pager := request.NewPager(a.svc.ListDecks, 20)
	defer pager.Close()

	for state := pager.Execute(ctx); ; state = pager.SetPage(ctx, pager.Page()+1) {
		if state.Err != nil {
			return state.Err
		}
		for _, d := range state.Data.Items {
			fmt.Printf("%-30s %5d cards %5d due %5d questions\n", d.Name, d.Cards, d.Due, d.Questions)
		}
		if pager.Page() >= pager.TotalPages() {
			return nil
		}
	}
}

func runFlush(ctx context.Context, a *app, _ []string) error {
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}
	if q.Len() == 0 {
		fmt.Println("No pending reviews.")
		return nil
	}
	res := q.Flush(ctx)
	fmt.Printf("Sent %d, accepted %d, still pending %d.\n", res.Sent, res.Accepted, res.Retained)
	return res.Err
}

func deckArg(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s takes exactly one deck name", cmd)
	}
	return args[0], nil
}
