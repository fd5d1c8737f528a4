// Package sync reconciles card sources with the card store.
package sync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/medstudy/internal/gitsource"
	"github.com/conorfennell/medstudy/internal/knol"
	"github.com/conorfennell/medstudy/internal/parser"
	"github.com/conorfennell/medstudy/internal/storage"
)

// Options controls a sync run.
type Options struct {
	// ReposDir holds the checkouts of git sources.
	ReposDir string
	// Progress receives git clone/pull output; nil discards it.
	Progress io.Writer
}

// Report summarises the reconciliation of one source.
type Report struct {
	SourceID int64
	Path     string
	Parsed   int
	Inserted int
	Moved    int
	Orphaned int
	Errors   []error
}

// AddSource registers a local directory or git URL. Local paths are stored
// absolute.
func AddSource(ctx context.Context, db *storage.DB, path string) (*storage.Source, error) {
	sourceType := storage.SourceTypeFor(path)
	if sourceType == storage.SourceLocal {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("source %s is not a directory", abs)
		}
		path = abs
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("Source already registered", "id", existing.ID, "path", path)
		return existing, nil
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RunSync iterates over all sources and reconciles them. A source that
// fails is logged and skipped; only a failure to list sources is returned.
func RunSync(ctx context.Context, db *storage.DB, opts Options) ([]Report, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with: medstudy add-source <path/or/url.git>")
		return nil, nil
	}

	reposDir := opts.ReposDir
	if reposDir == "" {
		reposDir = "repos"
	}

	var reports []Report
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir := source.Path
		if source.Type == storage.SourceGit {
			localRepoPath, err := gitsource.LocalPath(reposDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				continue
			}
			if err := os.MkdirAll(filepath.Dir(localRepoPath), os.ModePerm); err != nil {
				slog.Error("Failed to create repos directory", "path", localRepoPath, "error", err)
				continue
			}
			if err := gitsource.Sync(ctx, source.Path, localRepoPath, opts.Progress); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				continue
			}
			dir = localRepoPath
		}

		report, err := ReconcileDir(ctx, db, source.ID, dir)
		if err != nil {
			slog.Error("Error reconciling source", "id", source.ID, "path", dir, "error", err)
			continue
		}
		reports = append(reports, *report)
	}
	slog.Info("Sync process complete.")
	return reports, nil
}

// ReconcileDir parses every markdown file under dir, inserts cards that are
// new, moves cards whose file was renamed and deletes cards of the source
// that no longer exist.
func ReconcileDir(ctx context.Context, db *storage.DB, sourceID int64, dir string) (*Report, error) {
	report := &Report{SourceID: sourceID, Path: dir}
	found := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		fileCards, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, card := range fileCards {
			card.Hash = knol.Hash(card)
			report.Parsed++
			if found[card.Hash] {
				continue
			}
			found[card.Hash] = true

			existing, findErr := db.FindCardStateByHash(ctx, card.Hash)
			if findErr != nil {
				report.Errors = append(report.Errors, fmt.Errorf("db check for %s: %w", card.Hash, findErr))
				continue
			}
			switch {
			case existing == nil:
				slog.Debug("New card found, inserting", "hash", card.Hash, "deck", card.Deck)
				if insertErr := db.InsertCard(ctx, card, sourceID); insertErr != nil {
					report.Errors = append(report.Errors, fmt.Errorf("db insert for %s: %w", card.Hash, insertErr))
					continue
				}
				report.Inserted++
			case existing.Deck != card.Deck:
				if moveErr := db.UpdateCardDeck(ctx, card.Hash, card.Deck); moveErr != nil {
					report.Errors = append(report.Errors, fmt.Errorf("db move for %s: %w", card.Hash, moveErr))
					continue
				}
				report.Moved++
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}

	dbCards, err := db.GetCardsBySourceID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("error getting cards for source %d: %w", sourceID, err)
	}

	for _, dbCard := range dbCards {
		if found[dbCard.Hash] {
			continue
		}
		slog.Debug("Orphaned card, deleting", "hash", dbCard.Hash)
		if err := db.DeleteCardByHash(ctx, dbCard.Hash); err != nil {
			slog.Warn("Failed to delete orphaned card", "hash", dbCard.Hash, "error", err)
			continue
		}
		report.Orphaned++
	}

	if err := db.UpdateSourceLastScanned(ctx, sourceID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	slog.Info("Reconciliation complete",
		"path", dir,
		"parsed_cards", report.Parsed,
		"inserted", report.Inserted,
		"moved", report.Moved,
		"orphaned_deleted", report.Orphaned,
		"errors", len(report.Errors),
	)
	return report, nil
}
