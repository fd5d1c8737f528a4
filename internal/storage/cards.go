package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/medstudy/internal/domain"
)

// CardState is a stored card: its content plus its FSRS memory state.
type CardState struct {
	Hash        string
	Deck        string
	Question    string
	Answer      string
	Context     string
	Options     []domain.Option
	Explanation string
	Stability   float64
	Difficulty  float64
	DueDate     time.Time
	LastReview  sql.NullTime
	State       int // 0: New, 1: Learning, 2: Review, 3: Relearning
	SourceID    sql.NullInt64
}

// Card returns the authored content of the stored card.
func (cs CardState) Card() domain.Card {
	return domain.Card{
		Deck:        cs.Deck,
		Question:    cs.Question,
		Answer:      cs.Answer,
		Context:     cs.Context,
		Options:     cs.Options,
		Explanation: cs.Explanation,
		Hash:        cs.Hash,
	}
}

// storedOption keeps the correct flag that domain.Option hides from JSON.
type storedOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

func encodeOptions(opts []domain.Option) (string, error) {
	stored := make([]storedOption, len(opts))
	for i, o := range opts {
		stored[i] = storedOption{ID: o.ID, Text: o.Text, Correct: o.Correct}
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOptions(s string) ([]domain.Option, error) {
	var stored []storedOption
	if err := json.Unmarshal([]byte(s), &stored); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	opts := make([]domain.Option, len(stored))
	for i, o := range stored {
		opts[i] = domain.Option{ID: o.ID, Text: o.Text, Correct: o.Correct}
	}
	return opts, nil
}

const cardColumns = `hash, deck, question, answer, context, options, explanation,
	stability, difficulty, due_date, last_review, state, source_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*CardState, error) {
	var cs CardState
	var options string
	if err := row.Scan(
		&cs.Hash,
		&cs.Deck,
		&cs.Question,
		&cs.Answer,
		&cs.Context,
		&options,
		&cs.Explanation,
		&cs.Stability,
		&cs.Difficulty,
		&cs.DueDate,
		&cs.LastReview,
		&cs.State,
		&cs.SourceID,
	); err != nil {
		return nil, err
	}
	opts, err := decodeOptions(options)
	if err != nil {
		return nil, fmt.Errorf("failed to decode options of card %s: %w", cs.Hash, err)
	}
	cs.Options = opts
	return &cs, nil
}

func scanCards(rows *sql.Rows) ([]CardState, error) {
	defer rows.Close()
	var cards []CardState
	for rows.Next() {
		cs, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, *cs)
	}
	return cards, rows.Err()
}

// InsertCard inserts a new card into the database.
// New cards are due immediately with zero stability and difficulty.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, sourceID int64) error {
	options, err := encodeOptions(card.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options of card %s: %w", card.Hash, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO cards (hash, deck, question, answer, context, options, explanation,
			stability, difficulty, due_date, state, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, 0, ?)
	`,
		card.Hash,
		card.Deck,
		card.Question,
		card.Answer,
		card.Context,
		options,
		card.Explanation,
		utc(time.Now()),
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.Hash, err)
	}
	return nil
}

// FindCardStateByHash retrieves a card from the database by its hash.
// It returns nil when there is no such card.
func (db *DB) FindCardStateByHash(ctx context.Context, hash string) (*CardState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE hash = ?`, hash)
	cs, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card state by hash %s: %w", hash, err)
	}
	return cs, nil
}

// UpdateCardState updates an existing card's FSRS state and review information.
func (db *DB) UpdateCardState(ctx context.Context, cs *CardState) error {
	return updateCardState(ctx, db.conn, cs)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateCardState(ctx context.Context, ex execer, cs *CardState) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE cards
		SET stability = ?, difficulty = ?, due_date = ?, last_review = ?, state = ?
		WHERE hash = ?
	`,
		cs.Stability,
		cs.Difficulty,
		utc(cs.DueDate),
		nullTime(cs.LastReview),
		cs.State,
		cs.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to update card state for hash %s: %w", cs.Hash, err)
	}
	return nil
}

// UpdateCardDeck moves a card to another deck, as when its file is renamed.
func (db *DB) UpdateCardDeck(ctx context.Context, hash, deck string) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE cards SET deck = ? WHERE hash = ?`, deck, hash)
	if err != nil {
		return fmt.Errorf("failed to update deck for hash %s: %w", hash, err)
	}
	return nil
}

// GetCardsBySourceID retrieves all cards associated with a specific source ID.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID int64) ([]CardState, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	return scanCards(rows)
}

// DeleteCardByHash removes a card from the database by its hash.
func (db *DB) DeleteCardByHash(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete card with hash %s: %w", hash, err)
	}
	return nil
}

// DueFilter selects due cards of one deck.
type DueFilter struct {
	Deck       string
	Now        time.Time
	Limit      int // 0 means no limit
	IncludeNew bool
	Exclude    []string // hashes to leave out
}

func (f DueFilter) where() (string, []any) {
	clause := `deck = ? AND due_date <= ?`
	args := []any{f.Deck, utc(f.Now)}
	if !f.IncludeNew {
		clause += ` AND state != 0`
	}
	for _, h := range f.Exclude {
		clause += ` AND hash != ?`
		args = append(args, h)
	}
	return clause, args
}

// DueCards returns the due cards of a deck, most overdue first.
func (db *DB) DueCards(ctx context.Context, f DueFilter) ([]CardState, error) {
	clause, args := f.where()
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE `+clause+`
		ORDER BY due_date, hash
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards for deck %s: %w", f.Deck, err)
	}
	return scanCards(rows)
}

// CountDue counts the due cards of a deck.
func (db *DB) CountDue(ctx context.Context, f DueFilter) (int, error) {
	clause, args := f.where()
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE `+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count due cards for deck %s: %w", f.Deck, err)
	}
	return n, nil
}

// QuestionCards returns the cards of scope that carry options, in authored
// order. An empty scope or "all" selects every deck; reviewedOnly keeps
// cards that have been studied at least once.
func (db *DB) QuestionCards(ctx context.Context, scope string, reviewedOnly bool) ([]CardState, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE options != '[]'`
	var args []any
	if scope != "" && scope != "all" {
		query += ` AND deck = ?`
		args = append(args, scope)
	}
	if reviewedOnly {
		query += ` AND state != 0`
	}
	query += ` ORDER BY deck, rowid`
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get question cards for scope %s: %w", scope, err)
	}
	return scanCards(rows)
}

// DeckSummary counts the cards of one deck.
type DeckSummary struct {
	Name      string
	Cards     int
	Due       int
	Questions int
}

// ListDecks returns one page of decks ordered by name, and the total number
// of decks.
func (db *DB) ListDecks(ctx context.Context, now time.Time, limit, offset int) ([]DeckSummary, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT deck) FROM cards`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count decks: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT deck,
			COUNT(*),
			SUM(CASE WHEN due_date <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN options != '[]' THEN 1 ELSE 0 END)
		FROM cards
		GROUP BY deck
		ORDER BY deck
		LIMIT ? OFFSET ?
	`, utc(now), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list decks: %w", err)
	}
	defer rows.Close()

	var decks []DeckSummary
	for rows.Next() {
		var d DeckSummary
		if err := rows.Scan(&d.Name, &d.Cards, &d.Due, &d.Questions); err != nil {
			return nil, 0, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, total, rows.Err()
}
