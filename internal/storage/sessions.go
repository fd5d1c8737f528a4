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

// QuizSession is a started quiz.
type QuizSession struct {
	ID               string
	Scope            string
	Mode             string
	TimeLimitSeconds int
	StartedAt        time.Time
	CompletedAt      sql.NullTime
}

// QuizItem is one served question, snapshotted at start.
type QuizItem struct {
	SessionID     string
	ItemID        string
	Position      int
	Payload       json.RawMessage
	CorrectOption string
	Explanation   string
	Flagged       bool
}

// QuizAnswer is the latest answer to one item.
type QuizAnswer struct {
	SessionID        string
	ItemID           string
	OptionID         string
	IsCorrect        bool
	TimeSpentSeconds int
	AnsweredAt       time.Time
}

// CreateQuizSession stores a session and its items atomically.
func (db *DB) CreateQuizSession(ctx context.Context, s QuizSession, items []QuizItem) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quiz_sessions (id, scope, mode, time_limit_seconds, started_at)
			VALUES (?, ?, ?, ?, ?)
		`, s.ID, s.Scope, s.Mode, s.TimeLimitSeconds, utc(s.StartedAt)); err != nil {
			return fmt.Errorf("failed to insert quiz session %s: %w", s.ID, err)
		}
		for _, it := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quiz_items (session_id, item_id, position, payload, correct_option, explanation)
				VALUES (?, ?, ?, ?, ?, ?)
			`, s.ID, it.ItemID, it.Position, string(it.Payload), it.CorrectOption, it.Explanation); err != nil {
				return fmt.Errorf("failed to insert quiz item %s of session %s: %w", it.ItemID, s.ID, err)
			}
		}
		return nil
	})
}

// FindQuizSession returns nil when there is no such session.
func (db *DB) FindQuizSession(ctx context.Context, id string) (*QuizSession, error) {
	var s QuizSession
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, scope, mode, time_limit_seconds, started_at, completed_at
		FROM quiz_sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Scope, &s.Mode, &s.TimeLimitSeconds, &s.StartedAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find quiz session %s: %w", id, err)
	}
	return &s, nil
}

// FindQuizItem returns nil when the item is not part of the session.
func (db *DB) FindQuizItem(ctx context.Context, sessionID, itemID string) (*QuizItem, error) {
	var it QuizItem
	var payload string
	err := db.conn.QueryRowContext(ctx, `
		SELECT session_id, item_id, position, payload, correct_option, explanation, flagged
		FROM quiz_items WHERE session_id = ? AND item_id = ?
	`, sessionID, itemID).Scan(&it.SessionID, &it.ItemID, &it.Position, &payload, &it.CorrectOption, &it.Explanation, &it.Flagged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find quiz item %s of session %s: %w", itemID, sessionID, err)
	}
	it.Payload = json.RawMessage(payload)
	return &it, nil
}

// QuizItems returns the items of a session in position order.
func (db *DB) QuizItems(ctx context.Context, sessionID string) ([]QuizItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT session_id, item_id, position, payload, correct_option, explanation, flagged
		FROM quiz_items WHERE session_id = ? ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of quiz session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var items []QuizItem
	for rows.Next() {
		var it QuizItem
		var payload string
		if err := rows.Scan(&it.SessionID, &it.ItemID, &it.Position, &payload, &it.CorrectOption, &it.Explanation, &it.Flagged); err != nil {
			return nil, fmt.Errorf("failed to scan quiz item row: %w", err)
		}
		it.Payload = json.RawMessage(payload)
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertQuizAnswer records an answer, replacing any earlier answer to the
// same item.
func (db *DB) UpsertQuizAnswer(ctx context.Context, a QuizAnswer) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO quiz_answers (session_id, item_id, option_id, is_correct, time_spent_seconds, answered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, item_id) DO UPDATE SET
			option_id = excluded.option_id,
			is_correct = excluded.is_correct,
			time_spent_seconds = excluded.time_spent_seconds,
			answered_at = excluded.answered_at
	`, a.SessionID, a.ItemID, a.OptionID, a.IsCorrect, a.TimeSpentSeconds, utc(a.AnsweredAt))
	if err != nil {
		return fmt.Errorf("failed to save answer to %s of session %s: %w", a.ItemID, a.SessionID, err)
	}
	return nil
}

// QuizAnswers returns the answers of a session in item order.
func (db *DB) QuizAnswers(ctx context.Context, sessionID string) ([]QuizAnswer, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.session_id, a.item_id, a.option_id, a.is_correct, a.time_spent_seconds, a.answered_at
		FROM quiz_answers a
		JOIN quiz_items i ON i.session_id = a.session_id AND i.item_id = a.item_id
		WHERE a.session_id = ?
		ORDER BY i.position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answers of quiz session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var answers []QuizAnswer
	for rows.Next() {
		var a QuizAnswer
		if err := rows.Scan(&a.SessionID, &a.ItemID, &a.OptionID, &a.IsCorrect, &a.TimeSpentSeconds, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("failed to scan quiz answer row: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SetQuizFlag marks or unmarks an item. It reports false when the item does
// not exist.
func (db *DB) SetQuizFlag(ctx context.Context, sessionID, itemID string, flagged bool) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE quiz_items SET flagged = ? WHERE session_id = ? AND item_id = ?
	`, flagged, sessionID, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to flag %s of session %s: %w", itemID, sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to flag %s of session %s: %w", itemID, sessionID, err)
	}
	return n > 0, nil
}

// CompleteQuizSession stamps the completion time once; later calls keep the
// first stamp.
func (db *DB) CompleteQuizSession(ctx context.Context, id string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE quiz_sessions SET completed_at = COALESCE(completed_at, ?) WHERE id = ?
	`, utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to complete quiz session %s: %w", id, err)
	}
	return nil
}

// StudySession is a started flashcard session with its running counters.
type StudySession struct {
	ID         string
	Deck       string
	IncludeNew bool
	StartedAt  time.Time
	Reviewed   int
	Correct    int
}

// CreateStudySession stores a new study session.
func (db *DB) CreateStudySession(ctx context.Context, s StudySession) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO study_sessions (id, deck, include_new, started_at) VALUES (?, ?, ?, ?)
	`, s.ID, s.Deck, s.IncludeNew, utc(s.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert study session %s: %w", s.ID, err)
	}
	return nil
}

// FindStudySession returns nil when there is no such session.
func (db *DB) FindStudySession(ctx context.Context, id string) (*StudySession, error) {
	var s StudySession
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, deck, include_new, started_at, reviewed, correct FROM study_sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Deck, &s.IncludeNew, &s.StartedAt, &s.Reviewed, &s.Correct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find study session %s: %w", id, err)
	}
	return &s, nil
}

// RecordReview saves the new card state and the review log in one
// transaction and bumps the counters of the log's session, if any.
func (db *DB) RecordReview(ctx context.Context, cs *CardState, log domain.ReviewLog, correct bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateCardState(ctx, tx, cs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO review_logs (card_hash, session_id, timestamp, grade, time_spent_ms)
			VALUES (?, ?, ?, ?, ?)
		`, log.CardHash, log.SessionID, utc(log.Timestamp), int(log.Grade), log.TimeSpentMs); err != nil {
			return fmt.Errorf("failed to insert review log for %s: %w", log.CardHash, err)
		}
		if log.SessionID == "" {
			return nil
		}
		correctInc := 0
		if correct {
			correctInc = 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE study_sessions SET reviewed = reviewed + 1, correct = correct + ? WHERE id = ?
		`, correctInc, log.SessionID); err != nil {
			return fmt.Errorf("failed to update study session %s: %w", log.SessionID, err)
		}
		return nil
	})
}

// ReviewLogs returns the review history of a card, oldest first.
func (db *DB) ReviewLogs(ctx context.Context, cardHash string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT card_hash, session_id, timestamp, grade, time_spent_ms
		FROM review_logs WHERE card_hash = ? ORDER BY timestamp, id
	`, cardHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get review logs for %s: %w", cardHash, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var l domain.ReviewLog
		var grade int
		if err := rows.Scan(&l.CardHash, &l.SessionID, &l.Timestamp, &grade, &l.TimeSpentMs); err != nil {
			return nil, fmt.Errorf("failed to scan review log row: %w", err)
		}
		l.Grade = domain.Rating(grade)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
