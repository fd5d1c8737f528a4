package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/conorfennell/medstudy/internal/syncqueue"
)

var _ syncqueue.Store = (*DB)(nil)

// LoadPending returns the queued reviews in queue order.
func (db *DB) LoadPending(ctx context.Context) ([]syncqueue.Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, record, queued_at, attempts FROM pending_reviews ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending reviews: %w", err)
	}
	defer rows.Close()

	var entries []syncqueue.Entry
	for rows.Next() {
		var e syncqueue.Entry
		var id, record string
		if err := rows.Scan(&id, &record, &e.QueuedAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan pending review row: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse pending review id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(record), &e.Record); err != nil {
			return nil, fmt.Errorf("failed to decode pending review %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SavePending replaces the stored queue with entries.
func (db *DB) SavePending(ctx context.Context, entries []syncqueue.Entry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_reviews`); err != nil {
			return fmt.Errorf("failed to clear pending reviews: %w", err)
		}
		for i, e := range entries {
			record, err := json.Marshal(e.Record)
			if err != nil {
				return fmt.Errorf("failed to encode pending review %s: %w", e.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pending_reviews (id, seq, record, queued_at, attempts)
				VALUES (?, ?, ?, ?, ?)
			`, e.ID.String(), i, string(record), utc(e.QueuedAt), e.Attempts); err != nil {
				return fmt.Errorf("failed to insert pending review %s: %w", e.ID, err)
			}
		}
		return nil
	})
}
