// ABOUTME: SQLite implementation for chat history records
// ABOUTME: Stores answered questions bucketed by UTC date and time

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// historyLayout is fixed width so created_at sorts lexically.
const historyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveHistory stores one answered question.
func (s *SQLiteStore) SaveHistory(ctx context.Context, rec *HistoryRecord) error {
	query := `
		INSERT INTO chat_history (
			id, user_id, user_tag, provider, bucket_date, bucket_time,
			question, answer, parent_message_id, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.UserTag,
		rec.Provider,
		HistoryDate(rec.CreatedAt),
		HistoryTime(rec.CreatedAt),
		rec.Question,
		rec.Answer,
		nullString(rec.ParentMessageID),
		rec.CreatedAt.UTC().Format(historyLayout),
	)
	if err != nil {
		return unavailable("inserting history", err)
	}

	s.logger.Debug("saved history record",
		"id", rec.ID,
		"user_id", rec.UserID,
		"provider", rec.Provider,
	)
	return nil
}

// ListHistory retrieves the records of one UTC day for a user, oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, userID string, day time.Time) ([]*HistoryRecord, error) {
	query := `
		SELECT id, user_id, user_tag, provider, question, answer, parent_message_id, created_at
		FROM chat_history
		WHERE user_id = ? AND bucket_date = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, HistoryDate(day))
	if err != nil {
		return nil, unavailable("querying history", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating history rows", err)
	}

	return records, nil
}

// scanHistory scans a single history row into a HistoryRecord.
func scanHistory(rows *sql.Rows) (*HistoryRecord, error) {
	var rec HistoryRecord
	var parentID sql.NullString
	var createdAtStr string

	err := rows.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.UserTag,
		&rec.Provider,
		&rec.Question,
		&rec.Answer,
		&parentID,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning history row: %w", err)
	}

	rec.ParentMessageID = parentID.String

	rec.CreatedAt, err = time.Parse(historyLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &rec, nil
}

// Ensure SQLiteStore implements HistoryStore interface.
var _ HistoryStore = (*SQLiteStore)(nil)
