// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists conversation state, privacy flags and chat history with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-relay/internal/session"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			user_id                TEXT NOT NULL,
			provider               TEXT NOT NULL,
			conversation_id        TEXT NOT NULL,
			parent_message_id      TEXT NOT NULL,
			conversation_signature TEXT,
			client_id              TEXT,
			invocation_id          TEXT,
			updated_at             TEXT NOT NULL,

			PRIMARY KEY (user_id, provider)
		);

		CREATE TABLE IF NOT EXISTS chat_settings (
			user_id    TEXT PRIMARY KEY,
			is_private INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_history (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			user_tag          TEXT NOT NULL,
			provider          TEXT NOT NULL,
			bucket_date       TEXT NOT NULL,
			bucket_time       TEXT NOT NULL,
			question          TEXT NOT NULL,
			answer            TEXT NOT NULL,
			parent_message_id TEXT,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_history_bucket
			ON chat_history(user_id, bucket_date, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("pinging database", err)
	}
	return nil
}

// GetState retrieves the continuation for a user and provider.
// Returns ErrNotFound if the pair has none.
func (s *SQLiteStore) GetState(ctx context.Context, userID, provider string) (*session.State, error) {
	query := `
		SELECT conversation_id, parent_message_id, conversation_signature, client_id, invocation_id, updated_at
		FROM conversations
		WHERE user_id = ? AND provider = ?
	`

	var (
		st                       = session.State{UserID: userID, Provider: provider}
		signature, client, invoc sql.NullString
		updatedAtStr             string
	)
	err := s.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&st.Continuation.ConversationID,
		&st.Continuation.ParentMessageID,
		&signature,
		&client,
		&invoc,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}

	if signature.Valid || client.Valid || invoc.Valid {
		st.Continuation.Binding = &session.Binding{
			ConversationSignature: signature.String,
			ClientID:              client.String,
			InvocationID:          invoc.String,
		}
	}

	st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &st, nil
}

// PutState writes the full continuation, replacing any previous row.
func (s *SQLiteStore) PutState(ctx context.Context, state *session.State) error {
	query := `
		INSERT INTO conversations (
			user_id, provider, conversation_id, parent_message_id,
			conversation_signature, client_id, invocation_id, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			parent_message_id = excluded.parent_message_id,
			conversation_signature = excluded.conversation_signature,
			client_id = excluded.client_id,
			invocation_id = excluded.invocation_id,
			updated_at = excluded.updated_at
	`

	var signature, client, invoc any
	if b := state.Continuation.Binding; b != nil {
		signature = nullString(b.ConversationSignature)
		client = nullString(b.ClientID)
		invoc = nullString(b.InvocationID)
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		state.UserID,
		state.Provider,
		state.Continuation.ConversationID,
		state.Continuation.ParentMessageID,
		signature,
		client,
		invoc,
		updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return unavailable("writing conversation", err)
	}

	s.logger.Debug("saved conversation state", "user_id", state.UserID, "provider", state.Provider)
	return nil
}

// DeleteState removes the continuation for one provider. Missing rows are not an error.
func (s *SQLiteStore) DeleteState(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return unavailable("deleting conversation", err)
	}
	return nil
}

// ResetAll deletes every provider's continuation for the user.
// Runs in one transaction so readers never observe a partial reset.
func (s *SQLiteStore) ResetAll(ctx context.Context, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable("beginning reset", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		return false, unavailable("resetting conversations", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("getting rows affected", err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("committing reset", err)
	}

	s.logger.Debug("reset conversations", "user_id", userID, "deleted", n)
	return n > 0, nil
}

// GetPrivacy returns the user's privacy flag, false when never set.
func (s *SQLiteStore) GetPrivacy(ctx context.Context, userID string) (bool, error) {
	var private int
	err := s.db.QueryRowContext(ctx,
		`SELECT is_private FROM chat_settings WHERE user_id = ?`, userID).Scan(&private)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("querying privacy", err)
	}
	return private != 0, nil
}

// SetPrivacy stores the user's privacy flag.
func (s *SQLiteStore) SetPrivacy(ctx context.Context, userID string, private bool) error {
	query := `
		INSERT INTO chat_settings (user_id, is_private, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			is_private = excluded.is_private,
			updated_at = excluded.updated_at
	`
	v := 0
	if private {
		v = 1
	}
	if _, err := s.db.ExecContext(ctx, query, userID, v, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return unavailable("writing privacy", err)
	}
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
