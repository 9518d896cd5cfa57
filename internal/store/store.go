// ABOUTME: Store interfaces and data types for coven-relay persistence
// ABOUTME: Defines session state, privacy and chat history operations and their errors

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-relay/internal/session"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUnavailable marks a failure of the storage backend itself. It is fatal
// to the request that hit it and is never retried by the store.
var ErrUnavailable = errors.New("storage unavailable")

// unavailable wraps a backend error so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// HistoryRecord is one answered question, bucketed by UTC day.
type HistoryRecord struct {
	ID              string
	UserID          string
	UserTag         string
	Provider        string
	Question        string
	Answer          string
	ParentMessageID string
	CreatedAt       time.Time
}

// HistoryDate returns the day bucket a timestamp falls into.
func HistoryDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// HistoryTime returns the time key of a timestamp within its day bucket.
func HistoryTime(t time.Time) string {
	return t.UTC().Format("15:04:05")
}

// SessionStore holds per-(user, provider) continuation state and per-user privacy.
type SessionStore interface {
	// GetState returns ErrNotFound when the pair has no state.
	GetState(ctx context.Context, userID, provider string) (*session.State, error)
	// PutState replaces any existing state for the pair.
	PutState(ctx context.Context, state *session.State) error
	DeleteState(ctx context.Context, userID, provider string) error

	// GetPrivacy returns false for users that never toggled.
	GetPrivacy(ctx context.Context, userID string) (bool, error)
	SetPrivacy(ctx context.Context, userID string, private bool) error

	// ResetAll deletes the state of every provider for the user in one
	// transaction and reports whether anything existed.
	ResetAll(ctx context.Context, userID string) (bool, error)
}

// HistoryStore records delivered answers.
type HistoryStore interface {
	SaveHistory(ctx context.Context, rec *HistoryRecord) error
	// ListHistory returns the records of one UTC day, oldest first.
	ListHistory(ctx context.Context, userID string, day time.Time) ([]*HistoryRecord, error)
}

// Store is everything the relay persists.
type Store interface {
	SessionStore
	HistoryStore

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
	// Close releases any resources held by the store
	Close() error
}

// Open creates the store selected by driver ("sqlite" or "bolt").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "bolt":
		return NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
