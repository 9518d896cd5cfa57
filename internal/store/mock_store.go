// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/session"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	states   map[string]*session.State // keyed by "userID\x00provider"
	privacy  map[string]bool           // keyed by userID
	history  map[string][]*HistoryRecord
	failErr  error
	putCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		states:  make(map[string]*session.State),
		privacy: make(map[string]bool),
		history: make(map[string][]*HistoryRecord),
	}
}

func stateKey(userID, provider string) string {
	return userID + "\x00" + provider
}

// FailWith makes every subsequent call fail with err wrapped as ErrUnavailable.
// Passing nil restores normal behavior.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// PutCalls returns how many times PutState was called successfully.
func (m *MockStore) PutCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.putCalls
}

func (m *MockStore) failure(op string) error {
	if m.failErr == nil {
		return nil
	}
	return unavailable(op, m.failErr)
}

// GetState returns a copy of the stored state.
func (m *MockStore) GetState(ctx context.Context, userID, provider string) (*session.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("reading conversation"); err != nil {
		return nil, err
	}
	st, ok := m.states[stateKey(userID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// PutState replaces the stored state with a copy of state.
func (m *MockStore) PutState(ctx context.Context, state *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("writing conversation"); err != nil {
		return err
	}
	c := state.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	m.states[stateKey(state.UserID, state.Provider)] = c
	m.putCalls++
	return nil
}

// DeleteState removes one provider's state.
func (m *MockStore) DeleteState(ctx context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("deleting conversation"); err != nil {
		return err
	}
	delete(m.states, stateKey(userID, provider))
	return nil
}

// ResetAll removes every provider's state for the user under one lock.
func (m *MockStore) ResetAll(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("resetting conversations"); err != nil {
		return false, err
	}
	prefix := userID + "\x00"
	existed := false
	for k := range m.states {
		if strings.HasPrefix(k, prefix) {
			delete(m.states, k)
			existed = true
		}
	}
	return existed, nil
}

// GetPrivacy returns the stored flag, false when never set.
func (m *MockStore) GetPrivacy(ctx context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("reading privacy"); err != nil {
		return false, err
	}
	return m.privacy[userID], nil
}

// SetPrivacy stores the flag.
func (m *MockStore) SetPrivacy(ctx context.Context, userID string, private bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("writing privacy"); err != nil {
		return err
	}
	m.privacy[userID] = private
	return nil
}

// SaveHistory appends a copy of rec.
func (m *MockStore) SaveHistory(ctx context.Context, rec *HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("writing history"); err != nil {
		return err
	}
	r := *rec
	m.history[rec.UserID] = append(m.history[rec.UserID], &r)
	return nil
}

// ListHistory returns copies of the records in the day bucket, oldest first.
func (m *MockStore) ListHistory(ctx context.Context, userID string, day time.Time) ([]*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("reading history"); err != nil {
		return nil, err
	}
	bucket := HistoryDate(day)
	var out []*HistoryRecord
	for _, r := range m.history[userID] {
		if HistoryDate(r.CreatedAt) == bucket {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Ping fails while a failure is injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("pinging store")
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface.
var _ Store = (*MockStore)(nil)
