// ABOUTME: Behavioral tests shared by every Store implementation
// ABOUTME: Runs the same state, privacy, reset and history checks against SQLite, Bolt and the mock

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/session"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// setupBoltStore creates a temporary Bolt store for testing.
func setupBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "relay.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	backends := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return setupTestStore(t) },
		"bolt":   func(t *testing.T) Store { return setupBoltStore(t) },
		"mock":   func(t *testing.T) Store { return NewMockStore() },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func threadState(user, provider, conv, msg string) *session.State {
	return &session.State{
		UserID:   user,
		Provider: provider,
		Continuation: session.Continuation{
			ConversationID:  conv,
			ParentMessageID: msg,
		},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func boundState(user, provider, conv, msg string) *session.State {
	st := threadState(user, provider, conv, msg)
	st.Continuation.Binding = &session.Binding{
		ConversationSignature: "sig-" + msg,
		ClientID:              "client-1",
		InvocationID:          "2",
	}
	return st
}

func TestStore_GetState_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetState(context.Background(), "u1", "chatgpt")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_PutAndGetState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		want := threadState("u1", "chatgpt", "c1", "m1")
		require.NoError(t, s.PutState(ctx, want))

		got, err := s.GetState(ctx, "u1", "chatgpt")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "chatgpt", got.Provider)
		assert.Equal(t, "c1", got.Continuation.ConversationID)
		assert.Equal(t, "m1", got.Continuation.ParentMessageID)
		assert.Nil(t, got.Continuation.Binding)
		assert.True(t, got.UpdatedAt.Equal(want.UpdatedAt), "updated_at %v != %v", got.UpdatedAt, want.UpdatedAt)
	})
}

func TestStore_PutState_BoundVariant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutState(ctx, boundState("u1", "bing", "c1", "m1")))

		got, err := s.GetState(ctx, "u1", "bing")
		require.NoError(t, err)
		require.NotNil(t, got.Continuation.Binding)
		assert.Equal(t, "sig-m1", got.Continuation.Binding.ConversationSignature)
		assert.Equal(t, "client-1", got.Continuation.Binding.ClientID)
		assert.Equal(t, "2", got.Continuation.Binding.InvocationID)
	})
}

func TestStore_PutState_OverwritesNotMerges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutState(ctx, boundState("u1", "bing", "c1", "m1")))
		// Same pair, written without binding tokens: nothing of the old row may survive.
		require.NoError(t, s.PutState(ctx, threadState("u1", "bing", "c2", "m2")))

		got, err := s.GetState(ctx, "u1", "bing")
		require.NoError(t, err)
		assert.Equal(t, "c2", got.Continuation.ConversationID)
		assert.Equal(t, "m2", got.Continuation.ParentMessageID)
		assert.Nil(t, got.Continuation.Binding)
	})
}

func TestStore_StatesAreIsolatedPerUserAndProvider(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutState(ctx, threadState("u1", "chatgpt", "c1", "m1")))
		require.NoError(t, s.PutState(ctx, threadState("u2", "chatgpt", "c2", "m2")))

		_, err := s.GetState(ctx, "u1", "bing")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := s.GetState(ctx, "u2", "chatgpt")
		require.NoError(t, err)
		assert.Equal(t, "c2", got.Continuation.ConversationID)
	})
}

func TestStore_DeleteState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutState(ctx, threadState("u1", "chatgpt", "c1", "m1")))
		require.NoError(t, s.DeleteState(ctx, "u1", "chatgpt"))

		_, err := s.GetState(ctx, "u1", "chatgpt")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting again is not an error
		assert.NoError(t, s.DeleteState(ctx, "u1", "chatgpt"))
	})
}

func TestStore_ResetAll(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		existed, err := s.ResetAll(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, existed, "empty user should report nothing to reset")

		require.NoError(t, s.PutState(ctx, threadState("u1", "chatgpt", "c1", "m1")))
		require.NoError(t, s.PutState(ctx, boundState("u1", "bing", "c2", "m2")))
		require.NoError(t, s.PutState(ctx, threadState("u2", "chatgpt", "c3", "m3")))
		require.NoError(t, s.SetPrivacy(ctx, "u1", true))

		existed, err = s.ResetAll(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, existed)

		for _, p := range []string{"chatgpt", "bing"} {
			_, err := s.GetState(ctx, "u1", p)
			assert.ErrorIs(t, err, ErrNotFound, "provider %s survived reset", p)
		}

		// Other users and the privacy flag are untouched
		_, err = s.GetState(ctx, "u2", "chatgpt")
		assert.NoError(t, err)
		private, err := s.GetPrivacy(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, private)

		existed, err = s.ResetAll(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestStore_ResetAll_OnlyOneProvider(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutState(ctx, threadState("u1", "chatgpt", "c1", "m1")))

		existed, err := s.ResetAll(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, existed, "a single provider with state is enough to report a reset")
	})
}

func TestStore_Privacy(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		private, err := s.GetPrivacy(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, private, "absent flag defaults to false")

		require.NoError(t, s.SetPrivacy(ctx, "u1", true))
		private, err = s.GetPrivacy(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, private)

		require.NoError(t, s.SetPrivacy(ctx, "u1", false))
		private, err = s.GetPrivacy(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, private)
	})
}

func TestStore_History(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.SaveHistory(ctx, &HistoryRecord{
				ID:              fmt.Sprintf("h%d", i),
				UserID:          "u1",
				UserTag:         "alice",
				Provider:        "chatgpt",
				Question:        fmt.Sprintf("q%d", i),
				Answer:          fmt.Sprintf("a%d", i),
				ParentMessageID: fmt.Sprintf("m%d", i),
				// Two records share a second to check they don't collide
				CreatedAt: day.Add(9*time.Hour + time.Duration(i)*400*time.Millisecond),
			}))
		}
		require.NoError(t, s.SaveHistory(ctx, &HistoryRecord{
			ID: "other-day", UserID: "u1", UserTag: "alice", Provider: "chatgpt",
			Question: "q", Answer: "a", CreatedAt: day.Add(-time.Hour),
		}))

		records, err := s.ListHistory(ctx, "u1", day.Add(15*time.Hour))
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, fmt.Sprintf("h%d", i), r.ID)
			assert.Equal(t, fmt.Sprintf("q%d", i), r.Question)
			assert.Equal(t, "alice", r.UserTag)
		}

		records, err = s.ListHistory(ctx, "nobody", day)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestStore_ConcurrentWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := fmt.Sprintf("u%d", i)
				assert.NoError(t, s.PutState(ctx, threadState(user, "chatgpt", "c", "m")))
				assert.NoError(t, s.SetPrivacy(ctx, user, true))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 10; i++ {
			_, err := s.GetState(ctx, fmt.Sprintf("u%d", i), "chatgpt")
			assert.NoError(t, err)
		}
	})
}

func TestStore_Ping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestHistoryBuckets(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 2*3600))
	assert.Equal(t, "2026-01-02", HistoryDate(ts))
	assert.Equal(t, "01:04:05", HistoryTime(ts))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("sqlite", filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open("bolt", filepath.Join(dir, "a.bolt"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("postgres", "x")
	assert.Error(t, err)
}
