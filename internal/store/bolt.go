// ABOUTME: BoltDB implementation of the Store interface using go.etcd.io/bbolt
// ABOUTME: Keeps a document layout of users/<id>/{privacy,conversation:<provider>} and chat-history/<id>/<date>

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/2389/coven-relay/internal/session"
)

var (
	bucketUsers   = []byte("users")
	bucketHistory = []byte("chat-history")

	keyPrivacy         = []byte("privacy")
	prefixConversation = []byte("conversation:")
)

// conversationDoc is the JSON document stored per (user, provider).
type conversationDoc struct {
	UserID                string    `json:"userId"`
	Provider              string    `json:"provider"`
	ConversationID        string    `json:"conversationId"`
	ParentMessageID       string    `json:"parentMessageId"`
	ConversationSignature string    `json:"conversationSignature,omitempty"`
	ClientID              string    `json:"clientId,omitempty"`
	InvocationID          string    `json:"invocationId,omitempty"`
	Bound                 bool      `json:"bound,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

type privacyDoc struct {
	IsPrivate bool `json:"isPrivate"`
}

type historyDoc struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	UserTag         string    `json:"user"`
	Provider        string    `json:"provider"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	ParentMessageID string    `json:"parentMessageId,omitempty"`
	TimeStamp       time.Time `json:"timeStamp"`
}

// BoltStore implements the Store interface on a single bbolt file.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "store", "driver", "bolt")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Bolt store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	s.logger.Info("closing Bolt store")
	return s.db.Close()
}

// Ping verifies the database can open a read transaction.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := s.db.View(func(tx *bolt.Tx) error { return nil }); err != nil {
		return unavailable("pinging database", err)
	}
	return nil
}

func conversationKey(provider string) []byte {
	return append(append([]byte{}, prefixConversation...), provider...)
}

// userBucket returns the user's bucket, or nil when it does not exist.
func userBucket(tx *bolt.Tx, userID string) *bolt.Bucket {
	return tx.Bucket(bucketUsers).Bucket([]byte(userID))
}

// GetState retrieves the continuation for a user and provider.
func (s *BoltStore) GetState(ctx context.Context, userID, provider string) (*session.State, error) {
	var doc *conversationDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		ub := userBucket(tx, userID)
		if ub == nil {
			return nil
		}
		raw := ub.Get(conversationKey(provider))
		if raw == nil {
			return nil
		}
		doc = &conversationDoc{}
		return json.Unmarshal(raw, doc)
	})
	if err != nil {
		return nil, unavailable("reading conversation", err)
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	st := &session.State{
		UserID:   userID,
		Provider: provider,
		Continuation: session.Continuation{
			ConversationID:  doc.ConversationID,
			ParentMessageID: doc.ParentMessageID,
		},
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.Bound {
		st.Continuation.Binding = &session.Binding{
			ConversationSignature: doc.ConversationSignature,
			ClientID:              doc.ClientID,
			InvocationID:          doc.InvocationID,
		}
	}
	return st, nil
}

// PutState writes the full continuation document, replacing any previous one.
func (s *BoltStore) PutState(ctx context.Context, state *session.State) error {
	doc := conversationDoc{
		UserID:          state.UserID,
		Provider:        state.Provider,
		ConversationID:  state.Continuation.ConversationID,
		ParentMessageID: state.Continuation.ParentMessageID,
		UpdatedAt:       state.UpdatedAt.UTC(),
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if b := state.Continuation.Binding; b != nil {
		doc.Bound = true
		doc.ConversationSignature = b.ConversationSignature
		doc.ClientID = b.ClientID
		doc.InvocationID = b.InvocationID
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		ub, err := tx.Bucket(bucketUsers).CreateBucketIfNotExists([]byte(state.UserID))
		if err != nil {
			return err
		}
		return ub.Put(conversationKey(state.Provider), raw)
	})
	if err != nil {
		return unavailable("writing conversation", err)
	}
	return nil
}

// DeleteState removes one provider's continuation. Missing documents are not an error.
func (s *BoltStore) DeleteState(ctx context.Context, userID, provider string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		ub := userBucket(tx, userID)
		if ub == nil {
			return nil
		}
		return ub.Delete(conversationKey(provider))
	})
	if err != nil {
		return unavailable("deleting conversation", err)
	}
	return nil
}

// ResetAll deletes every conversation document of the user in one write transaction.
func (s *BoltStore) ResetAll(ctx context.Context, userID string) (bool, error) {
	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		ub := userBucket(tx, userID)
		if ub == nil {
			return nil
		}

		// Collect first: deleting under a live cursor skips keys.
		var keys [][]byte
		c := ub.Cursor()
		for k, _ := c.Seek(prefixConversation); k != nil && bytes.HasPrefix(k, prefixConversation); k, _ = c.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := ub.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return false, unavailable("resetting conversations", err)
	}

	s.logger.Debug("reset conversations", "user_id", userID, "deleted", deleted)
	return deleted > 0, nil
}

// GetPrivacy returns the user's privacy flag, false when never set.
func (s *BoltStore) GetPrivacy(ctx context.Context, userID string) (bool, error) {
	var doc privacyDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		ub := userBucket(tx, userID)
		if ub == nil {
			return nil
		}
		raw := ub.Get(keyPrivacy)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &doc)
	})
	if err != nil {
		return false, unavailable("reading privacy", err)
	}
	return doc.IsPrivate, nil
}

// SetPrivacy stores the user's privacy flag.
func (s *BoltStore) SetPrivacy(ctx context.Context, userID string, private bool) error {
	raw, err := json.Marshal(privacyDoc{IsPrivate: private})
	if err != nil {
		return fmt.Errorf("encoding privacy: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		ub, err := tx.Bucket(bucketUsers).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		return ub.Put(keyPrivacy, raw)
	})
	if err != nil {
		return unavailable("writing privacy", err)
	}
	return nil
}

// historyKey orders records within a day bucket and keeps same-second records apart.
func historyKey(rec *HistoryRecord) []byte {
	return []byte(rec.CreatedAt.UTC().Format("15:04:05.000000000") + "/" + rec.ID)
}

// SaveHistory stores one record under chat-history/<user>/<date>/<time>.
func (s *BoltStore) SaveHistory(ctx context.Context, rec *HistoryRecord) error {
	raw, err := json.Marshal(historyDoc{
		ID:              rec.ID,
		UserID:          rec.UserID,
		UserTag:         rec.UserTag,
		Provider:        rec.Provider,
		Question:        rec.Question,
		Answer:          rec.Answer,
		ParentMessageID: rec.ParentMessageID,
		TimeStamp:       rec.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		ub, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(rec.UserID))
		if err != nil {
			return err
		}
		day, err := ub.CreateBucketIfNotExists([]byte(HistoryDate(rec.CreatedAt)))
		if err != nil {
			return err
		}
		return day.Put(historyKey(rec), raw)
	})
	if err != nil {
		return unavailable("writing history", err)
	}
	return nil
}

// ListHistory returns one day bucket in key (time) order.
func (s *BoltStore) ListHistory(ctx context.Context, userID string, day time.Time) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(bucketHistory).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		db := ub.Bucket([]byte(HistoryDate(day)))
		if db == nil {
			return nil
		}
		return db.ForEach(func(k, v []byte) error {
			var doc historyDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decoding history %s: %w", k, err)
			}
			records = append(records, &HistoryRecord{
				ID:              doc.ID,
				UserID:          doc.UserID,
				UserTag:         doc.UserTag,
				Provider:        doc.Provider,
				Question:        doc.Question,
				Answer:          doc.Answer,
				ParentMessageID: doc.ParentMessageID,
				CreatedAt:       doc.TimeStamp,
			})
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("reading history", err)
	}
	return records, nil
}

// Ensure BoltStore implements Store interface.
var _ Store = (*BoltStore)(nil)
