// Package store persists conversation continuity, privacy flags and chat
// history for the relay.
//
// # Architecture
//
// Two interfaces make up the Store:
//
//   - SessionStore: per-(user, provider) continuation state and the per-user
//     privacy flag
//   - HistoryStore: day-bucketed question/answer records written after delivery
//
// Two backends implement it:
//
//   - SQLiteStore: relational tables, the default (modernc.org/sqlite)
//   - BoltStore: one document per record in nested buckets (go.etcd.io/bbolt)
//
// Open selects a backend by driver name.
//
// # Semantics
//
// PutState is a full overwrite: fields absent from the new state do not
// survive from the old one. ResetAll removes every provider's state for a user
// in a single transaction and reports whether anything existed. The privacy
// flag reads as false until it is first written and is never touched by a
// reset.
//
// # Error Handling
//
//   - ErrNotFound: no continuation exists for the pair
//   - ErrUnavailable: the backend failed; the underlying error is wrapped too
//
// # Testing
//
// Use NewMockStore() for unit tests. FailWith injects backend failures and
// PutCalls reports how many writes succeeded.
package store
