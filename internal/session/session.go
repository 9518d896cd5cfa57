// ABOUTME: Conversation continuation types keyed by user and provider
// ABOUTME: Closed thread/bound variants validated against the provider kind

package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrVariantMismatch is returned when a continuation's binding does not match
// the kind of the provider it is stored for.
var ErrVariantMismatch = errors.New("continuation does not match provider kind")

// Kind selects which continuation fields a provider requires.
type Kind string

const (
	KindThread Kind = "thread"
	KindBound  Kind = "bound"
)

// Valid reports whether k is a known provider kind.
func (k Kind) Valid() bool {
	return k == KindThread || k == KindBound
}

// Binding holds the session-binding tokens of bound providers.
type Binding struct {
	ConversationSignature string
	ClientID              string
	InvocationID          string
}

// Continuation is what a provider needs to resume a conversation.
// Binding is nil for thread providers and non-nil for bound providers.
type Continuation struct {
	ConversationID  string
	ParentMessageID string
	Binding         *Binding
}

// Validate checks the continuation against the kind of its provider.
func (c Continuation) Validate(kind Kind) error {
	if c.ConversationID == "" || c.ParentMessageID == "" {
		return errors.New("conversation id and parent message id are required")
	}
	switch kind {
	case KindThread:
		if c.Binding != nil {
			return fmt.Errorf("%w: thread provider carries binding tokens", ErrVariantMismatch)
		}
	case KindBound:
		if c.Binding == nil {
			return fmt.Errorf("%w: bound provider without binding tokens", ErrVariantMismatch)
		}
		if c.Binding.ConversationSignature == "" || c.Binding.ClientID == "" {
			return fmt.Errorf("%w: incomplete binding tokens", ErrVariantMismatch)
		}
	default:
		return fmt.Errorf("unknown provider kind %q", kind)
	}
	return nil
}

// State is the persisted continuation for one (user, provider) pair.
type State struct {
	UserID       string
	Provider     string
	Continuation Continuation
	UpdatedAt    time.Time
}

// Clone returns a deep copy so callers never share a Binding pointer.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.Continuation.Binding != nil {
		b := *s.Continuation.Binding
		c.Continuation.Binding = &b
	}
	return &c
}
