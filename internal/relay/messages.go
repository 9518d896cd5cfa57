// ABOUTME: User-facing wording for relay outcomes
// ABOUTME: Maps internal errors to messages that never expose backend details

package relay

import (
	"errors"

	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/store"
)

const (
	MsgEmptyQuestion   = "Please ask a question."
	MsgUnknownProvider = "Unknown provider %q. Available: %s"

	MsgPrivateOn  = "Session is now Private 🔒"
	MsgPrivateOff = "Session is now Public 🔓"

	MsgResetDone    = "Chat reset: successful"
	MsgResetNothing = "No conversation found"

	MsgLifecycleFailed = "Oops, something went wrong! Please try again later."

	msgTimeout   = "Oops, the answer took too long to arrive. Try again please."
	msgUndefined = "Oops, something went wrong! (Undefined Response). Try again please."
	msgProvider  = "Oops, something went wrong! (Provider unavailable). Try again please."
	msgStorage   = "Oops, something went wrong! (Storage unavailable). Try again please."
	msgGeneric   = "Oops, something went wrong! Try again please."
)

func failureMessage(err error) string {
	switch {
	case errors.Is(err, completion.ErrTimeout):
		return msgTimeout
	case errors.Is(err, completion.ErrMalformedResponse):
		return msgUndefined
	case errors.Is(err, completion.ErrTransport):
		return msgProvider
	case errors.Is(err, store.ErrUnavailable):
		return msgStorage
	default:
		return msgGeneric
	}
}
