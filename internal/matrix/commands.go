// ABOUTME: Parses prefixed chat commands into relay operations
// ABOUTME: Recognizes ask, ask-<provider>, toggle-session, reset-chat and ping

package matrix

import (
	"strings"
	"unicode"
)

// CommandKind identifies a chat command.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandAsk
	CommandTogglePrivacy
	CommandReset
	CommandPing
)

// Command is a parsed chat command.
type Command struct {
	Kind     CommandKind
	Name     string // command word as typed, without prefix
	Provider string // set by ask-<provider>
	Args     string
}

// ParseCommand parses body when it starts with prefix. ok is false for
// ordinary messages.
func ParseCommand(body, prefix string) (cmd Command, ok bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return Command{}, false
	}
	body = strings.TrimPrefix(body, prefix)
	if body == "" || unicode.IsSpace(rune(body[0])) {
		return Command{}, false
	}

	name, args := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, args = body[:i], body[i:]
	}
	cmd = Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}

	switch {
	case cmd.Name == "ask":
		cmd.Kind = CommandAsk
	case strings.HasPrefix(cmd.Name, "ask-") && len(cmd.Name) > len("ask-"):
		cmd.Kind = CommandAsk
		cmd.Provider = strings.TrimPrefix(cmd.Name, "ask-")
	case cmd.Name == "toggle-session":
		cmd.Kind = CommandTogglePrivacy
	case cmd.Name == "reset-chat":
		cmd.Kind = CommandReset
	case cmd.Name == "ping":
		cmd.Kind = CommandPing
	default:
		cmd.Kind = CommandUnknown
	}
	return cmd, true
}
