// ABOUTME: Splits and routes provider answers by length and privacy
// ABOUTME: Produces ordered segments whose texts concatenate back to the answer

package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DirectNotice is posted in the origin channel when the answer moves to DM.
const DirectNotice = "The answer to this question is very long, so I'll answer by DM."

// ErrEmptyAnswer is returned by Format for an answer with no text.
var ErrEmptyAnswer = errors.New("empty answer")

// Unknown stands in for metadata the provider did not report.
const Unknown = "unknown"

// Channel is where a segment is delivered.
type Channel int

const (
	// ChannelOrigin is the room the question was asked in.
	ChannelOrigin Channel = iota
	// ChannelDirect is a one-to-one room with the asking user.
	ChannelDirect
)

func (c Channel) String() string {
	switch c {
	case ChannelOrigin:
		return "origin"
	case ChannelDirect:
		return "direct"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Meta is the optional information shown next to an answer.
type Meta struct {
	Model      string
	TokenUsage int
}

// Footer renders the metadata line.
func (m Meta) Footer() string {
	model := m.Model
	if model == "" {
		model = Unknown
	}
	usage := Unknown
	if m.TokenUsage > 0 {
		usage = strconv.Itoa(m.TokenUsage)
	}
	return fmt.Sprintf("Model: %s • Token Usage: %s", model, usage)
}

// Options controls splitting and routing.
type Options struct {
	MaxSegmentLength int
	Private          bool
}

// Segment is one deliverable piece of an answer.
type Segment struct {
	Channel Channel
	Text    string
	Private bool
	Index   int // zero-based position
	Total   int
}

// Reply is the formatted answer.
type Reply struct {
	Segments []Segment
	// Notice is non-empty when the origin channel must be told delivery moved.
	Notice string
	Meta   Meta
}

// Direct reports whether the answer was routed to the direct channel.
func (r Reply) Direct() bool {
	return r.Notice != ""
}

// Text returns the concatenated segment texts.
func (r Reply) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Format splits and routes answer.
func Format(answer string, meta Meta, opts Options) (Reply, error) {
	if opts.MaxSegmentLength <= 0 {
		return Reply{}, fmt.Errorf("max segment length must be positive, got %d", opts.MaxSegmentLength)
	}
	if answer == "" {
		return Reply{}, ErrEmptyAnswer
	}

	reply := Reply{Meta: meta}
	if utf8.RuneCountInString(answer) < opts.MaxSegmentLength {
		reply.Segments = []Segment{{
			Channel: ChannelOrigin,
			Text:    answer,
			Private: opts.Private,
			Index:   0,
			Total:   1,
		}}
		return reply, nil
	}

	chunks := Split(answer, opts.MaxSegmentLength)
	reply.Notice = DirectNotice
	reply.Segments = make([]Segment, len(chunks))
	for i, c := range chunks {
		reply.Segments[i] = Segment{
			Channel: ChannelDirect,
			Text:    c,
			Private: true,
			Index:   i,
			Total:   len(chunks),
		}
	}
	return reply, nil
}

// Split cuts s into ceil(runes/max) consecutive non-empty chunks of at most
// max runes. A cut is moved back to the last newline or space in the second
// half of the window when that still leaves room for the rest in the
// remaining chunks. Concatenating the chunks yields s.
func Split(s string, max int) []string {
	if s == "" || max <= 0 {
		return nil
	}

	runes := []rune(s)
	left := (len(runes) + max - 1) / max
	chunks := make([]string, 0, left)
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}
		left--
		cut := breakPoint(runes[:max], len(runes)-left*max)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// breakPoint returns the length of the chunk to take from window, never
// less than minLen.
func breakPoint(window []rune, minLen int) int {
	lo := max(len(window)/2, minLen-1, 1)
	for _, sep := range []rune{'\n', ' '} {
		for i := len(window) - 1; i >= lo; i-- {
			if window[i] == sep {
				return i + 1
			}
		}
	}
	return len(window)
}
