// ABOUTME: Tests for Matrix message rendering
// ABOUTME: Covers answer cards, multi-part markers and Markdown to HTML conversion

package matrix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/relay"
)

func TestRenderMarkdown(t *testing.T) {
	content := renderMarkdown(event.MsgText, "hello **world**\n\n| a | b |\n|---|---|\n| 1 | 2 |")

	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.Body, "**world**")
	assert.Contains(t, content.FormattedBody, "<strong>world</strong>")
	assert.Contains(t, content.FormattedBody, "<table>")
}

func TestRenderSegment_SingleCard(t *testing.T) {
	req := relay.Request{UserTag: "alice#1", Question: "what is go?"}
	seg := format.Segment{Channel: format.ChannelOrigin, Text: "A language.", Index: 0, Total: 1}

	content := renderSegment(req, seg, format.Meta{Model: "gpt-4", TokenUsage: 42})

	assert.Contains(t, content.Body, "**Username**\nalice#1")
	assert.Contains(t, content.Body, "**Question**\nwhat is go?")
	assert.Contains(t, content.Body, "A language.")
	assert.Contains(t, content.Body, "Model: gpt-4 • Token Usage: 42")
	assert.NotContains(t, content.Body, "(1/1)")
	assert.Contains(t, content.FormattedBody, "<hr")
}

func TestRenderSegment_MultiPart(t *testing.T) {
	req := relay.Request{UserTag: "bob", Question: "long one"}
	meta := format.Meta{}

	first := renderSegment(req, format.Segment{Text: "part one", Index: 0, Total: 3}, meta)
	middle := renderSegment(req, format.Segment{Text: "part two", Index: 1, Total: 3}, meta)
	last := renderSegment(req, format.Segment{Text: "part three", Index: 2, Total: 3}, meta)

	assert.True(t, strings.HasPrefix(first.Body, "**Username**"))
	assert.Contains(t, first.Body, "_(1/3)_")
	assert.NotContains(t, first.Body, "Token Usage")

	assert.False(t, strings.HasPrefix(middle.Body, "**Username**"))
	assert.Contains(t, middle.Body, "_(2/3)_")
	assert.NotContains(t, middle.Body, "Token Usage")

	assert.Contains(t, last.Body, "_(3/3)_")
	assert.Contains(t, last.Body, "Model: unknown • Token Usage: unknown")
}

func TestRenderNotice(t *testing.T) {
	content := renderNotice("Chat reset: successful")
	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, "Chat reset: successful", content.Body)
	assert.Empty(t, content.FormattedBody)
}
