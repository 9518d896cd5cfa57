// ABOUTME: Renders answers and notices as Matrix message content
// ABOUTME: Converts Markdown to HTML with goldmark and keeps a plain-text body

package matrix

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/relay"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown builds a message whose HTML body is rendered from md. When
// rendering fails the message is sent as plain text.
func renderMarkdown(msgType event.MessageType, md string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    md,
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(buf.String())
	return content
}

// renderSegment renders one answer segment. A single-segment answer gets the
// full card; multi-part answers carry the header on the first part and the
// footer on the last.
func renderSegment(req relay.Request, seg format.Segment, meta format.Meta) *event.MessageEventContent {
	var b strings.Builder
	if seg.Index == 0 {
		fmt.Fprintf(&b, "**Username**\n%s\n\n**Question**\n%s\n\n**Answer**\n", req.UserTag, req.Question)
	}
	b.WriteString(seg.Text)
	if seg.Total > 1 {
		fmt.Fprintf(&b, "\n\n_(%d/%d)_", seg.Index+1, seg.Total)
	}
	if seg.Index == seg.Total-1 {
		fmt.Fprintf(&b, "\n\n---\n%s", meta.Footer())
	}
	return renderMarkdown(event.MsgText, b.String())
}

// renderNotice renders a short status line.
func renderNotice(text string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
}
