// ABOUTME: JSON shapes exchanged with the provider's /conversation endpoint
// ABOUTME: Accepts continuation ids at the top level or under details

package completion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/2389/coven-relay/internal/session"
)

type clientOptions struct {
	ClientToUse string `json:"clientToUse"`
}

type conversationRequest struct {
	Message               string        `json:"message"`
	Stream                bool          `json:"stream"`
	ClientOptions         clientOptions `json:"clientOptions"`
	ConversationID        string        `json:"conversationId,omitempty"`
	ParentMessageID       string        `json:"parentMessageId,omitempty"`
	ConversationSignature string        `json:"conversationSignature,omitempty"`
	ClientID              string        `json:"clientId,omitempty"`
	InvocationID          flexString    `json:"invocationId,omitempty"`
}

func buildBody(req Request) conversationRequest {
	body := conversationRequest{
		Message:       req.Question,
		ClientOptions: clientOptions{ClientToUse: req.Provider.ClientToUse},
	}
	if body.ClientOptions.ClientToUse == "" {
		body.ClientOptions.ClientToUse = req.Provider.Key
	}

	cont := req.Continuation
	if cont == nil {
		return body
	}
	body.ConversationID = cont.ConversationID
	body.ParentMessageID = cont.ParentMessageID
	if req.Provider.Kind == session.KindBound && cont.Binding != nil {
		body.ConversationSignature = cont.Binding.ConversationSignature
		body.ClientID = cont.Binding.ClientID
		body.InvocationID = flexString(cont.Binding.InvocationID)
	}
	return body
}

type usage struct {
	TotalTokens int `json:"total_tokens"`
}

type details struct {
	Model                 string     `json:"model"`
	Usage                 *usage     `json:"usage"`
	ConversationID        string     `json:"conversationId"`
	MessageID             string     `json:"messageId"`
	ConversationSignature string     `json:"conversationSignature"`
	ClientID              string     `json:"clientId"`
	InvocationID          flexString `json:"invocationId"`
}

type conversationResponse struct {
	Response              string     `json:"response"`
	ConversationID        string     `json:"conversationId"`
	MessageID             string     `json:"messageId"`
	ConversationSignature string     `json:"conversationSignature"`
	ClientID              string     `json:"clientId"`
	InvocationID          flexString `json:"invocationId"`
	Model                 string     `json:"model"`
	Usage                 *usage     `json:"usage"`
	Details               *details   `json:"details"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// result validates the response for a provider of the given kind.
func (r *conversationResponse) result(kind session.Kind) (*Result, error) {
	d := r.Details
	if d == nil {
		d = &details{}
	}

	if r.Response == "" {
		return nil, fmt.Errorf("%w: no answer text", ErrMalformedResponse)
	}

	res := &Result{
		Answer: r.Response,
		Model:  firstNonEmpty(d.Model, r.Model),
		Continuation: session.Continuation{
			ConversationID:  firstNonEmpty(r.ConversationID, d.ConversationID),
			ParentMessageID: firstNonEmpty(r.MessageID, d.MessageID),
		},
	}
	switch {
	case d.Usage != nil:
		res.TokenUsage = d.Usage.TotalTokens
	case r.Usage != nil:
		res.TokenUsage = r.Usage.TotalTokens
	}

	if kind == session.KindBound {
		res.Continuation.Binding = &session.Binding{
			ConversationSignature: firstNonEmpty(r.ConversationSignature, d.ConversationSignature),
			ClientID:              firstNonEmpty(r.ClientID, d.ClientID),
			InvocationID:          firstNonEmpty(string(r.InvocationID), string(d.InvocationID)),
		}
	}

	if err := res.Continuation.Validate(kind); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return res, nil
}

// flexString decodes a JSON string or number and encodes integers back as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invocation id: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(f))
}
