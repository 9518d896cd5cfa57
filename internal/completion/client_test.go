// ABOUTME: Tests for the completion client against an httptest provider
// ABOUTME: Covers fresh and continued bodies, response parsing and error classification

package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/session"
)

var (
	chatgpt = session.Provider{Key: "chatgpt", Kind: session.KindThread, ClientToUse: "chatgpt"}
	bing    = session.Provider{Key: "bing", Kind: session.KindBound, ClientToUse: "bing"}
)

// providerServer records the last decoded request body and replies with reply.
func providerServer(t *testing.T, status int, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversation", r.URL.Path)
		got = nil
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestComplete_FreshThread(t *testing.T) {
	srv, body := providerServer(t, http.StatusOK, `{
		"response": "Paris",
		"conversationId": "c1",
		"messageId": "m1",
		"details": {"model": "gpt-4", "usage": {"total_tokens": 42}}
	}`)
	client := NewClient(srv.URL, time.Second)

	res, err := client.Complete(context.Background(), Request{Question: "capital of France?", Provider: chatgpt})
	require.NoError(t, err)

	assert.Equal(t, "Paris", res.Answer)
	assert.Equal(t, "gpt-4", res.Model)
	assert.Equal(t, 42, res.TokenUsage)
	assert.Equal(t, "c1", res.Continuation.ConversationID)
	assert.Equal(t, "m1", res.Continuation.ParentMessageID)
	assert.Nil(t, res.Continuation.Binding)

	sent := *body
	assert.Equal(t, "capital of France?", sent["message"])
	assert.Equal(t, false, sent["stream"])
	assert.Equal(t, map[string]any{"clientToUse": "chatgpt"}, sent["clientOptions"])
	assert.NotContains(t, sent, "conversationId")
	assert.NotContains(t, sent, "parentMessageId")
}

func TestComplete_ContinuedThread(t *testing.T) {
	srv, body := providerServer(t, http.StatusOK, `{"response":"Berlin","conversationId":"c1","messageId":"m2"}`)
	client := NewClient(srv.URL, time.Second)

	res, err := client.Complete(context.Background(), Request{
		Question:     "and Germany?",
		Provider:     chatgpt,
		Continuation: &session.Continuation{ConversationID: "c1", ParentMessageID: "m1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m2", res.Continuation.ParentMessageID)
	assert.Empty(t, res.Model)
	assert.Zero(t, res.TokenUsage)

	sent := *body
	assert.Equal(t, "c1", sent["conversationId"])
	assert.Equal(t, "m1", sent["parentMessageId"])
	assert.NotContains(t, sent, "conversationSignature")
}

func TestComplete_BoundProvider(t *testing.T) {
	srv, body := providerServer(t, http.StatusOK, `{
		"response": "hi",
		"conversationId": "c9",
		"messageId": "m9",
		"conversationSignature": "sig2",
		"clientId": "cl2",
		"invocationId": 3
	}`)
	client := NewClient(srv.URL, time.Second)

	res, err := client.Complete(context.Background(), Request{
		Question: "hello",
		Provider: bing,
		Continuation: &session.Continuation{
			ConversationID:  "c8",
			ParentMessageID: "m8",
			Binding:         &session.Binding{ConversationSignature: "sig1", ClientID: "cl1", InvocationID: "2"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Continuation.Binding)
	assert.Equal(t, "sig2", res.Continuation.Binding.ConversationSignature)
	assert.Equal(t, "cl2", res.Continuation.Binding.ClientID)
	assert.Equal(t, "3", res.Continuation.Binding.InvocationID)

	sent := *body
	assert.Equal(t, "sig1", sent["conversationSignature"])
	assert.Equal(t, "cl1", sent["clientId"])
	assert.Equal(t, float64(2), sent["invocationId"])
}

func TestComplete_IdsUnderDetails(t *testing.T) {
	srv, _ := providerServer(t, http.StatusOK, `{
		"response": "ok",
		"model": "top-level-model",
		"usage": {"total_tokens": 7},
		"details": {"conversationId": "c1", "messageId": "m1"}
	}`)
	client := NewClient(srv.URL, time.Second)

	res, err := client.Complete(context.Background(), Request{Question: "q", Provider: chatgpt})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.Continuation.ConversationID)
	assert.Equal(t, "m1", res.Continuation.ParentMessageID)
	assert.Equal(t, "top-level-model", res.Model)
	assert.Equal(t, 7, res.TokenUsage)
}

func TestComplete_MalformedResponses(t *testing.T) {
	tests := []struct {
		name     string
		provider session.Provider
		reply    string
	}{
		{"not json", chatgpt, `<html>oops</html>`},
		{"no answer", chatgpt, `{"conversationId":"c1","messageId":"m1"}`},
		{"no conversation id", chatgpt, `{"response":"x","messageId":"m1"}`},
		{"no message id", chatgpt, `{"response":"x","conversationId":"c1"}`},
		{"bound without signature", bing, `{"response":"x","conversationId":"c1","messageId":"m1","clientId":"cl"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := providerServer(t, http.StatusOK, tt.reply)
			client := NewClient(srv.URL, time.Second)

			_, err := client.Complete(context.Background(), Request{Question: "q", Provider: tt.provider})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv, _ := providerServer(t, http.StatusServiceUnavailable, `{"error":"overloaded"}`)
	client := NewClient(srv.URL, time.Second)

	_, err := client.Complete(context.Background(), Request{Question: "q", Provider: chatgpt})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "503")
}

func TestComplete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, time.Second)
	_, err := client.Complete(context.Background(), Request{Question: "q", Provider: chatgpt})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	client := NewClient(srv.URL, 50*time.Millisecond)
	_, err := client.Complete(context.Background(), Request{Question: "q", Provider: chatgpt})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestComplete_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, time.Minute)
	_, err := client.Complete(ctx, Request{Question: "q", Provider: chatgpt})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient("http://localhost", 0).Timeout())
	assert.Equal(t, 7*time.Second, NewClient("http://localhost", 7*time.Second).Timeout())
}

func TestFlexString(t *testing.T) {
	var f flexString
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &f))
	assert.Equal(t, flexString("abc"), f)
	require.NoError(t, json.Unmarshal([]byte(`12`), &f))
	assert.Equal(t, flexString("12"), f)
	require.NoError(t, json.Unmarshal([]byte(`null`), &f))
	assert.Equal(t, flexString(""), f)

	out, err := json.Marshal(flexString("5"))
	require.NoError(t, err)
	assert.Equal(t, "5", string(out))
	out, err = json.Marshal(flexString("x1"))
	require.NoError(t, err)
	assert.Equal(t, `"x1"`, string(out))
}
