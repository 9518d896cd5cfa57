// ABOUTME: Resty-backed client for the provider's POST /conversation endpoint
// ABOUTME: Builds fresh or continued requests and validates the returned continuation

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/coven-relay/internal/session"
)

// DefaultTimeout bounds one provider round trip when no timeout is configured.
const DefaultTimeout = 100 * time.Second

var (
	// ErrTimeout means the provider did not answer within the request bound.
	ErrTimeout = errors.New("completion timed out")
	// ErrTransport means the request failed on the network or returned a non-2xx status.
	ErrTransport = errors.New("completion transport failure")
	// ErrMalformedResponse means the provider answered without the fields a turn needs.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// Request is one question to dispatch.
type Request struct {
	Question string
	Provider session.Provider
	// Continuation is nil for a fresh thread.
	Continuation *session.Continuation
}

// Result is a successful completion.
type Result struct {
	Answer       string
	Model        string // empty when the provider did not report it
	TokenUsage   int    // zero when the provider did not report it
	Continuation session.Continuation
}

// Completer is the contract the relay depends on.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// Client implements Completer over HTTP.
type Client struct {
	httpClient *resty.Client
	timeout    time.Duration
}

// NewClient creates a client for the provider at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
		timeout: timeout,
	}
}

// Timeout returns the configured request bound.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Complete sends the question and parses the provider's reply.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	body := buildBody(req)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post("/conversation")
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("posting conversation: %w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("posting conversation: %w: %w", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider returned %d: %w: %s", resp.StatusCode(), ErrTransport, truncate(resp.String(), 200))
	}

	var raw conversationResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w: %w", ErrMalformedResponse, err)
	}
	return raw.result(req.Provider.Kind)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var _ Completer = (*Client)(nil)
