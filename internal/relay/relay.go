// ABOUTME: Session orchestrator driving a question from arrival to delivery
// ABOUTME: Serializes per (user, provider), persists continuations, formats and delivers answers

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/session"
	"github.com/2389/coven-relay/internal/store"
)

// PrivateFlag marks a single question as private when it appears in the text.
const PrivateFlag = "--private"

// DefaultMaxSegmentLength matches the common chat message limit.
const DefaultMaxSegmentLength = 2000

// ErrValidation is returned for requests that cannot be dispatched.
var ErrValidation = errors.New("invalid request")

// Request is one inbound question.
type Request struct {
	ID       string // generated when empty
	UserID   string
	UserTag  string // display name for the answer card
	Provider string // empty selects the default provider
	Question string
	// Origin identifies where the question was asked. The relay passes it
	// through to the Deliverer untouched.
	Origin     string
	ReceivedAt time.Time
}

// Deliverer shows results to the user.
type Deliverer interface {
	// DeliverAnswer delivers every segment of reply in order, and the notice
	// when the answer moved to the direct channel.
	DeliverAnswer(ctx context.Context, req Request, reply format.Reply) error
	// Notify posts a short status message in the origin channel.
	Notify(ctx context.Context, req Request, text string) error
	// NotifyDirect posts a short status message only the requesting user sees.
	NotifyDirect(ctx context.Context, req Request, text string) error
}

// Config configures a Relay.
type Config struct {
	Store            store.Store
	Completer        completion.Completer
	Providers        *session.Registry
	RequestTimeout   time.Duration
	MaxSegmentLength int
	Metrics          *Metrics
	Logger           *slog.Logger
}

// Relay is the session orchestrator.
type Relay struct {
	store     store.Store
	completer completion.Completer
	providers *session.Registry
	timeout   time.Duration
	maxLen    int
	locks     *keyLock
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("relay: completer is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("relay: provider registry is required")
	}

	r := &Relay{
		store:     cfg.Store,
		completer: cfg.Completer,
		providers: cfg.Providers,
		timeout:   cfg.RequestTimeout,
		maxLen:    cfg.MaxSegmentLength,
		locks:     newKeyLock(),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if r.timeout <= 0 {
		r.timeout = completion.DefaultTimeout
	}
	if r.maxLen <= 0 {
		r.maxLen = DefaultMaxSegmentLength
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "relay")
	return r, nil
}

// Providers returns the provider registry.
func (r *Relay) Providers() *session.Registry {
	return r.providers
}

// ParseQuestion strips the private flag from question and reports whether it
// was present. Only a whole whitespace-delimited token counts as the flag.
func ParseQuestion(question string) (string, bool) {
	fields := strings.Fields(question)
	kept := fields[:0:0]
	for _, f := range fields {
		if f != PrivateFlag {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(fields) {
		return strings.TrimSpace(question), false
	}
	return strings.Join(kept, " "), true
}

// Ask handles one question. The user always sees either the answer or a
// failure message; the returned error is for the caller's logs.
func (r *Relay) Ask(ctx context.Context, req Request, out Deliverer) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = r.now()
	}
	logger := r.logger.With("request_id", req.ID, "user_id", req.UserID, "provider", req.Provider)

	question, flagged := ParseQuestion(req.Question)
	if question == "" {
		r.metrics.Requests.WithLabelValues(labelProvider(req.Provider), "invalid").Inc()
		r.notify(ctx, logger, out, req, MsgEmptyQuestion)
		return fmt.Errorf("%w: empty question", ErrValidation)
	}
	req.Question = question

	provider, err := r.providers.Lookup(req.Provider)
	if err != nil {
		r.metrics.Requests.WithLabelValues("unknown", "invalid").Inc()
		r.notify(ctx, logger, out, req, fmt.Sprintf(MsgUnknownProvider, req.Provider, strings.Join(r.providers.Keys(), ", ")))
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	req.Provider = provider.Key
	logger = logger.With("provider", provider.Key)

	res, err := r.answer(ctx, logger, req, provider, flagged)
	if err != nil {
		r.metrics.Requests.WithLabelValues(provider.Key, outcome(err)).Inc()
		logger.Warn("question failed", "error", err)
		r.notify(ctx, logger, out, req, failureMessage(err))
		return err
	}

	reply := res.reply
	if err := out.DeliverAnswer(ctx, req, reply); err != nil {
		r.metrics.Requests.WithLabelValues(provider.Key, "undelivered").Inc()
		logger.Error("delivering answer", "error", err)
		return fmt.Errorf("delivering answer: %w", err)
	}
	for _, seg := range reply.Segments {
		r.metrics.Segments.WithLabelValues(seg.Channel.String()).Inc()
	}
	r.metrics.Requests.WithLabelValues(provider.Key, "ok").Inc()
	logger.Info("answer delivered", "segments", len(reply.Segments), "direct", reply.Direct())

	r.recordHistory(ctx, logger, req, res)
	return nil
}

// turn is a completed exchange ready for delivery.
type turn struct {
	reply           format.Reply
	parentMessageID string
}

// answer runs Start through Format.
func (r *Relay) answer(ctx context.Context, logger *slog.Logger, req Request, provider session.Provider, flagged bool) (*turn, error) {
	private, err := r.store.GetPrivacy(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("reading privacy: %w", err)
	}
	private = private || flagged

	unlock, err := r.locks.Lock(ctx, lockKey(req.UserID, provider.Key))
	if err != nil {
		return nil, fmt.Errorf("waiting for session: %w", err)
	}
	defer unlock()

	var cont *session.Continuation
	prev, err := r.store.GetState(ctx, req.UserID, provider.Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Debug("no conversation found, starting a new one")
	case err != nil:
		return nil, fmt.Errorf("reading conversation: %w", err)
	default:
		cont = &prev.Continuation
	}

	res, err := r.dispatch(ctx, logger, completion.Request{
		Question:     req.Question,
		Provider:     provider,
		Continuation: cont,
	})
	if err != nil {
		return nil, err
	}
	if res.Answer == "" {
		return nil, fmt.Errorf("%w: no answer text", completion.ErrMalformedResponse)
	}
	if err := res.Continuation.Validate(provider.Kind); err != nil {
		return nil, fmt.Errorf("%w: %w", completion.ErrMalformedResponse, err)
	}

	next := &session.State{
		UserID:       req.UserID,
		Provider:     provider.Key,
		Continuation: res.Continuation,
		UpdatedAt:    r.now(),
	}
	if err := r.store.PutState(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}
	unlock()

	reply, err := format.Format(res.Answer, format.Meta{Model: res.Model, TokenUsage: res.TokenUsage}, format.Options{
		MaxSegmentLength: r.maxLen,
		Private:          private,
	})
	if err != nil {
		return nil, fmt.Errorf("formatting answer: %w", err)
	}
	return &turn{reply: reply, parentMessageID: res.Continuation.ParentMessageID}, nil
}

type dispatchOutcome struct {
	res *completion.Result
	err error
}

// dispatch calls the completer in its own goroutine and stops waiting when
// the request timeout fires. A result arriving after that is discarded.
func (r *Relay) dispatch(ctx context.Context, logger *slog.Logger, creq completion.Request) (*completion.Result, error) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	done := make(chan dispatchOutcome, 1)
	go func() {
		res, err := r.completer.Complete(dctx, creq)
		done <- dispatchOutcome{res: res, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		r.metrics.DispatchDuration.WithLabelValues(creq.Provider.Key).Observe(time.Since(start).Seconds())
		if o.err != nil {
			return nil, o.err
		}
		if o.res == nil {
			return nil, fmt.Errorf("%w: empty result", completion.ErrMalformedResponse)
		}
		return o.res, nil
	case <-timer.C:
		go r.discardLate(logger, done)
		return nil, fmt.Errorf("no answer after %s: %w", r.timeout, completion.ErrTimeout)
	case <-ctx.Done():
		go r.discardLate(logger, done)
		return nil, fmt.Errorf("waiting for completion: %w", ctx.Err())
	}
}

func (r *Relay) discardLate(logger *slog.Logger, done <-chan dispatchOutcome) {
	o := <-done
	if o.err == nil {
		r.metrics.LateResults.Inc()
		logger.Warn("discarding completion that arrived after timeout")
	}
}

func (r *Relay) recordHistory(ctx context.Context, logger *slog.Logger, req Request, t *turn) {
	rec := &store.HistoryRecord{
		ID:              req.ID,
		UserID:          req.UserID,
		UserTag:         req.UserTag,
		Provider:        req.Provider,
		Question:        req.Question,
		Answer:          t.reply.Text(),
		ParentMessageID: t.parentMessageID,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.store.SaveHistory(ctx, rec); err != nil {
		logger.Error("saving chat history", "error", err)
	}
}

func (r *Relay) notify(ctx context.Context, logger *slog.Logger, out Deliverer, req Request, text string) {
	if err := out.Notify(ctx, req, text); err != nil {
		logger.Error("sending notice", "error", err)
	}
}

func lockKey(userID, provider string) string {
	return userID + "\x00" + provider
}

func labelProvider(p string) string {
	if p == "" {
		return "default"
	}
	return p
}

func outcome(err error) string {
	switch {
	case errors.Is(err, completion.ErrTimeout):
		return "timeout"
	case errors.Is(err, completion.ErrTransport):
		return "transport"
	case errors.Is(err, completion.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, store.ErrUnavailable):
		return "storage"
	default:
		return "error"
	}
}
