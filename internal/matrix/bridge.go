// ABOUTME: Matrix bridge for coven-relay
// ABOUTME: Routes room commands to the relay and delivers replies to rooms and DMs

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/format"
	"github.com/2389/coven-relay/internal/relay"
)

// MsgUnknownCommand answers a prefixed word that is not a command.
const MsgUnknownCommand = "Command Not Found"

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for small Matrix API calls.
const networkTimeout = 10 * time.Second

// sendTimeout is the timeout for sending a message (they can be large).
const sendTimeout = 30 * time.Second

// Relay is the part of the orchestrator the bridge drives.
type Relay interface {
	Ask(ctx context.Context, req relay.Request, out relay.Deliverer) error
	TogglePrivacy(ctx context.Context, req relay.Request, out relay.Deliverer) (bool, error)
	Reset(ctx context.Context, req relay.Request, out relay.Deliverer) (bool, error)
}

// Options configures a Bridge.
type Options struct {
	UserID          id.UserID
	CommandPrefix   string
	AllowedRooms    []string
	AllowedUsers    []string
	TypingIndicator bool
	DedupeWindow    time.Duration
}

// Bridge connects Matrix rooms to the relay.
type Bridge struct {
	client Client
	relay  Relay
	opts   Options
	seen   *dedupe.Cache
	logger *slog.Logger
	now    func() time.Time

	dmMu sync.Mutex
	dms  map[id.UserID]id.RoomID

	// ctx is the parent context for command goroutines
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates a bridge sending through client.
func NewBridge(client Client, r Relay, opts Options, logger *slog.Logger) *Bridge {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client: client,
		relay:  r,
		opts:   opts,
		seen:   dedupe.New(opts.DedupeWindow, 10000, time.Minute),
		logger: logger.With("component", "matrix"),
		now:    time.Now,
		dms:    make(map[id.UserID]id.RoomID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run registers the bridge on m's syncer and syncs until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, m *mautrix.Client) error {
	b.logger.Info("starting matrix bridge", "user_id", b.opts.UserID, "prefix", b.opts.CommandPrefix)

	syncer, ok := m.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.HandleMessage)
	syncer.OnEventType(event.StateMember, b.HandleMembership)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- m.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.Close()
		return nil
	case err := <-syncErr:
		b.Close()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close cancels in-flight commands and waits for them to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
	b.seen.Close()
}

// HandleMessage processes one room message event.
func (b *Bridge) HandleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.opts.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return
	}
	if !b.isUserAllowed(evt.Sender.String()) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", evt.Sender)
		return
	}

	cmd, ok := ParseCommand(content.Body, b.opts.CommandPrefix)
	if !ok {
		return
	}

	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID)
		return
	}

	b.logger.Info("received command",
		"room", evt.RoomID,
		"sender", evt.Sender,
		"command", cmd.Name,
	)

	// Run the command in a goroutine to not block sync
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runCommand(b.ctx, evt, cmd)
	}()
}

// HandleMembership joins rooms the bot is invited to.
func (b *Bridge) HandleMembership(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != b.opts.UserID.String() {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) || !b.isUserAllowed(evt.Sender.String()) {
		b.logger.Debug("ignoring invite", "room", evt.RoomID, "sender", evt.Sender)
		return
	}

	jctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(jctx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (b *Bridge) runCommand(ctx context.Context, evt *event.Event, cmd Command) {
	req := relay.Request{
		ID:         evt.ID.String(),
		UserID:     evt.Sender.String(),
		UserTag:    evt.Sender.String(),
		Origin:     evt.RoomID.String(),
		ReceivedAt: time.UnixMilli(evt.Timestamp),
	}

	var err error
	switch cmd.Kind {
	case CommandAsk:
		req.Provider = cmd.Provider
		req.Question = cmd.Args
		if b.opts.TypingIndicator {
			b.setTyping(evt.RoomID, true)
			defer b.setTyping(evt.RoomID, false)
		}
		err = b.relay.Ask(ctx, req, b)
	case CommandTogglePrivacy:
		_, err = b.relay.TogglePrivacy(ctx, req, b)
	case CommandReset:
		_, err = b.relay.Reset(ctx, req, b)
	case CommandPing:
		err = b.ping(ctx, req)
	default:
		err = b.Notify(ctx, req, MsgUnknownCommand)
	}
	if err != nil {
		b.logger.Debug("command finished with error", "command", cmd.Name, "event_id", evt.ID, "error", err)
	}
}

// DeliverAnswer sends every segment of reply, routing direct and private
// segments to the sender's one-to-one room.
func (b *Bridge) DeliverAnswer(ctx context.Context, req relay.Request, reply format.Reply) error {
	origin := id.RoomID(req.Origin)

	if reply.Notice != "" {
		if err := b.send(ctx, origin, renderNotice(reply.Notice)); err != nil {
			return err
		}
	}

	for _, seg := range reply.Segments {
		target := origin
		if seg.Channel == format.ChannelDirect || seg.Private {
			dm, err := b.directRoom(ctx, id.UserID(req.UserID))
			if err != nil {
				return err
			}
			target = dm
		}
		if err := b.send(ctx, target, renderSegment(req, seg, reply.Meta)); err != nil {
			return fmt.Errorf("sending segment %d/%d: %w", seg.Index+1, seg.Total, err)
		}
	}
	return nil
}

// Notify posts a notice in the room the request came from.
func (b *Bridge) Notify(ctx context.Context, req relay.Request, text string) error {
	return b.send(ctx, id.RoomID(req.Origin), renderNotice(text))
}

// NotifyDirect posts a notice in the requester's one-to-one room.
func (b *Bridge) NotifyDirect(ctx context.Context, req relay.Request, text string) error {
	dm, err := b.directRoom(ctx, id.UserID(req.UserID))
	if err != nil {
		return err
	}
	return b.send(ctx, dm, renderNotice(text))
}

var _ relay.Deliverer = (*Bridge)(nil)

// directRoom returns the one-to-one room with user, creating it on first use.
func (b *Bridge) directRoom(ctx context.Context, user id.UserID) (id.RoomID, error) {
	b.dmMu.Lock()
	defer b.dmMu.Unlock()

	if room, ok := b.dms[user]; ok {
		return room, nil
	}

	cctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := b.client.CreateRoom(cctx, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		Invite:   []id.UserID{user},
		IsDirect: true,
	})
	if err != nil {
		return "", fmt.Errorf("creating direct room with %s: %w", user, err)
	}
	b.dms[user] = resp.RoomID
	b.logger.Info("created direct room", "user", user, "room", resp.RoomID)
	return resp.RoomID, nil
}

func (b *Bridge) ping(ctx context.Context, req relay.Request) error {
	latency := b.now().Sub(req.ReceivedAt)

	start := b.now()
	wctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.Whoami(wctx); err != nil {
		b.logger.Warn("homeserver ping failed", "error", err)
		return b.Notify(ctx, req, fmt.Sprintf("Event latency: %d ms.\nHomeserver roundtrip: failed", latency.Milliseconds()))
	}
	roundtrip := b.now().Sub(start)

	return b.Notify(ctx, req, fmt.Sprintf("Event latency: %d ms.\nHomeserver roundtrip: %d ms",
		latency.Milliseconds(), roundtrip.Milliseconds()))
}

func (b *Bridge) send(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := b.client.SendMessageEvent(sctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID, "error", err)
		return fmt.Errorf("sending to %s: %w", roomID, err)
	}
	return nil
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID, "error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	return len(b.opts.AllowedRooms) == 0 || slices.Contains(b.opts.AllowedRooms, roomID)
}

// isUserAllowed checks if the sender is in the allowed list.
func (b *Bridge) isUserAllowed(userID string) bool {
	return len(b.opts.AllowedUsers) == 0 || slices.Contains(b.opts.AllowedUsers, userID)
}

// Announce posts a Markdown message into roomID.
func (b *Bridge) Announce(ctx context.Context, roomID, message string) error {
	return b.send(ctx, id.RoomID(roomID), renderMarkdown(event.MsgText, message))
}

// drain waits for in-flight commands without cancelling them.
func (b *Bridge) drain() {
	b.wg.Wait()
}
