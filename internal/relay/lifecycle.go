// ABOUTME: Privacy toggle and conversation reset
// ABOUTME: Both run against the store only and report the outcome to the user

package relay

import (
	"context"
	"fmt"
)

// TogglePrivacy flips the user's privacy flag and returns the new value.
func (r *Relay) TogglePrivacy(ctx context.Context, req Request, out Deliverer) (bool, error) {
	logger := r.logger.With("user_id", req.UserID, "operation", "toggle_privacy")

	unlock, err := r.locks.Lock(ctx, "privacy\x00"+req.UserID)
	if err != nil {
		return false, fmt.Errorf("waiting for privacy flag: %w", err)
	}
	defer unlock()

	current, err := r.store.GetPrivacy(ctx, req.UserID)
	if err != nil {
		return false, r.lifecycleFailed(ctx, out, req, "toggle_privacy", fmt.Errorf("reading privacy: %w", err))
	}
	next := !current
	if err := r.store.SetPrivacy(ctx, req.UserID, next); err != nil {
		return false, r.lifecycleFailed(ctx, out, req, "toggle_privacy", fmt.Errorf("writing privacy: %w", err))
	}
	unlock()

	r.metrics.Lifecycle.WithLabelValues("toggle_privacy", "ok").Inc()
	logger.Info("privacy toggled", "private", next)

	msg := MsgPrivateOff
	if next {
		msg = MsgPrivateOn
	}
	// The confirmation reveals the user's setting, so it goes to the user alone.
	if err := out.NotifyDirect(ctx, req, msg); err != nil {
		logger.Error("sending privacy confirmation", "error", err)
	}
	return next, nil
}

// Reset deletes every provider's conversation for the user and reports
// whether there was anything to delete.
func (r *Relay) Reset(ctx context.Context, req Request, out Deliverer) (bool, error) {
	logger := r.logger.With("user_id", req.UserID, "operation", "reset")

	existed, err := r.store.ResetAll(ctx, req.UserID)
	if err != nil {
		return false, r.lifecycleFailed(ctx, out, req, "reset", fmt.Errorf("resetting conversations: %w", err))
	}

	r.metrics.Lifecycle.WithLabelValues("reset", "ok").Inc()
	logger.Info("conversations reset", "existed", existed)

	msg := MsgResetNothing
	if existed {
		msg = MsgResetDone
	}
	r.notify(ctx, logger, out, req, msg)
	return existed, nil
}

func (r *Relay) lifecycleFailed(ctx context.Context, out Deliverer, req Request, op string, err error) error {
	logger := r.logger.With("user_id", req.UserID, "operation", op)
	r.metrics.Lifecycle.WithLabelValues(op, "error").Inc()
	logger.Error("lifecycle operation failed", "error", err)
	r.notify(ctx, logger, out, req, MsgLifecycleFailed)
	return err
}
