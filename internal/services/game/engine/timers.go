package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// AttachTimer binds the campaign's active timer to an external surface
// message, moving it from scheduled_unbound to scheduled_bound. Reports
// whether a timer was attached; a campaign without an active timer is a
// no-op, not an error.
func (e *Engine) AttachTimer(ctx context.Context, campaignID, messageID, channelID, threadID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message id is required")
	}
	active, err := e.store.GetActiveTimer(ctx, campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load active timer: %w", err)
	}
	attached, err := e.store.AttachTimerMessage(ctx, active.ID, messageID, channelID, threadID, e.clock())
	if err != nil {
		return false, fmt.Errorf("attach timer message: %w", err)
	}
	return attached, nil
}

// CancelTimer cancels the campaign's active timer if any. Reports how many
// timers transitioned.
func (e *Engine) CancelTimer(ctx context.Context, campaignID string) (int64, error) {
	cancelled, err := e.store.CancelActiveTimers(ctx, campaignID, e.clock())
	if err != nil {
		return 0, fmt.Errorf("cancel active timers: %w", err)
	}
	return cancelled, nil
}
