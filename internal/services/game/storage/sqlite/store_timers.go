package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bghira/text-game-engine/internal/services/game/domain/timer"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

const timerColumns = `
	id,
	campaign_id,
	session_id,
	status,
	event_text,
	interruptible,
	interrupt_action,
	due_at,
	fired_at,
	cancelled_at,
	external_message_id,
	external_channel_id,
	external_thread_id,
	meta_json,
	created_at,
	updated_at
`

// activeStatusClause matches the statuses that count toward the single
// active timer invariant.
const activeStatusClause = `status IN ('scheduled_unbound','scheduled_bound')`

// GetActiveTimer returns the campaign's single active timer.
func (s *Store) GetActiveTimer(ctx context.Context, campaignID string) (storage.TimerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE campaign_id = ? AND `+activeStatusClause+`
ORDER BY created_at DESC
LIMIT 1
`, campaignID)
	return scanTimer(row.Scan)
}

// ScheduleTimer inserts a new timer in scheduled_unbound state. The partial
// unique index rejects a second active timer for the campaign; callers must
// cancel the prior one in the same transaction first.
func (s *Store) ScheduleTimer(ctx context.Context, record storage.TimerRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("timer id is required")
	}
	if strings.TrimSpace(record.EventText) == "" {
		return fmt.Errorf("timer event text is required")
	}
	if record.Status == "" {
		record.Status = timer.StatusScheduledUnbound
	}
	if !record.Status.Valid() {
		return fmt.Errorf("timer status %q is invalid", record.Status)
	}
	if record.MetaJSON == "" {
		record.MetaJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO timers (
	id, campaign_id, session_id, status, event_text, interruptible,
	interrupt_action, due_at, fired_at, cancelled_at,
	external_message_id, external_channel_id, external_thread_id,
	meta_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.CampaignID,
		toNullString(record.SessionID),
		string(record.Status),
		record.EventText,
		record.Interruptible,
		toNullString(record.InterruptAction),
		toMillis(record.DueAt),
		toNullMillis(record.FiredAt),
		toNullMillis(record.CancelledAt),
		toNullString(record.ExternalMessageID),
		toNullString(record.ExternalChannelID),
		toNullString(record.ExternalThreadID),
		record.MetaJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("schedule timer: %w", err)
	}
	return nil
}

// AttachTimerMessage binds an active timer to its external surface message.
// Re-attaching an already-bound timer refreshes the binding and still
// reports success, so duplicate surface callbacks stay no-ops.
func (s *Store) AttachTimerMessage(ctx context.Context, timerID, messageID, channelID, threadID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE timers
SET
	status = 'scheduled_bound',
	external_message_id = ?,
	external_channel_id = ?,
	external_thread_id = ?,
	updated_at = ?
WHERE id = ? AND `+activeStatusClause+`
`,
		messageID,
		toNullString(channelID),
		toNullString(threadID),
		toMillis(now),
		timerID,
	)
	if err != nil {
		return false, fmt.Errorf("attach timer message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach timer rows affected: %w", err)
	}
	return affected == 1, nil
}

// CancelActiveTimers cancels whatever active timer the campaign holds and
// reports how many rows transitioned. Zero is a legal no-op.
func (s *Store) CancelActiveTimers(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE timers
SET status = 'cancelled', cancelled_at = ?, updated_at = ?
WHERE campaign_id = ? AND `+activeStatusClause+`
`,
		toMillis(now),
		toMillis(now),
		campaignID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel active timers: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel timers rows affected: %w", err)
	}
	return affected, nil
}

// MarkTimerExpired transitions an active timer to expired. Returns false when
// the timer already left the active set.
func (s *Store) MarkTimerExpired(ctx context.Context, timerID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE timers
SET status = 'expired', fired_at = ?, updated_at = ?
WHERE id = ? AND `+activeStatusClause+`
`,
		toMillis(now),
		toMillis(now),
		timerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark timer expired: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark timer expired rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkTimerConsumed transitions an expired timer to consumed.
func (s *Store) MarkTimerConsumed(ctx context.Context, timerID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE timers
SET status = 'consumed', updated_at = ?
WHERE id = ? AND status = 'expired'
`,
		toMillis(now),
		timerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark timer consumed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark timer consumed rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListDueTimers returns active timers whose due time has passed, oldest due
// first.
func (s *Store) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]storage.TimerRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE `+activeStatusClause+` AND due_at <= ?
ORDER BY due_at ASC, id ASC
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due timers: %w", err)
	}
	defer rows.Close()

	var timers []storage.TimerRecord
	for rows.Next() {
		record, err := scanTimer(rows.Scan)
		if err != nil {
			return nil, err
		}
		timers = append(timers, record)
	}
	return timers, rows.Err()
}

// ListExpiredTimers returns timers whose effects have not been consumed yet,
// oldest fired first. The worker retries these until consumption lands.
func (s *Store) ListExpiredTimers(ctx context.Context, limit int) ([]storage.TimerRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+timerColumns+`
FROM timers
WHERE status = 'expired'
ORDER BY fired_at ASC, id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired timers: %w", err)
	}
	defer rows.Close()

	var timers []storage.TimerRecord
	for rows.Next() {
		record, err := scanTimer(rows.Scan)
		if err != nil {
			return nil, err
		}
		timers = append(timers, record)
	}
	return timers, rows.Err()
}

func scanTimer(scan func(dest ...any) error) (storage.TimerRecord, error) {
	var record storage.TimerRecord
	var sessionID, interruptAction, externalMessageID, externalChannelID, externalThreadID sql.NullString
	var status string
	var dueAt int64
	var firedAt, cancelledAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(
		&record.ID,
		&record.CampaignID,
		&sessionID,
		&status,
		&record.EventText,
		&record.Interruptible,
		&interruptAction,
		&dueAt,
		&firedAt,
		&cancelledAt,
		&externalMessageID,
		&externalChannelID,
		&externalThreadID,
		&record.MetaJSON,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TimerRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TimerRecord{}, fmt.Errorf("scan timer: %w", err)
	}
	record.SessionID = sessionID.String
	record.Status = timer.Status(status)
	record.InterruptAction = interruptAction.String
	record.DueAt = fromMillis(dueAt)
	record.FiredAt = fromNullMillis(firedAt)
	record.CancelledAt = fromNullMillis(cancelledAt)
	record.ExternalMessageID = externalMessageID.String
	record.ExternalChannelID = externalChannelID.String
	record.ExternalThreadID = externalThreadID.String
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
