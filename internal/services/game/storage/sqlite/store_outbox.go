package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

const outboxColumns = `
	id,
	campaign_id,
	session_id,
	session_scope,
	event_type,
	idempotency_key,
	payload_json,
	status,
	attempts,
	next_attempt_at,
	created_at,
	updated_at
`

// AddOutboxEvent appends an externally-visible event. Outbox keys are
// idempotent; duplicate inserts for the same
// (campaign, session_scope, event_type, idempotency_key) are no-ops.
func (s *Store) AddOutboxEvent(ctx context.Context, record storage.OutboxEventRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("outbox event id is required")
	}
	if strings.TrimSpace(record.EventType) == "" {
		return fmt.Errorf("outbox event type is required")
	}
	if strings.TrimSpace(record.IdempotencyKey) == "" {
		return fmt.Errorf("outbox idempotency key is required")
	}
	if record.SessionScope == "" {
		record.SessionScope = outbox.SessionScope(record.SessionID)
	}
	if record.Status == "" {
		record.Status = outbox.StatusPending
	}
	if record.PayloadJSON == "" {
		record.PayloadJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox_events (
	id, campaign_id, session_id, session_scope, event_type, idempotency_key,
	payload_json, status, attempts, next_attempt_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (campaign_id, session_scope, event_type, idempotency_key) DO NOTHING
`,
		record.ID,
		record.CampaignID,
		toNullString(record.SessionID),
		record.SessionScope,
		record.EventType,
		record.IdempotencyKey,
		record.PayloadJSON,
		string(record.Status),
		record.Attempts,
		toNullMillis(record.NextAttemptAt),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("add outbox event: %w", err)
	}
	return nil
}

// ListDueOutboxEvents returns pending events whose retry time has arrived,
// oldest first.
func (s *Store) ListDueOutboxEvents(ctx context.Context, now time.Time, limit int) ([]storage.OutboxEventRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?
`, toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list due outbox events: %w", err)
	}
	defer rows.Close()

	var events []storage.OutboxEventRecord
	for rows.Next() {
		record, err := scanOutboxEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, record)
	}
	return events, rows.Err()
}

// ListOutboxEventsByType returns one campaign's events of a single type,
// oldest first. Used by inspection paths and tests.
func (s *Store) ListOutboxEventsByType(ctx context.Context, campaignID, eventType string) ([]storage.OutboxEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE campaign_id = ? AND event_type = ?
ORDER BY created_at ASC, id ASC
`, campaignID, eventType)
	if err != nil {
		return nil, fmt.Errorf("list outbox events by type: %w", err)
	}
	defer rows.Close()

	var events []storage.OutboxEventRecord
	for rows.Next() {
		record, err := scanOutboxEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, record)
	}
	return events, rows.Err()
}

// MarkOutboxEventSent finalizes a dispatched event.
func (s *Store) MarkOutboxEventSent(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE outbox_events
SET status = 'sent', updated_at = ?
WHERE id = ?
`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark outbox event sent: %w", err)
	}
	return nil
}

// RecordOutboxAttemptFailure counts a failed dispatch and schedules the next
// attempt; the event stays pending.
func (s *Store) RecordOutboxAttemptFailure(ctx context.Context, id string, nextAttemptAt, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE outbox_events
SET attempts = attempts + 1, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND status = 'pending'
`, toMillis(nextAttemptAt), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("record outbox attempt failure: %w", err)
	}
	return nil
}

// MarkOutboxEventFailed parks an event that exhausted its attempts.
func (s *Store) MarkOutboxEventFailed(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE outbox_events
SET status = 'failed', attempts = attempts + 1, updated_at = ?
WHERE id = ?
`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}

func scanOutboxEvent(scan func(dest ...any) error) (storage.OutboxEventRecord, error) {
	var record storage.OutboxEventRecord
	var sessionID sql.NullString
	var status string
	var nextAttemptAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(
		&record.ID,
		&record.CampaignID,
		&sessionID,
		&record.SessionScope,
		&record.EventType,
		&record.IdempotencyKey,
		&record.PayloadJSON,
		&status,
		&record.Attempts,
		&nextAttemptAt,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.OutboxEventRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OutboxEventRecord{}, fmt.Errorf("scan outbox event: %w", err)
	}
	record.SessionID = sessionID.String
	record.Status = outbox.Status(status)
	record.NextAttemptAt = fromNullMillis(nextAttemptAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
