package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// AddSnapshot persists the restore point for one narration turn. The
// turn_id uniqueness makes re-runs of the same commit idempotent failures
// rather than silent duplicates.
func (s *Store) AddSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("snapshot id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (
	id, turn_id, campaign_id, campaign_state_json, campaign_characters_json,
	campaign_summary, campaign_last_narration, players_json, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.TurnID,
		record.CampaignID,
		record.CampaignStateJSON,
		record.CampaignCharactersJSON,
		record.CampaignSummary,
		toNullString(record.CampaignLastNarration),
		record.PlayersJSON,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add snapshot: %w", err)
	}
	return nil
}

// GetSnapshotByCampaignTurn returns the snapshot attached to one turn of one
// campaign.
func (s *Store) GetSnapshotByCampaignTurn(ctx context.Context, campaignID string, turnID int64) (storage.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, turn_id, campaign_id, campaign_state_json, campaign_characters_json,
	campaign_summary, campaign_last_narration, players_json, created_at
FROM snapshots
WHERE campaign_id = ? AND turn_id = ?
`, campaignID, turnID)

	var record storage.SnapshotRecord
	var lastNarration sql.NullString
	var createdAt int64
	err := row.Scan(
		&record.ID,
		&record.TurnID,
		&record.CampaignID,
		&record.CampaignStateJSON,
		&record.CampaignCharactersJSON,
		&record.CampaignSummary,
		&lastNarration,
		&record.PlayersJSON,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SnapshotRecord{}, fmt.Errorf("get snapshot: %w", err)
	}
	record.CampaignLastNarration = lastNarration.String
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// DeleteSnapshotsAfterTurn removes snapshots attached to turns above turnID.
func (s *Store) DeleteSnapshotsAfterTurn(ctx context.Context, campaignID string, turnID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM snapshots
WHERE campaign_id = ? AND turn_id > ?
`, campaignID, turnID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots after turn: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete snapshots rows affected: %w", err)
	}
	return deleted, nil
}
