package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

const playerColumns = `
	id,
	campaign_id,
	actor_id,
	level,
	xp,
	attributes_json,
	state_json,
	last_active_at,
	created_at,
	updated_at
`

// CreatePlayer persists a new player membership row.
func (s *Store) CreatePlayer(ctx context.Context, record storage.PlayerRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("player id is required")
	}
	if record.Level == 0 {
		record.Level = 1
	}
	if record.AttributesJSON == "" {
		record.AttributesJSON = "{}"
	}
	if record.StateJSON == "" {
		record.StateJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO players (
	id, campaign_id, actor_id, level, xp, attributes_json, state_json,
	last_active_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.CampaignID,
		record.ActorID,
		record.Level,
		record.XP,
		record.AttributesJSON,
		record.StateJSON,
		toNullMillis(record.LastActiveAt),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	return nil
}

// GetPlayerByCampaignActor returns the player row for one actor in one
// campaign.
func (s *Store) GetPlayerByCampaignActor(ctx context.Context, campaignID, actorID string) (storage.PlayerRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE campaign_id = ? AND actor_id = ?
`, campaignID, actorID)
	return scanPlayer(row.Scan)
}

// ListPlayersByCampaign returns all players of a campaign ordered by
// creation.
func (s *Store) ListPlayersByCampaign(ctx context.Context, campaignID string) ([]storage.PlayerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+playerColumns+`
FROM players
WHERE campaign_id = ?
ORDER BY created_at ASC, id ASC
`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []storage.PlayerRecord
	for rows.Next() {
		record, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		players = append(players, record)
	}
	return players, rows.Err()
}

// UpdatePlayer overwrites a player's mutable progression fields.
func (s *Store) UpdatePlayer(ctx context.Context, record storage.PlayerRecord) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE players
SET
	level = ?,
	xp = ?,
	attributes_json = ?,
	state_json = ?,
	last_active_at = ?,
	updated_at = ?
WHERE id = ?
`,
		record.Level,
		record.XP,
		record.AttributesJSON,
		record.StateJSON,
		toNullMillis(record.LastActiveAt),
		toMillis(record.UpdatedAt),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update player rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPlayer(scan func(dest ...any) error) (storage.PlayerRecord, error) {
	var record storage.PlayerRecord
	var lastActiveAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(
		&record.ID,
		&record.CampaignID,
		&record.ActorID,
		&record.Level,
		&record.XP,
		&record.AttributesJSON,
		&record.StateJSON,
		&lastActiveAt,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.PlayerRecord{}, fmt.Errorf("scan player: %w", err)
	}
	record.LastActiveAt = fromNullMillis(lastActiveAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
