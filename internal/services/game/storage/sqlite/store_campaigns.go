package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

const campaignColumns = `
	id,
	namespace,
	name,
	name_normalized,
	created_by_actor_id,
	summary,
	state_json,
	characters_json,
	last_narration,
	memory_visible_max_turn_id,
	row_version,
	created_at,
	updated_at
`

// CreateActor persists a new actor identity.
func (s *Store) CreateActor(ctx context.Context, record storage.ActorRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("actor id is required")
	}
	if record.Kind == "" {
		record.Kind = "human"
	}
	if record.MetadataJSON == "" {
		record.MetadataJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actors (id, display_name, kind, metadata_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.DisplayName,
		record.Kind,
		record.MetadataJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create actor: %w", err)
	}
	return nil
}

// GetActor returns one actor by id.
func (s *Store) GetActor(ctx context.Context, id string) (storage.ActorRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, display_name, kind, metadata_json, created_at, updated_at
FROM actors
WHERE id = ?
`, id)

	var record storage.ActorRecord
	var createdAt, updatedAt int64
	err := row.Scan(&record.ID, &record.DisplayName, &record.Kind, &record.MetadataJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ActorRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ActorRecord{}, fmt.Errorf("get actor: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// CreateCampaign persists a new campaign row at row_version 1.
func (s *Store) CreateCampaign(ctx context.Context, record storage.CampaignRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("campaign id is required")
	}
	if record.RowVersion == 0 {
		record.RowVersion = 1
	}
	if record.StateJSON == "" {
		record.StateJSON = "{}"
	}
	if record.CharactersJSON == "" {
		record.CharactersJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO campaigns (
	id, namespace, name, name_normalized, created_by_actor_id,
	summary, state_json, characters_json, last_narration,
	memory_visible_max_turn_id, row_version, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.Namespace,
		record.Name,
		record.NameNormalized,
		toNullString(record.CreatedByActorID),
		record.Summary,
		record.StateJSON,
		record.CharactersJSON,
		toNullString(record.LastNarration),
		nullTurnID(record.MemoryVisibleMaxTurnID),
		record.RowVersion,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign returns one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, id string) (storage.CampaignRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row.Scan)
}

// GetCampaignByName returns one campaign by its unique (namespace, normalized
// name) key.
func (s *Store) GetCampaignByName(ctx context.Context, namespace, nameNormalized string) (storage.CampaignRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+campaignColumns+`
FROM campaigns
WHERE namespace = ? AND name_normalized = ?
`, namespace, nameNormalized)
	return scanCampaign(row.Scan)
}

// CASUpdateCampaign conditionally applies a campaign write-set. The update
// lands only while the row still carries expectedRowVersion, and bumps the
// version by exactly one.
func (s *Store) CASUpdateCampaign(ctx context.Context, campaignID string, expectedRowVersion int64, update storage.CampaignCASUpdate, now time.Time) (bool, error) {
	query := `
UPDATE campaigns
SET
	summary = ?,
	state_json = ?,
	characters_json = ?,
	last_narration = ?,
	row_version = row_version + 1,
	updated_at = ?
`
	args := []any{
		update.Summary,
		update.StateJSON,
		update.CharactersJSON,
		toNullString(update.LastNarration),
		toMillis(now),
	}
	if update.MemoryVisibleMaxTurnID != nil {
		query += `, memory_visible_max_turn_id = ?`
		args = append(args, nullTurnID(*update.MemoryVisibleMaxTurnID))
	}
	query += `
WHERE id = ? AND row_version = ?
`
	args = append(args, campaignID, expectedRowVersion)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("cas update campaign: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cas update campaign rows affected: %w", err)
	}
	return affected == 1, nil
}

// CreateSession persists a new surface binding.
func (s *Store) CreateSession(ctx context.Context, record storage.SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if record.MetadataJSON == "" {
		record.MetadataJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (
	id, campaign_id, surface, surface_key, surface_channel_id, surface_thread_id,
	enabled, metadata_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.CampaignID,
		record.Surface,
		record.SurfaceKey,
		record.SurfaceChannelID,
		record.SurfaceThreadID,
		record.Enabled,
		record.MetadataJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSessionBySurfaceKey returns the session bound to a surface key.
func (s *Store) GetSessionBySurfaceKey(ctx context.Context, surfaceKey string) (storage.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, campaign_id, surface, surface_key, surface_channel_id, surface_thread_id,
	enabled, metadata_json, created_at, updated_at
FROM sessions
WHERE surface_key = ?
`, surfaceKey)

	var record storage.SessionRecord
	var createdAt, updatedAt int64
	err := row.Scan(
		&record.ID,
		&record.CampaignID,
		&record.Surface,
		&record.SurfaceKey,
		&record.SurfaceChannelID,
		&record.SurfaceThreadID,
		&record.Enabled,
		&record.MetadataJSON,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("get session by surface key: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func nullTurnID(turnID int64) sql.NullInt64 {
	if turnID <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: turnID, Valid: true}
}

func scanCampaign(scan func(dest ...any) error) (storage.CampaignRecord, error) {
	var record storage.CampaignRecord
	var createdByActorID sql.NullString
	var lastNarration sql.NullString
	var watermark sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(
		&record.ID,
		&record.Namespace,
		&record.Name,
		&record.NameNormalized,
		&createdByActorID,
		&record.Summary,
		&record.StateJSON,
		&record.CharactersJSON,
		&lastNarration,
		&watermark,
		&record.RowVersion,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CampaignRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CampaignRecord{}, fmt.Errorf("scan campaign: %w", err)
	}
	record.CreatedByActorID = createdByActorID.String
	record.LastNarration = lastNarration.String
	if watermark.Valid {
		record.MemoryVisibleMaxTurnID = watermark.Int64
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
