package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// AddEmbedding stores one opaque embedding vector for a turn.
func (s *Store) AddEmbedding(ctx context.Context, record storage.EmbeddingRecord) error {
	if record.TurnID <= 0 {
		return fmt.Errorf("embedding turn id is required")
	}
	if len(record.Embedding) == 0 {
		return fmt.Errorf("embedding vector is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO embeddings (turn_id, campaign_id, kind, content, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.TurnID,
		record.CampaignID,
		record.Kind,
		record.Content,
		record.Embedding,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add embedding: %w", err)
	}
	return nil
}

// DeleteEmbeddingsAfterTurn removes embeddings attached to turns above
// turnID.
func (s *Store) DeleteEmbeddingsAfterTurn(ctx context.Context, campaignID string, turnID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM embeddings
WHERE campaign_id = ? AND turn_id > ?
`, campaignID, turnID)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings after turn: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete embeddings rows affected: %w", err)
	}
	return deleted, nil
}

// AddMediaRef stores a pointer to generated media.
func (s *Store) AddMediaRef(ctx context.Context, record storage.MediaRefRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("media ref id is required")
	}
	if record.MetadataJSON == "" {
		record.MetadataJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO media_refs (
	id, campaign_id, player_id, ref_type, room_key, url, prompt,
	metadata_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.CampaignID,
		toNullString(record.PlayerID),
		record.RefType,
		toNullString(record.RoomKey),
		record.URL,
		toNullString(record.Prompt),
		record.MetadataJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("add media ref: %w", err)
	}
	return nil
}

// ListMediaRefsByCampaign returns a campaign's media pointers, oldest first.
func (s *Store) ListMediaRefsByCampaign(ctx context.Context, campaignID string) ([]storage.MediaRefRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, campaign_id, player_id, ref_type, room_key, url, prompt,
	metadata_json, created_at, updated_at
FROM media_refs
WHERE campaign_id = ?
ORDER BY created_at ASC, id ASC
`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list media refs: %w", err)
	}
	defer rows.Close()

	var refs []storage.MediaRefRecord
	for rows.Next() {
		var record storage.MediaRefRecord
		var playerID, roomKey, prompt stringOrNull
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&record.ID,
			&record.CampaignID,
			&playerID,
			&record.RefType,
			&roomKey,
			&record.URL,
			&prompt,
			&record.MetadataJSON,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan media ref: %w", err)
		}
		record.PlayerID = string(playerID)
		record.RoomKey = string(roomKey)
		record.Prompt = string(prompt)
		record.CreatedAt = fromMillis(createdAt)
		record.UpdatedAt = fromMillis(updatedAt)
		refs = append(refs, record)
	}
	return refs, rows.Err()
}

// stringOrNull scans nullable text columns straight into strings.
type stringOrNull string

func (s *stringOrNull) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = ""
	case string:
		*s = stringOrNull(v)
	case []byte:
		*s = stringOrNull(v)
	default:
		return fmt.Errorf("unsupported type %T for string column", value)
	}
	return nil
}
