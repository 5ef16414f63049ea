package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

const turnColumns = `
	id,
	campaign_id,
	session_id,
	actor_id,
	kind,
	content,
	meta_json,
	external_message_id,
	external_user_message_id,
	created_at
`

// AddTurn appends a turn row and returns the assigned turn id.
func (s *Store) AddTurn(ctx context.Context, record storage.TurnRecord) (int64, error) {
	if !record.Kind.Valid() {
		return 0, fmt.Errorf("turn kind %q is invalid", record.Kind)
	}
	if record.MetaJSON == "" {
		record.MetaJSON = "{}"
	}
	result, err := s.db.ExecContext(ctx, `
INSERT INTO turns (
	campaign_id, session_id, actor_id, kind, content, meta_json,
	external_message_id, external_user_message_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.CampaignID,
		toNullString(record.SessionID),
		toNullString(record.ActorID),
		string(record.Kind),
		record.Content,
		record.MetaJSON,
		toNullString(record.ExternalMessageID),
		toNullString(record.ExternalUserMessageID),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("add turn: %w", err)
	}
	turnID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add turn last insert id: %w", err)
	}
	return turnID, nil
}

// RecentTurns returns the newest turns of a campaign in ascending id order.
func (s *Store) RecentTurns(ctx context.Context, campaignID string, limit int) ([]storage.TurnRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+turnColumns+`
FROM turns
WHERE campaign_id = ?
ORDER BY id DESC
LIMIT ?
`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []storage.TurnRecord
	for rows.Next() {
		record, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, err
		}
		turns = append(turns, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent turns: %w", err)
	}
	// Callers consume history oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// DeleteTurnsAfter removes the history suffix above turnID.
func (s *Store) DeleteTurnsAfter(ctx context.Context, campaignID string, turnID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM turns
WHERE campaign_id = ? AND id > ?
`, campaignID, turnID)
	if err != nil {
		return 0, fmt.Errorf("delete turns after: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete turns after rows affected: %w", err)
	}
	return deleted, nil
}

// FindTurnByExternalMessage resolves an external surface message id to a
// turn, preferring the narration binding over the user-message binding.
func (s *Store) FindTurnByExternalMessage(ctx context.Context, campaignID, messageID string) (storage.TurnRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+turnColumns+`
FROM turns
WHERE campaign_id = ? AND external_message_id = ?
ORDER BY id DESC
LIMIT 1
`, campaignID, messageID)
	record, err := scanTurn(row.Scan)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.TurnRecord{}, err
	}

	row = s.db.QueryRowContext(ctx, `
SELECT `+turnColumns+`
FROM turns
WHERE campaign_id = ? AND external_user_message_id = ?
ORDER BY id DESC
LIMIT 1
`, campaignID, messageID)
	return scanTurn(row.Scan)
}

func scanTurn(scan func(dest ...any) error) (storage.TurnRecord, error) {
	var record storage.TurnRecord
	var sessionID, actorID, externalMessageID, externalUserMessageID sql.NullString
	var kind string
	var createdAt int64

	err := scan(
		&record.ID,
		&record.CampaignID,
		&sessionID,
		&actorID,
		&kind,
		&record.Content,
		&record.MetaJSON,
		&externalMessageID,
		&externalUserMessageID,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TurnRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TurnRecord{}, fmt.Errorf("scan turn: %w", err)
	}
	record.SessionID = sessionID.String
	record.ActorID = actorID.String
	record.Kind = turn.Kind(kind)
	record.ExternalMessageID = externalMessageID.String
	record.ExternalUserMessageID = externalUserMessageID.String
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
