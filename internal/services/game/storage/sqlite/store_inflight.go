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

// AcquireOrStealInflight claims the (campaign, actor) turn lease. A fresh
// insert wins outright; on conflict the existing lease is overwritten only
// when it has already expired (a steal). Reports whether the caller now
// holds the lease.
func (s *Store) AcquireOrStealInflight(ctx context.Context, record storage.InflightTurnRecord) (bool, error) {
	if strings.TrimSpace(record.ClaimToken) == "" {
		return false, fmt.Errorf("claim token is required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO inflight_turns (id, campaign_id, actor_id, claim_token, claimed_at, heartbeat_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.CampaignID,
		record.ActorID,
		record.ClaimToken,
		toMillis(record.ClaimedAt),
		toMillis(record.HeartbeatAt),
		toMillis(record.ExpiresAt),
	)
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, fmt.Errorf("acquire inflight lease: %w", err)
	}

	// A lease row exists; steal it only past its expiry.
	result, err := s.db.ExecContext(ctx, `
UPDATE inflight_turns
SET claim_token = ?, claimed_at = ?, heartbeat_at = ?, expires_at = ?
WHERE campaign_id = ? AND actor_id = ? AND expires_at < ?
`,
		record.ClaimToken,
		toMillis(record.ClaimedAt),
		toMillis(record.HeartbeatAt),
		toMillis(record.ExpiresAt),
		record.CampaignID,
		record.ActorID,
		toMillis(record.ClaimedAt),
	)
	if err != nil {
		return false, fmt.Errorf("steal inflight lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("steal inflight lease rows affected: %w", err)
	}
	return affected == 1, nil
}

// ValidateInflightToken reports whether the claim token still owns a live
// lease.
func (s *Store) ValidateInflightToken(ctx context.Context, campaignID, actorID, claimToken string, now time.Time) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT expires_at
FROM inflight_turns
WHERE campaign_id = ? AND actor_id = ? AND claim_token = ?
`, campaignID, actorID, claimToken)

	var expiresAt int64
	err := row.Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate inflight token: %w", err)
	}
	return !fromMillis(expiresAt).Before(now.UTC()), nil
}

// HeartbeatInflight extends a held lease. Returns false when the lease was
// stolen or released.
func (s *Store) HeartbeatInflight(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE inflight_turns
SET heartbeat_at = ?, expires_at = ?
WHERE campaign_id = ? AND actor_id = ? AND claim_token = ?
`,
		toMillis(now),
		toMillis(expiresAt),
		campaignID,
		actorID,
		claimToken,
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat inflight lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat inflight rows affected: %w", err)
	}
	return affected == 1, nil
}

// ReleaseInflight deletes a lease by claim token. Releasing an
// already-released lease affects zero rows and is not an error.
func (s *Store) ReleaseInflight(ctx context.Context, campaignID, actorID, claimToken string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM inflight_turns
WHERE campaign_id = ? AND actor_id = ? AND claim_token = ?
`, campaignID, actorID, claimToken)
	if err != nil {
		return 0, fmt.Errorf("release inflight lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release inflight rows affected: %w", err)
	}
	return affected, nil
}
