package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bghira/text-game-engine/internal/services/game/domain/blob"
	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// RewindResult reports what a rewind removed.
type RewindResult struct {
	TargetTurnID     int64
	DeletedTurns     int64
	DeletedSnapshots int64
	RowVersion       int64
}

type memoryPrunePayload struct {
	CampaignID  string `json:"campaign_id"`
	AfterTurnID int64  `json:"after_turn_id"`
}

// RewindToTurn restores the snapshot attached to targetTurnID, prunes the
// turn/snapshot/embedding suffix above it, sets the memory visibility
// watermark, bumps the row version, and enqueues a memory-prune request.
// All of it commits in one transaction.
//
// Rewinding to the same target twice is idempotent: the second call deletes
// nothing and the prune event's idempotency key suppresses a duplicate row.
func (e *Engine) RewindToTurn(ctx context.Context, campaignID string, targetTurnID int64) (RewindResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.rewind_to_turn", trace.WithAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.Int64("turn.id", targetTurnID),
	))
	defer span.End()

	now := e.clock()

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return RewindResult{}, fmt.Errorf("begin rewind: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	campaignRecord, err := uow.GetCampaign(ctx, campaignID)
	if err != nil {
		return RewindResult{}, fmt.Errorf("load campaign: %w", err)
	}

	snapshot, err := uow.GetSnapshotByCampaignTurn(ctx, campaignID, targetTurnID)
	if errors.Is(err, storage.ErrNotFound) {
		return RewindResult{}, ErrNoSnapshot
	}
	if err != nil {
		return RewindResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	if err := restorePlayers(ctx, uow, campaignID, snapshot.PlayersJSON, now); err != nil {
		return RewindResult{}, err
	}

	deletedSnapshots, err := uow.DeleteSnapshotsAfterTurn(ctx, campaignID, targetTurnID)
	if err != nil {
		return RewindResult{}, fmt.Errorf("prune snapshots: %w", err)
	}
	if _, err := uow.DeleteEmbeddingsAfterTurn(ctx, campaignID, targetTurnID); err != nil {
		return RewindResult{}, fmt.Errorf("prune embeddings: %w", err)
	}
	deletedTurns, err := uow.DeleteTurnsAfter(ctx, campaignID, targetTurnID)
	if err != nil {
		return RewindResult{}, fmt.Errorf("prune turns: %w", err)
	}

	watermark := targetTurnID
	casOK, err := uow.CASUpdateCampaign(ctx, campaignID, campaignRecord.RowVersion, storage.CampaignCASUpdate{
		Summary:                snapshot.CampaignSummary,
		StateJSON:              blob.Normalize(snapshot.CampaignStateJSON),
		CharactersJSON:         blob.Normalize(snapshot.CampaignCharactersJSON),
		LastNarration:          snapshot.CampaignLastNarration,
		MemoryVisibleMaxTurnID: &watermark,
	}, now)
	if err != nil {
		return RewindResult{}, fmt.Errorf("campaign cas update: %w", err)
	}
	if !casOK {
		return RewindResult{}, ErrCASConflict
	}

	payload, err := json.Marshal(memoryPrunePayload{CampaignID: campaignID, AfterTurnID: targetTurnID})
	if err != nil {
		return RewindResult{}, fmt.Errorf("marshal prune payload: %w", err)
	}
	if _, err := e.emitOutboxEvent(ctx, uow, campaignID, "",
		outbox.EventMemoryPruneRequested, outbox.MemoryPruneKey(targetTurnID), string(payload), now); err != nil {
		return RewindResult{}, err
	}

	if err := uow.Commit(); err != nil {
		return RewindResult{}, fmt.Errorf("commit rewind: %w", err)
	}

	return RewindResult{
		TargetTurnID:     targetTurnID,
		DeletedTurns:     deletedTurns,
		DeletedSnapshots: deletedSnapshots,
		RowVersion:       campaignRecord.RowVersion + 1,
	}, nil
}

// RewindToMessage resolves an external surface message id to its turn and
// rewinds there. The narration binding is checked before the user-message
// binding.
func (e *Engine) RewindToMessage(ctx context.Context, campaignID, messageID string) (RewindResult, error) {
	record, err := e.store.FindTurnByExternalMessage(ctx, campaignID, messageID)
	if err != nil {
		return RewindResult{}, fmt.Errorf("resolve message to turn: %w", err)
	}
	return e.RewindToTurn(ctx, campaignID, record.ID)
}

// restorePlayers applies the per-player projections stored in a snapshot.
// Players that joined after the snapshot keep their current rows; only
// projected players are rewritten.
func restorePlayers(ctx context.Context, uow storage.UnitOfWork, campaignID, playersJSON string, now time.Time) error {
	players := gjson.Get(playersJSON, "players")
	if !players.IsArray() {
		return nil
	}
	for _, projected := range players.Array() {
		actorID := strings.TrimSpace(projected.Get("actor_id").String())
		if actorID == "" {
			continue
		}
		player, err := uow.GetPlayerByCampaignActor(ctx, campaignID, actorID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load player for restore: %w", err)
		}
		if level := projected.Get("level"); level.Exists() {
			player.Level = int(level.Int())
		}
		if xp := projected.Get("xp"); xp.Exists() {
			player.XP = int(xp.Int())
		}
		if attributes := projected.Get("attributes_json"); attributes.Exists() {
			player.AttributesJSON = blob.Normalize(attributes.String())
		}
		if state := projected.Get("state_json"); state.Exists() {
			player.StateJSON = blob.Normalize(state.String())
		}
		player.UpdatedAt = now
		if err := uow.UpdatePlayer(ctx, player); err != nil {
			return fmt.Errorf("restore player: %w", err)
		}
	}
	return nil
}
