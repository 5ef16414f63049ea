package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
	"github.com/bghira/text-game-engine/internal/services/game/domain/blob"
	"github.com/bghira/text-game-engine/internal/services/game/domain/completion"
	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

type giveItemUnresolvedPayload struct {
	CampaignID string `json:"campaign_id"`
	ActorID    string `json:"actor_id"`
	Issue      string `json:"issue"`
	Item       string `json:"item,omitempty"`
	ToMention  string `json:"to_mention,omitempty"`
}

// giveItemIssue is a non-fatal give-item outcome reported through the outbox
// at the end of Phase C.
type giveItemIssue struct {
	issue     string
	item      string
	toMention string
}

// applyGiveItems resolves and applies each give-item instruction against the
// acting player's state. Unresolved targets and missing items become issues
// for later outbox reporting instead of failing the turn; only a broken
// resolver port aborts.
func (e *Engine) applyGiveItems(
	ctx context.Context,
	uow storage.UnitOfWork,
	input ResolveTurnInput,
	instructions []completion.GiveItemInstruction,
	playerState string,
	source storage.PlayerRecord,
	now time.Time,
) (string, []giveItemIssue, error) {
	var issues []giveItemIssue
	for _, instruction := range instructions {
		issue := ""
		targetActorID := instruction.ToActorID

		if instruction.Item == "" {
			issue = "missing_item"
		} else if targetActorID == "" && instruction.ToMention != "" && e.actors != nil {
			resolved, err := e.actors.Resolve(ctx, instruction.ToMention)
			if err != nil {
				return "", nil, apperrors.Wrap(apperrors.CodePortFailure, "actor resolver failed", err)
			}
			targetActorID = strings.TrimSpace(resolved)
		}

		if issue == "" && targetActorID == "" {
			issue = "unresolved_target"
		}

		if issue != "" {
			issues = append(issues, giveItemIssue{
				issue:     issue,
				item:      instruction.Item,
				toMention: instruction.ToMention,
			})
			continue
		}

		updated, err := e.transferItem(ctx, uow, input.CampaignID, source, playerState, targetActorID, instruction.Item, now)
		if err != nil {
			return "", nil, err
		}
		playerState = updated
	}
	return playerState, issues, nil
}

// emitGiveItemIssues reports the non-fatal give-item outcomes collected
// earlier in the phase.
func (e *Engine) emitGiveItemIssues(
	ctx context.Context,
	uow storage.UnitOfWork,
	input ResolveTurnInput,
	issues []giveItemIssue,
	emitted []storage.OutboxEventRecord,
	now time.Time,
) ([]storage.OutboxEventRecord, error) {
	for _, issue := range issues {
		payload, err := json.Marshal(giveItemUnresolvedPayload{
			CampaignID: input.CampaignID,
			ActorID:    input.ActorID,
			Issue:      issue.issue,
			Item:       issue.item,
			ToMention:  issue.toMention,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal give item payload: %w", err)
		}
		event, err := e.emitOutboxEvent(ctx, uow, input.CampaignID, input.SessionID,
			outbox.EventGiveItemUnresolved, outbox.GiveItemUnresolvedKey(input.ActorID, now), string(payload), now)
		if err != nil {
			return nil, err
		}
		emitted = append(emitted, event)
	}
	return emitted, nil
}

// transferItem moves one named item from the acting player's inventory to
// another player. Self-transfers, missing targets, and missing items are
// silent no-ops so the narration never contradicts the ledger.
func (e *Engine) transferItem(
	ctx context.Context,
	uow storage.UnitOfWork,
	campaignID string,
	source storage.PlayerRecord,
	sourceState string,
	targetActorID, itemName string,
	now time.Time,
) (string, error) {
	if source.ActorID == targetActorID {
		return sourceState, nil
	}

	target, err := uow.GetPlayerByCampaignActor(ctx, campaignID, targetActorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sourceState, nil
		}
		return "", fmt.Errorf("load give-item target: %w", err)
	}

	sourceInventory := blob.Inventory(sourceState)
	found := -1
	for i, item := range sourceInventory {
		if strings.EqualFold(item.Name, itemName) {
			found = i
			break
		}
	}
	if found < 0 {
		return sourceState, nil
	}
	moved := sourceInventory[found]
	sourceInventory = append(sourceInventory[:found], sourceInventory[found+1:]...)

	targetInventory := blob.Inventory(target.StateJSON)
	alreadyHeld := false
	for _, item := range targetInventory {
		if strings.EqualFold(item.Name, itemName) {
			alreadyHeld = true
			break
		}
	}
	if !alreadyHeld {
		targetInventory = append(targetInventory, blob.InventoryItem{
			Name:   moved.Name,
			Origin: fmt.Sprintf("Received from %s", source.ActorID),
		})
	}

	target.StateJSON = blob.SetInventory(target.StateJSON, targetInventory)
	target.UpdatedAt = now
	if err := uow.UpdatePlayer(ctx, target); err != nil {
		return "", fmt.Errorf("update give-item target: %w", err)
	}

	return blob.SetInventory(sourceState, sourceInventory), nil
}
