package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bghira/text-game-engine/internal/platform/id"
	"github.com/bghira/text-game-engine/internal/services/game/domain/blob"
	"github.com/bghira/text-game-engine/internal/services/game/domain/campaign"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// CreateActor registers a new actor identity and returns its record.
func (e *Engine) CreateActor(ctx context.Context, displayName, kind string) (storage.ActorRecord, error) {
	actorID, err := id.NewID()
	if err != nil {
		return storage.ActorRecord{}, fmt.Errorf("new actor id: %w", err)
	}
	if strings.TrimSpace(kind) == "" {
		kind = "human"
	}
	now := e.clock()
	record := storage.ActorRecord{
		ID:           actorID,
		DisplayName:  strings.TrimSpace(displayName),
		Kind:         kind,
		MetadataJSON: blob.Empty,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateActor(ctx, record); err != nil {
		return storage.ActorRecord{}, err
	}
	return record, nil
}

// GetOrCreateCampaign resolves a campaign by its (namespace, normalized
// name) key, creating it on first use. Creation races resolve through the
// uniqueness constraint: the loser re-reads the winner's row.
func (e *Engine) GetOrCreateCampaign(ctx context.Context, input campaign.CreateInput) (storage.CampaignRecord, error) {
	input, err := campaign.NormalizeCreateInput(input)
	if err != nil {
		return storage.CampaignRecord{}, err
	}
	nameNormalized := campaign.NormalizeName(input.Name)

	existing, err := e.store.GetCampaignByName(ctx, input.Namespace, nameNormalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.CampaignRecord{}, fmt.Errorf("lookup campaign: %w", err)
	}

	campaignID, err := id.NewID()
	if err != nil {
		return storage.CampaignRecord{}, fmt.Errorf("new campaign id: %w", err)
	}
	now := e.clock()
	record := storage.CampaignRecord{
		ID:               campaignID,
		Namespace:        input.Namespace,
		Name:             input.Name,
		NameNormalized:   nameNormalized,
		CreatedByActorID: input.CreatedByActorID,
		StateJSON:        blob.Empty,
		CharactersJSON:   blob.Empty,
		RowVersion:       1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if createErr := e.store.CreateCampaign(ctx, record); createErr != nil {
		// Another caller may have won the name; prefer their row.
		if existing, err := e.store.GetCampaignByName(ctx, input.Namespace, nameNormalized); err == nil {
			return existing, nil
		}
		return storage.CampaignRecord{}, fmt.Errorf("create campaign: %w", createErr)
	}
	return record, nil
}

// EnsureSession resolves a surface binding by its unique key, creating it on
// first use.
func (e *Engine) EnsureSession(ctx context.Context, campaignID, surface, surfaceKey, channelID, threadID string) (storage.SessionRecord, error) {
	surfaceKey = strings.TrimSpace(surfaceKey)
	if surfaceKey == "" {
		return storage.SessionRecord{}, fmt.Errorf("surface key is required")
	}

	existing, err := e.store.GetSessionBySurfaceKey(ctx, surfaceKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.SessionRecord{}, fmt.Errorf("lookup session: %w", err)
	}

	sessionID, err := id.NewID()
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("new session id: %w", err)
	}
	now := e.clock()
	record := storage.SessionRecord{
		ID:               sessionID,
		CampaignID:       campaignID,
		Surface:          surface,
		SurfaceKey:       surfaceKey,
		SurfaceChannelID: channelID,
		SurfaceThreadID:  threadID,
		Enabled:          true,
		MetadataJSON:     blob.Empty,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if createErr := e.store.CreateSession(ctx, record); createErr != nil {
		if existing, err := e.store.GetSessionBySurfaceKey(ctx, surfaceKey); err == nil {
			return existing, nil
		}
		return storage.SessionRecord{}, fmt.Errorf("create session: %w", createErr)
	}
	return record, nil
}
