package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open game store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close game store: %v", err)
		}
	})
	return store
}

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedActor(t *testing.T, store *Store, actorID string) {
	t.Helper()
	err := store.CreateActor(context.Background(), storage.ActorRecord{
		ID:        actorID,
		Kind:      "human",
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	})
	if err != nil {
		t.Fatalf("seed actor %s: %v", actorID, err)
	}
}

func seedCampaign(t *testing.T, store *Store, campaignID string) {
	t.Helper()
	err := store.CreateCampaign(context.Background(), storage.CampaignRecord{
		ID:             campaignID,
		Namespace:      "default",
		Name:           campaignID,
		NameNormalized: campaignID,
		CreatedAt:      testEpoch,
		UpdatedAt:      testEpoch,
	})
	if err != nil {
		t.Fatalf("seed campaign %s: %v", campaignID, err)
	}
}

func seedPlayer(t *testing.T, store *Store, playerID, campaignID, actorID string) {
	t.Helper()
	err := store.CreatePlayer(context.Background(), storage.PlayerRecord{
		ID:         playerID,
		CampaignID: campaignID,
		ActorID:    actorID,
		CreatedAt:  testEpoch,
		UpdatedAt:  testEpoch,
	})
	if err != nil {
		t.Fatalf("seed player %s: %v", playerID, err)
	}
}
