package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

func addTestTurn(t *testing.T, store *Store, campaignID string, kind turn.Kind, content string) int64 {
	t.Helper()
	turnID, err := store.AddTurn(context.Background(), storage.TurnRecord{
		CampaignID: campaignID,
		Kind:       kind,
		Content:    content,
		CreatedAt:  testEpoch,
	})
	if err != nil {
		t.Fatalf("add turn: %v", err)
	}
	return turnID
}

func TestAddTurnAssignsMonotonicIDs(t *testing.T) {
	store := openTestStore(t)
	seedCampaign(t, store, "camp-1")

	first := addTestTurn(t, store, "camp-1", turn.KindUser, "look")
	second := addTestTurn(t, store, "camp-1", turn.KindNarration, "You see a lamp.")
	if second <= first {
		t.Fatalf("expected monotonic ids, got %d then %d", first, second)
	}
}

func TestRecentTurnsReturnsAscendingWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")

	for i := 0; i < 5; i++ {
		addTestTurn(t, store, "camp-1", turn.KindUser, fmt.Sprintf("action %d", i))
	}

	recent, err := store.RecentTurns(ctx, "camp-1", 3)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(recent))
	}
	if recent[0].Content != "action 2" || recent[2].Content != "action 4" {
		t.Fatalf("expected newest window oldest-first, got %+v", recent)
	}
}

func TestDeleteTurnsAfterScopesToCampaign(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")
	seedCampaign(t, store, "camp-2")

	keep := addTestTurn(t, store, "camp-1", turn.KindNarration, "keep")
	addTestTurn(t, store, "camp-1", turn.KindNarration, "drop")
	otherCampaignTurn := addTestTurn(t, store, "camp-2", turn.KindNarration, "other")

	deleted, err := store.DeleteTurnsAfter(ctx, "camp-1", keep)
	if err != nil {
		t.Fatalf("delete turns after: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	remaining, err := store.RecentTurns(ctx, "camp-2", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != otherCampaignTurn {
		t.Fatal("expected other campaign's history untouched")
	}
}

func TestFindTurnByExternalMessageFallsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")

	narrationID, err := store.AddTurn(ctx, storage.TurnRecord{
		CampaignID:        "camp-1",
		Kind:              turn.KindNarration,
		Content:           "bound narration",
		ExternalMessageID: "M42",
		CreatedAt:         testEpoch,
	})
	if err != nil {
		t.Fatalf("add narration: %v", err)
	}
	userID, err := store.AddTurn(ctx, storage.TurnRecord{
		CampaignID:            "camp-1",
		Kind:                  turn.KindUser,
		Content:               "bound user",
		ExternalUserMessageID: "M99",
		CreatedAt:             testEpoch,
	})
	if err != nil {
		t.Fatalf("add user turn: %v", err)
	}

	found, err := store.FindTurnByExternalMessage(ctx, "camp-1", "M42")
	if err != nil {
		t.Fatalf("find by narration binding: %v", err)
	}
	if found.ID != narrationID {
		t.Fatalf("id = %d, want %d", found.ID, narrationID)
	}

	found, err = store.FindTurnByExternalMessage(ctx, "camp-1", "M99")
	if err != nil {
		t.Fatalf("find by user binding: %v", err)
	}
	if found.ID != userID {
		t.Fatalf("id = %d, want %d", found.ID, userID)
	}

	if _, err := store.FindTurnByExternalMessage(ctx, "camp-1", "M0"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotTurnUniqueness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")
	turnID := addTestTurn(t, store, "camp-1", turn.KindNarration, "narration")

	record := storage.SnapshotRecord{
		ID:                     "snap-1",
		TurnID:                 turnID,
		CampaignID:             "camp-1",
		CampaignStateJSON:      "{}",
		CampaignCharactersJSON: "{}",
		PlayersJSON:            `{"players":[]}`,
		CreatedAt:              testEpoch,
	}
	if err := store.AddSnapshot(ctx, record); err != nil {
		t.Fatalf("add snapshot: %v", err)
	}
	record.ID = "snap-2"
	if err := store.AddSnapshot(ctx, record); err == nil {
		t.Fatal("expected snapshot turn_id uniqueness violation")
	}
}

func TestDeleteSnapshotsAndEmbeddingsAfterTurn(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")

	first := addTestTurn(t, store, "camp-1", turn.KindNarration, "one")
	second := addTestTurn(t, store, "camp-1", turn.KindNarration, "two")

	for i, turnID := range []int64{first, second} {
		if err := store.AddSnapshot(ctx, storage.SnapshotRecord{
			ID:                     fmt.Sprintf("snap-%d", i),
			TurnID:                 turnID,
			CampaignID:             "camp-1",
			CampaignStateJSON:      "{}",
			CampaignCharactersJSON: "{}",
			PlayersJSON:            `{"players":[]}`,
			CreatedAt:              testEpoch,
		}); err != nil {
			t.Fatalf("add snapshot %d: %v", i, err)
		}
		if err := store.AddEmbedding(ctx, storage.EmbeddingRecord{
			TurnID:     turnID,
			CampaignID: "camp-1",
			Kind:       "narration",
			Content:    "text",
			Embedding:  []byte{1, 2, 3},
			CreatedAt:  testEpoch,
		}); err != nil {
			t.Fatalf("add embedding %d: %v", i, err)
		}
	}

	deletedSnapshots, err := store.DeleteSnapshotsAfterTurn(ctx, "camp-1", first)
	if err != nil {
		t.Fatalf("delete snapshots: %v", err)
	}
	if deletedSnapshots != 1 {
		t.Fatalf("deleted snapshots = %d, want 1", deletedSnapshots)
	}
	deletedEmbeddings, err := store.DeleteEmbeddingsAfterTurn(ctx, "camp-1", first)
	if err != nil {
		t.Fatalf("delete embeddings: %v", err)
	}
	if deletedEmbeddings != 1 {
		t.Fatalf("deleted embeddings = %d, want 1", deletedEmbeddings)
	}

	if _, err := store.GetSnapshotByCampaignTurn(ctx, "camp-1", first); err != nil {
		t.Fatalf("expected first snapshot to survive: %v", err)
	}
	if _, err := store.GetSnapshotByCampaignTurn(ctx, "camp-1", second); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected second snapshot gone, got %v", err)
	}
}
