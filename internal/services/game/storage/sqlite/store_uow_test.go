package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

func TestUnitOfWorkCommitMakesWritesVisible(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := uow.AddTurn(ctx, storage.TurnRecord{
		CampaignID: "camp-1",
		Kind:       turn.KindUser,
		Content:    "inside tx",
		CreatedAt:  testEpoch,
	}); err != nil {
		t.Fatalf("add turn in tx: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	turns, err := store.RecentTurns(ctx, "camp-1", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected committed turn visible, got %d", len(turns))
	}
}

func TestUnitOfWorkRollbackDiscardsAllWrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCampaign(t, store, "camp-1")

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := uow.AddTurn(ctx, storage.TurnRecord{
		CampaignID: "camp-1",
		Kind:       turn.KindUser,
		Content:    "doomed",
		CreatedAt:  testEpoch,
	}); err != nil {
		t.Fatalf("add turn in tx: %v", err)
	}
	ok, err := uow.CASUpdateCampaign(ctx, "camp-1", 1, storage.CampaignCASUpdate{StateJSON: "{}", CharactersJSON: "{}"}, testEpoch)
	if err != nil || !ok {
		t.Fatalf("cas in tx: ok=%v err=%v", ok, err)
	}
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	turns, err := store.RecentTurns(ctx, "camp-1", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected rollback to drop turn, got %d", len(turns))
	}
	campaign, err := store.GetCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.RowVersion != 1 {
		t.Fatalf("row_version = %d, want 1 after rollback", campaign.RowVersion)
	}
}

func TestUnitOfWorkDisallowsNesting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = uow.Rollback() }()

	if _, err := uow.(*UnitOfWork).Begin(ctx); err == nil {
		t.Fatal("expected nested begin to fail")
	}
}

func TestUnitOfWorkDoubleCommitFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := uow.Commit(); err == nil {
		t.Fatal("expected second commit to fail")
	}
	// Deferred rollbacks after commit are tolerated.
	if err := uow.Rollback(); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
}

func TestPlayerUniquenessPerCampaignActor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedActor(t, store, "actor-1")
	seedCampaign(t, store, "camp-1")
	seedPlayer(t, store, "player-1", "camp-1", "actor-1")

	err := store.CreatePlayer(ctx, storage.PlayerRecord{
		ID:         "player-2",
		CampaignID: "camp-1",
		ActorID:    "actor-1",
		CreatedAt:  testEpoch,
		UpdatedAt:  testEpoch,
	})
	if err == nil {
		t.Fatal("expected (campaign, actor) uniqueness violation")
	}

	if _, err := store.GetPlayerByCampaignActor(ctx, "camp-1", "actor-9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
