package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/domain/timer"
	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
	"github.com/bghira/text-game-engine/internal/services/game/engine"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
	"github.com/bghira/text-game-engine/internal/services/game/storage/sqlite"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is the deterministic clock shared by the engine and tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubCompletion replays canned model outputs in order, repeating the last
// one when the queue runs dry.
type stubCompletion struct {
	mu      sync.Mutex
	outputs []string
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubCompletion) Complete(_ context.Context, _ engine.Prompt) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.outputs) == 0 {
		return `{"narration":"nothing happens"}`, nil
	}
	out := s.outputs[0]
	if len(s.outputs) > 1 {
		s.outputs = s.outputs[1:]
	}
	return out, nil
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func seedWorld(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateActor(ctx, storage.ActorRecord{ID: "A1", Kind: "human", CreatedAt: testEpoch, UpdatedAt: testEpoch}); err != nil {
		t.Fatalf("seed actor: %v", err)
	}
	if err := store.CreateCampaign(ctx, storage.CampaignRecord{
		ID:             "C1",
		Namespace:      "default",
		Name:           "C1",
		NameNormalized: "c1",
		CreatedAt:      testEpoch,
		UpdatedAt:      testEpoch,
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	if err := store.CreatePlayer(ctx, storage.PlayerRecord{
		ID:         "P1",
		CampaignID: "C1",
		ActorID:    "A1",
		Level:      1,
		CreatedAt:  testEpoch,
		UpdatedAt:  testEpoch,
	}); err != nil {
		t.Fatalf("seed player: %v", err)
	}
}

func countTurns(t *testing.T, store *sqlite.Store) int {
	t.Helper()
	turns, err := store.RecentTurns(context.Background(), "C1", 100)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	return len(turns)
}

func TestResolveTurnHappyPath(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{`{"narration":"You see a lamp."}`}},
		engine.WithClock(clock.Now))

	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if err != nil {
		t.Fatalf("resolve turn: %v", err)
	}
	if result.Narration != "You see a lamp." {
		t.Fatalf("narration = %q", result.Narration)
	}
	if result.RowVersion != 2 {
		t.Fatalf("row_version = %d, want 2", result.RowVersion)
	}
	if len(result.EmittedEvents) != 0 {
		t.Fatalf("expected no emitted events, got %d", len(result.EmittedEvents))
	}

	campaign, err := store.GetCampaign(ctx, "C1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.RowVersion != 2 {
		t.Fatalf("campaign row_version = %d, want 2", campaign.RowVersion)
	}
	if campaign.LastNarration != "You see a lamp." {
		t.Fatalf("last_narration = %q", campaign.LastNarration)
	}

	turns, err := store.RecentTurns(ctx, "C1", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Kind != turn.KindUser || turns[0].Content != "look" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Kind != turn.KindNarration || turns[1].Content != "You see a lamp." {
		t.Fatalf("unexpected narration turn: %+v", turns[1])
	}
	if turns[1].ID != result.NarrationTurnID {
		t.Fatalf("narration turn id mismatch: %d vs %d", turns[1].ID, result.NarrationTurnID)
	}

	if _, err := store.GetSnapshotByCampaignTurn(ctx, "C1", result.NarrationTurnID); err != nil {
		t.Fatalf("expected snapshot on narration turn: %v", err)
	}
	if _, err := store.GetActiveTimer(ctx, "C1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no timer, got %v", err)
	}
	for _, eventType := range []string{outbox.EventSceneImageRequested, outbox.EventTimerScheduled, outbox.EventMemoryPruneRequested} {
		events, err := store.ListOutboxEventsByType(ctx, "C1", eventType)
		if err != nil {
			t.Fatalf("list %s: %v", eventType, err)
		}
		if len(events) != 0 {
			t.Fatalf("expected no %s events, got %d", eventType, len(events))
		}
	}

	// The lease is released: a fresh claim for the same pair succeeds.
	acquired, err := store.AcquireOrStealInflight(ctx, storage.InflightTurnRecord{
		ID: "lease-x", CampaignID: "C1", ActorID: "A1", ClaimToken: "tok-x",
		ClaimedAt: clock.Now(), HeartbeatAt: clock.Now(), ExpiresAt: clock.Now().Add(time.Minute),
	})
	if err != nil || !acquired {
		t.Fatalf("expected lease released after commit: acquired=%v err=%v", acquired, err)
	}
}

func TestResolveTurnRetriesOnceOnCASConflict(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	// Simulate a competing commit between Phase B and Phase C of the first
	// attempt only.
	hook := func(ctx context.Context, _ *turn.Context, attempt int) error {
		if attempt != 0 {
			return nil
		}
		campaign, err := store.GetCampaign(ctx, "C1")
		if err != nil {
			return err
		}
		ok, err := store.CASUpdateCampaign(ctx, "C1", campaign.RowVersion, storage.CampaignCASUpdate{
			Summary:        campaign.Summary,
			StateJSON:      campaign.StateJSON,
			CharactersJSON: campaign.CharactersJSON,
			LastNarration:  campaign.LastNarration,
		}, clock.Now())
		if err != nil || !ok {
			t.Errorf("competing cas failed: ok=%v err=%v", ok, err)
		}
		return nil
	}

	eng := engine.New(store, &stubCompletion{},
		engine.WithClock(clock.Now),
		engine.WithMaxConflictRetries(1),
		engine.WithBeforePhaseC(hook))

	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if err != nil {
		t.Fatalf("resolve turn: %v", err)
	}
	if result.RowVersion != 3 {
		t.Fatalf("row_version = %d, want 3 (competitor bumped to 2, retry committed 3)", result.RowVersion)
	}
	if countTurns(t, store) != 2 {
		t.Fatalf("expected exactly one committed turn pair")
	}
}

func TestResolveTurnConflictExhaustsRetries(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	attempts := 0
	hook := func(ctx context.Context, _ *turn.Context, _ int) error {
		attempts++
		campaign, err := store.GetCampaign(ctx, "C1")
		if err != nil {
			return err
		}
		_, err = store.CASUpdateCampaign(ctx, "C1", campaign.RowVersion, storage.CampaignCASUpdate{
			Summary:        campaign.Summary,
			StateJSON:      campaign.StateJSON,
			CharactersJSON: campaign.CharactersJSON,
			LastNarration:  campaign.LastNarration,
		}, clock.Now())
		return err
	}

	eng := engine.New(store, &stubCompletion{},
		engine.WithClock(clock.Now),
		engine.WithMaxConflictRetries(1),
		engine.WithBeforePhaseC(hook))

	_, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, engine.ErrCASConflict) {
		t.Fatalf("expected ErrCASConflict, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if countTurns(t, store) != 0 {
		t.Fatal("expected no writes from losing attempts")
	}
	if _, err := store.GetActiveTimer(ctx, "C1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no timer writes, got %v", err)
	}
}

func TestResolveTurnLeaseHeld(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	acquired, err := store.AcquireOrStealInflight(ctx, storage.InflightTurnRecord{
		ID: "lease-1", CampaignID: "C1", ActorID: "A1", ClaimToken: "other-token",
		ClaimedAt: testEpoch, HeartbeatAt: testEpoch, ExpiresAt: testEpoch.Add(90 * time.Second),
	})
	if err != nil || !acquired {
		t.Fatalf("pre-claim: acquired=%v err=%v", acquired, err)
	}

	eng := engine.New(store, &stubCompletion{}, engine.WithClock(clock.Now))
	_, err = eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, engine.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}
	if countTurns(t, store) != 0 {
		t.Fatal("expected no writes on lease conflict")
	}
}

func TestResolveTurnStolenLeaseFailsAtCommit(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	hook := func(ctx context.Context, _ *turn.Context, _ int) error {
		// The original worker stalls past its TTL; a second worker steals
		// the lease.
		clock.Advance(91 * time.Second)
		stolen, err := store.AcquireOrStealInflight(ctx, storage.InflightTurnRecord{
			ID: "lease-thief", CampaignID: "C1", ActorID: "A1", ClaimToken: "thief-token",
			ClaimedAt: clock.Now(), HeartbeatAt: clock.Now(), ExpiresAt: clock.Now().Add(90 * time.Second),
		})
		if err != nil || !stolen {
			t.Errorf("steal failed: stolen=%v err=%v", stolen, err)
		}
		return nil
	}

	eng := engine.New(store, &stubCompletion{},
		engine.WithClock(clock.Now),
		engine.WithMaxConflictRetries(0),
		engine.WithBeforePhaseC(hook))

	_, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, engine.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if countTurns(t, store) != 0 {
		t.Fatal("expected zero writes after lease theft")
	}
}

func TestResolveTurnBadModelOutput(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{"not json at all", `{"narration":"recovered"}`}},
		engine.WithClock(clock.Now))

	_, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, apperrors.New(apperrors.CodeBadModelOutput, "")) {
		t.Fatalf("expected bad model output, got %v", err)
	}
	if countTurns(t, store) != 0 {
		t.Fatal("expected no writes on parse failure")
	}

	// The lease stays held until TTL; a resubmission inside the window is
	// rejected.
	_, err = eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, engine.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld inside TTL, got %v", err)
	}

	// Past TTL the claim is stealable and the turn goes through.
	clock.Advance(91 * time.Second)
	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if result.RowVersion != 2 {
		t.Fatalf("row_version = %d, want 2", result.RowVersion)
	}
}

func TestResolveTurnBlankNarrationFallsBack(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{`{"narration":""}`}},
		engine.WithClock(clock.Now))

	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "mumble"})
	if err != nil {
		t.Fatalf("resolve turn: %v", err)
	}
	const fallback = "The world shifts, but nothing clear emerges."
	if result.Narration != fallback {
		t.Fatalf("narration = %q, want fallback", result.Narration)
	}
	if result.RowVersion != 2 {
		t.Fatalf("row_version = %d, want 2", result.RowVersion)
	}

	turns, err := store.RecentTurns(ctx, "C1", 10)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected committed turn pair, got %d turns", len(turns))
	}
	if turns[1].Kind != turn.KindNarration || turns[1].Content != fallback {
		t.Fatalf("unexpected narration turn: %+v", turns[1])
	}

	campaign, err := store.GetCampaign(ctx, "C1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.LastNarration != fallback {
		t.Fatalf("last_narration = %q, want fallback", campaign.LastNarration)
	}
}

func TestResolveTurnPortFailure(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{err: errors.New("upstream 500")},
		engine.WithClock(clock.Now))

	_, err := eng.ResolveTurn(context.Background(), engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"})
	if !errors.Is(err, apperrors.New(apperrors.CodePortFailure, "")) {
		t.Fatalf("expected port failure, got %v", err)
	}
	if countTurns(t, store) != 0 {
		t.Fatal("expected no writes on port failure")
	}
}

func TestResolveTurnCampaignNotFound(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	eng := engine.New(store, &stubCompletion{}, engine.WithClock(clock.Now))

	_, err := eng.ResolveTurn(context.Background(), engine.ResolveTurnInput{CampaignID: "ghost", ActorID: "A1", Action: "look"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveTurnTimerScheduleAndBind(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{
		`{"narration":"The sky pales.","timer_instruction":{"kind":"schedule","delay_seconds":60,"event_text":"dawn","interruptible":true}}`,
	}}, engine.WithClock(clock.Now))

	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "wait"})
	if err != nil {
		t.Fatalf("resolve turn: %v", err)
	}

	active, err := store.GetActiveTimer(ctx, "C1")
	if err != nil {
		t.Fatalf("get active timer: %v", err)
	}
	if active.Status != timer.StatusScheduledUnbound {
		t.Fatalf("status = %q, want scheduled_unbound", active.Status)
	}
	if !active.DueAt.Equal(clock.Now().Add(60 * time.Second)) {
		t.Fatalf("due_at = %v, want +60s", active.DueAt)
	}

	events, err := store.ListOutboxEventsByType(ctx, "C1", outbox.EventTimerScheduled)
	if err != nil {
		t.Fatalf("list timer events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 timer_scheduled event, got %d", len(events))
	}
	if len(result.EmittedEvents) != 1 || result.EmittedEvents[0].EventType != outbox.EventTimerScheduled {
		t.Fatalf("unexpected emitted events: %+v", result.EmittedEvents)
	}

	attached, err := eng.AttachTimer(ctx, "C1", "M42", "chan-1", "")
	if err != nil || !attached {
		t.Fatalf("attach: attached=%v err=%v", attached, err)
	}
	active, err = store.GetActiveTimer(ctx, "C1")
	if err != nil {
		t.Fatalf("get active timer: %v", err)
	}
	if active.Status != timer.StatusScheduledBound || active.ExternalMessageID != "M42" {
		t.Fatalf("unexpected bound timer: %+v", active)
	}

	// Second attach stays a no-op transition (still bound, still one active
	// timer).
	if _, err := eng.AttachTimer(ctx, "C1", "M43", "chan-1", ""); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	due, err := store.ListDueTimers(ctx, clock.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected exactly one active timer, got %d", len(due))
	}
}

func TestResolveTurnTimerScheduleSupersedesActive(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{
		`{"narration":"first","timer_instruction":{"delay_seconds":60,"event_text":"first event"}}`,
		`{"narration":"second","timer_instruction":{"delay_seconds":120,"event_text":"second event"}}`,
	}}, engine.WithClock(clock.Now))

	if _, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "one"}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "two"}); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	active, err := store.GetActiveTimer(ctx, "C1")
	if err != nil {
		t.Fatalf("get active timer: %v", err)
	}
	if active.EventText != "second event" {
		t.Fatalf("active timer = %q, want the superseding one", active.EventText)
	}
}

func TestResolveTurnMinimumTimerDelay(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{
		`{"narration":"soon","timer_instruction":{"delay_seconds":5,"event_text":"too eager"}}`,
	}}, engine.WithClock(clock.Now))

	if _, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "rush"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	active, err := store.GetActiveTimer(ctx, "C1")
	if err != nil {
		t.Fatalf("get active timer: %v", err)
	}
	if !active.DueAt.Equal(clock.Now().Add(30 * time.Second)) {
		t.Fatalf("due_at = %v, want the 30s floor", active.DueAt)
	}
}

func TestResolveTurnSceneImageEvent(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{
		`{"narration":"A vault of gold.","player_state_update":{"location":"Vault"},"scene_image_prompt":"a golden vault"}`,
	}}, engine.WithClock(clock.Now))

	result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "enter vault"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	events, err := store.ListOutboxEventsByType(ctx, "C1", outbox.EventSceneImageRequested)
	if err != nil {
		t.Fatalf("list scene events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 scene event, got %d", len(events))
	}
	wantKey := outbox.SceneImageKey(result.NarrationTurnID, "vault")
	if events[0].IdempotencyKey != wantKey {
		t.Fatalf("idempotency key = %q, want %q", events[0].IdempotencyKey, wantKey)
	}
}

func TestResolveTurnAppliesStateAndProgression(t *testing.T) {
	store := openTestStore(t)
	seedWorld(t, store)
	ctx := context.Background()
	clock := newFakeClock()

	eng := engine.New(store, &stubCompletion{outputs: []string{
		`{"narration":"Deeper in.","state_update":{"depth":2},"summary_update":"The party descended.","xp_awarded":15,"player_state_update":{"torch":true}}`,
	}}, engine.WithClock(clock.Now))

	if _, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "descend"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	campaign, err := store.GetCampaign(ctx, "C1")
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if campaign.Summary != "The party descended." {
		t.Fatalf("summary = %q", campaign.Summary)
	}
	if campaign.StateJSON != `{"depth":2}` {
		t.Fatalf("state = %q", campaign.StateJSON)
	}

	player, err := store.GetPlayerByCampaignActor(ctx, "C1", "A1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if player.XP != 15 {
		t.Fatalf("xp = %d, want 15", player.XP)
	}
	if player.StateJSON != `{"torch":true}` {
		t.Fatalf("player state = %q", player.StateJSON)
	}
	if player.LastActiveAt == nil || !player.LastActiveAt.Equal(clock.Now()) {
		t.Fatalf("last_active_at = %v", player.LastActiveAt)
	}
}

func TestResolveTurnInputValidation(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	eng := engine.New(store, &stubCompletion{}, engine.WithClock(clock.Now))
	ctx := context.Background()

	cases := []engine.ResolveTurnInput{
		{ActorID: "A1", Action: "look"},
		{CampaignID: "C1", Action: "look"},
		{CampaignID: "C1", ActorID: "A1"},
	}
	for _, input := range cases {
		if _, err := eng.ResolveTurn(ctx, input); err == nil {
			t.Fatalf("expected validation error for %+v", input)
		}
	}
}

// heartbeatCountingStore counts lease heartbeats flowing through the store.
type heartbeatCountingStore struct {
	storage.Store
	mu    sync.Mutex
	beats int
}

func (s *heartbeatCountingStore) HeartbeatInflight(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	s.beats++
	s.mu.Unlock()
	return s.Store.HeartbeatInflight(ctx, campaignID, actorID, claimToken, now, expiresAt)
}

func TestResolveTurnHeartbeatsDuringSlowCompletion(t *testing.T) {
	inner := openTestStore(t)
	seedWorld(t, inner)
	store := &heartbeatCountingStore{Store: inner}

	eng := engine.New(store, &stubCompletion{delay: 80 * time.Millisecond},
		engine.WithHeartbeatInterval(10*time.Millisecond))

	if _, err := eng.ResolveTurn(context.Background(), engine.ResolveTurnInput{CampaignID: "C1", ActorID: "A1", Action: "look"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	store.mu.Lock()
	beats := store.beats
	store.mu.Unlock()
	if beats == 0 {
		t.Fatal("expected at least one heartbeat during slow completion")
	}
}
