// Package engine implements the three-phase turn resolver and its companion
// operations (rewind, memory visibility, timer attachment).
//
// A turn straddles a long external completion call, so the engine splits it
// into two short transactions around a transaction-free middle: Phase A
// claims the per-actor lease and snapshots the campaign at a row version,
// Phase B calls the completion port while heartbeating the lease, and Phase C
// revalidates the lease, commits behind a compare-and-set on the row version,
// and emits outbox events.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
	"github.com/bghira/text-game-engine/internal/platform/id"
	"github.com/bghira/text-game-engine/internal/services/game/domain/blob"
	"github.com/bghira/text-game-engine/internal/services/game/domain/completion"
	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/domain/timer"
	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// Sentinel errors callers match with errors.Is.
var (
	// ErrLeaseHeld reports another non-expired lease for the (campaign, actor).
	ErrLeaseHeld = apperrors.New(apperrors.CodeLeaseHeld, "turn already in flight for actor")
	// ErrLeaseLost reports a lease stolen before Phase C could commit.
	ErrLeaseLost = apperrors.New(apperrors.CodeLeaseLost, "turn lease lost before commit")
	// ErrCASConflict reports a campaign row version that moved mid-turn.
	ErrCASConflict = apperrors.New(apperrors.CodeCASConflict, "campaign row version changed mid-turn")
	// ErrNoSnapshot reports a rewind target without a snapshot.
	ErrNoSnapshot = apperrors.New(apperrors.CodeNoSnapshot, "rewind target has no snapshot")
)

// Defaults for the tunable knobs.
const (
	DefaultLeaseTTL           = 90 * time.Second
	DefaultMaxConflictRetries = 1

	defaultRecentTurnLimit = 24

	narrationFallback = "The world shifts, but nothing clear emerges."
)

// Clock supplies the engine's notion of now. Lease expiry and timer due
// times share it.
type Clock func() time.Time

// BeforePhaseCHook runs between Phase B and Phase C. It observes the turn
// context and the attempt number; it is not handed a transaction.
type BeforePhaseCHook func(ctx context.Context, tctx *turn.Context, attempt int) error

// Engine resolves turns against a storage backend and a completion port.
type Engine struct {
	store              storage.Store
	completion         TextCompletion
	actors             ActorResolver
	clock              Clock
	leaseTTL           time.Duration
	heartbeatInterval  time.Duration
	maxConflictRetries int
	recentTurnLimit    int
	beforePhaseC       BeforePhaseCHook
	tracer             trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a deterministic clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLeaseTTL overrides the inflight lease time-to-live.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.leaseTTL = ttl
		}
	}
}

// WithMaxConflictRetries overrides how many times a CAS loser restarts from
// Phase A. Zero disables retries.
func WithMaxConflictRetries(retries int) Option {
	return func(e *Engine) {
		if retries >= 0 {
			e.maxConflictRetries = retries
		}
	}
}

// WithActorResolver wires the mention-resolution capability for give-item
// targets.
func WithActorResolver(resolver ActorResolver) Option {
	return func(e *Engine) {
		e.actors = resolver
	}
}

// WithRecentTurnLimit bounds the history window loaded in Phase A.
func WithRecentTurnLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.recentTurnLimit = limit
		}
	}
}

// WithHeartbeatInterval overrides the Phase B heartbeat cadence.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.heartbeatInterval = interval
		}
	}
}

// WithBeforePhaseC installs a hook between Phase B and Phase C.
func WithBeforePhaseC(hook BeforePhaseCHook) Option {
	return func(e *Engine) {
		e.beforePhaseC = hook
	}
}

// New builds an engine. Store and completion are required; everything else
// has defaults.
func New(store storage.Store, textCompletion TextCompletion, opts ...Option) *Engine {
	e := &Engine{
		store:              store,
		completion:         textCompletion,
		clock:              func() time.Time { return time.Now().UTC() },
		leaseTTL:           DefaultLeaseTTL,
		maxConflictRetries: DefaultMaxConflictRetries,
		recentTurnLimit:    defaultRecentTurnLimit,
		tracer:             otel.Tracer("game/engine"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.heartbeatInterval <= 0 {
		e.heartbeatInterval = e.leaseTTL / 3
	}
	return e
}

// ResolveTurnInput names the campaign, the acting actor, the action text,
// and an optional session surface.
type ResolveTurnInput struct {
	CampaignID string
	ActorID    string
	Action     string
	SessionID  string
}

func (input ResolveTurnInput) normalize() (ResolveTurnInput, error) {
	input.CampaignID = strings.TrimSpace(input.CampaignID)
	if input.CampaignID == "" {
		return ResolveTurnInput{}, apperrors.New(apperrors.CodeCampaignIDEmpty, "campaign id is required")
	}
	input.ActorID = strings.TrimSpace(input.ActorID)
	if input.ActorID == "" {
		return ResolveTurnInput{}, apperrors.New(apperrors.CodeActorIDEmpty, "actor id is required")
	}
	input.Action = strings.TrimSpace(input.Action)
	if input.Action == "" {
		return ResolveTurnInput{}, apperrors.New(apperrors.CodeActionEmpty, "action text is required")
	}
	input.SessionID = strings.TrimSpace(input.SessionID)
	return input, nil
}

// ResolveTurnResult reports a committed turn.
type ResolveTurnResult struct {
	Narration       string
	NarrationTurnID int64
	RowVersion      int64
	EmittedEvents   []storage.OutboxEventRecord
}

// ResolveTurn runs the three-phase turn protocol. A CAS loser restarts from
// Phase A up to the configured retry budget; every other failure aborts.
func (e *Engine) ResolveTurn(ctx context.Context, input ResolveTurnInput) (ResolveTurnResult, error) {
	input, err := input.normalize()
	if err != nil {
		return ResolveTurnResult{}, err
	}

	ctx, span := e.tracer.Start(ctx, "engine.resolve_turn", trace.WithAttributes(
		attribute.String("campaign.id", input.CampaignID),
		attribute.String("actor.id", input.ActorID),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= e.maxConflictRetries; attempt++ {
		claimToken := uuid.NewString()

		tctx, err := e.phaseA(ctx, input, claimToken)
		if err != nil {
			return ResolveTurnResult{}, err
		}

		output, err := e.phaseB(ctx, input, tctx, claimToken)
		if err != nil {
			return ResolveTurnResult{}, err
		}

		if e.beforePhaseC != nil {
			if err := e.beforePhaseC(ctx, tctx, attempt); err != nil {
				return ResolveTurnResult{}, apperrors.Wrap(apperrors.CodePortFailure, "before-phase-c hook failed", err)
			}
		}

		result, err := e.phaseC(ctx, input, tctx, claimToken, output)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCASConflict) {
			// The claim is ours; release it so the retry can re-claim.
			e.releaseClaimBestEffort(ctx, input, claimToken)
			lastErr = err
			continue
		}
		return ResolveTurnResult{}, err
	}
	return ResolveTurnResult{}, lastErr
}

// phaseA claims the lease and snapshots the campaign at its current row
// version inside one short transaction.
func (e *Engine) phaseA(ctx context.Context, input ResolveTurnInput, claimToken string) (*turn.Context, error) {
	ctx, span := e.tracer.Start(ctx, "engine.phase_a")
	defer span.End()

	now := e.clock()

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin phase a: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	campaignRecord, err := uow.GetCampaign(ctx, input.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	leaseID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("new lease id: %w", err)
	}
	acquired, err := uow.AcquireOrStealInflight(ctx, storage.InflightTurnRecord{
		ID:          leaseID,
		CampaignID:  input.CampaignID,
		ActorID:     input.ActorID,
		ClaimToken:  claimToken,
		ClaimedAt:   now,
		HeartbeatAt: now,
		ExpiresAt:   now.Add(e.leaseTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("claim turn lease: %w", err)
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}

	player, err := uow.GetPlayerByCampaignActor(ctx, input.CampaignID, input.ActorID)
	if errors.Is(err, storage.ErrNotFound) {
		player, err = e.createPlayer(ctx, uow, input.CampaignID, input.ActorID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("load player: %w", err)
	}

	recent, err := uow.RecentTurns(ctx, input.CampaignID, e.recentTurnLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent turns: %w", err)
	}
	entries := make([]turn.Entry, 0, len(recent))
	for _, record := range recent {
		entries = append(entries, turn.Entry{
			ID:        record.ID,
			Kind:      record.Kind,
			ActorID:   record.ActorID,
			Content:   record.Content,
			CreatedAt: record.CreatedAt,
		})
	}

	tctx := &turn.Context{
		CampaignID:         input.CampaignID,
		ActorID:            input.ActorID,
		SessionID:          input.SessionID,
		Action:             input.Action,
		CampaignState:      blob.Normalize(campaignRecord.StateJSON),
		CampaignSummary:    campaignRecord.Summary,
		CampaignCharacters: blob.Normalize(campaignRecord.CharactersJSON),
		PlayerState:        blob.Normalize(player.StateJSON),
		PlayerLevel:        player.Level,
		PlayerXP:           player.XP,
		RecentTurns:        entries,
		StartRowVersion:    campaignRecord.RowVersion,
		Now:                now,
	}

	activeTimer, err := uow.GetActiveTimer(ctx, input.CampaignID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load active timer: %w", err)
	}
	if err == nil {
		tctx.ActiveTimerID = activeTimer.ID
		tctx.ActiveTimerEvent = activeTimer.EventText
		tctx.ActiveTimerDueAt = activeTimer.DueAt
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit phase a: %w", err)
	}
	return tctx, nil
}

// phaseB calls the completion port without holding a transaction, keeping
// the lease alive while the call runs.
func (e *Engine) phaseB(ctx context.Context, input ResolveTurnInput, tctx *turn.Context, claimToken string) (completion.TurnOutput, error) {
	ctx, span := e.tracer.Start(ctx, "engine.phase_b")
	defer span.End()

	prompt := buildPrompt(tctx)

	done := make(chan struct{})
	var raw string
	var completeErr error

	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		out, err := e.completion.Complete(ctx, prompt)
		if err != nil {
			completeErr = apperrors.Wrap(apperrors.CodePortFailure, "text completion failed", err)
			return nil
		}
		raw = out
		return nil
	})
	g.Go(func() error {
		e.heartbeatUntil(ctx, done, input, claimToken)
		return nil
	})
	_ = g.Wait()

	if completeErr != nil {
		return completion.TurnOutput{}, completeErr
	}
	return completion.Parse(raw)
}

// heartbeatUntil extends the lease on a fixed cadence until done closes. A
// stolen lease stops the loop; Phase C surfaces the loss.
func (e *Engine) heartbeatUntil(ctx context.Context, done <-chan struct{}, input ResolveTurnInput, claimToken string) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.clock()
			ok, err := e.store.HeartbeatInflight(ctx, input.CampaignID, input.ActorID, claimToken, now, now.Add(e.leaseTTL))
			if err != nil {
				log.Printf("turn heartbeat failed campaign_id=%s actor_id=%s: %v", input.CampaignID, input.ActorID, err)
				continue
			}
			if !ok {
				log.Printf("turn lease stolen during completion campaign_id=%s actor_id=%s", input.CampaignID, input.ActorID)
				return
			}
		}
	}
}

// phaseC revalidates the lease and commits the turn behind the row-version
// CAS. Write order inside the transaction: campaign CAS, turn pair,
// snapshot, timer transitions, outbox events, lease release.
func (e *Engine) phaseC(ctx context.Context, input ResolveTurnInput, tctx *turn.Context, claimToken string, output completion.TurnOutput) (ResolveTurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.phase_c")
	defer span.End()

	now := e.clock()

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("begin phase c: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	valid, err := uow.ValidateInflightToken(ctx, input.CampaignID, input.ActorID, claimToken, now)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("validate turn lease: %w", err)
	}
	if !valid {
		return ResolveTurnResult{}, ErrLeaseLost
	}

	campaignRecord, err := uow.GetCampaign(ctx, input.CampaignID)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("reload campaign: %w", err)
	}
	player, err := uow.GetPlayerByCampaignActor(ctx, input.CampaignID, input.ActorID)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("reload player: %w", err)
	}
	if campaignRecord.RowVersion != tctx.StartRowVersion {
		return ResolveTurnResult{}, ErrCASConflict
	}

	campaignState := blob.ApplyPatch(campaignRecord.StateJSON, output.StateUpdate)
	campaignCharacters := blob.ApplyPatch(campaignRecord.CharactersJSON, output.CharacterUpdates)
	playerState := blob.ApplyPatch(player.StateJSON, output.PlayerStateUpdate)

	summary := campaignRecord.Summary
	if output.SummaryUpdate != "" {
		summary = strings.TrimSpace(summary + "\n" + output.SummaryUpdate)
	}

	narration := output.Narration
	if narration == "" {
		narration = narrationFallback
	}

	casOK, err := uow.CASUpdateCampaign(ctx, input.CampaignID, tctx.StartRowVersion, storage.CampaignCASUpdate{
		Summary:        summary,
		StateJSON:      campaignState,
		CharactersJSON: campaignCharacters,
		LastNarration:  narration,
	}, now)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("campaign cas update: %w", err)
	}
	if !casOK {
		return ResolveTurnResult{}, ErrCASConflict
	}

	// Give-item instructions mutate player state only; unresolved targets
	// are reported through the outbox at the end of the phase.
	playerState, giveItemIssues, err := e.applyGiveItems(ctx, uow, input, output.GiveItems, playerState, player, now)
	if err != nil {
		return ResolveTurnResult{}, err
	}

	if output.XPAwarded > 0 {
		player.XP += output.XPAwarded
	}
	player.StateJSON = playerState
	player.LastActiveAt = &now
	player.UpdatedAt = now
	if err := uow.UpdatePlayer(ctx, player); err != nil {
		return ResolveTurnResult{}, fmt.Errorf("update player: %w", err)
	}

	if _, err := uow.AddTurn(ctx, storage.TurnRecord{
		CampaignID: input.CampaignID,
		SessionID:  input.SessionID,
		ActorID:    input.ActorID,
		Kind:       turn.KindUser,
		Content:    input.Action,
		CreatedAt:  now,
	}); err != nil {
		return ResolveTurnResult{}, fmt.Errorf("append user turn: %w", err)
	}
	narrationTurnID, err := uow.AddTurn(ctx, storage.TurnRecord{
		CampaignID: input.CampaignID,
		SessionID:  input.SessionID,
		ActorID:    input.ActorID,
		Kind:       turn.KindNarration,
		Content:    narration,
		CreatedAt:  now,
	})
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("append narration turn: %w", err)
	}

	if err := e.writeSnapshot(ctx, uow, input.CampaignID, narrationTurnID, campaignState, campaignCharacters, summary, narration, now); err != nil {
		return ResolveTurnResult{}, err
	}

	var emitted []storage.OutboxEventRecord
	emitted, err = e.applyTimerInstruction(ctx, uow, input, output.Timer, emitted, now)
	if err != nil {
		return ResolveTurnResult{}, err
	}

	if output.SceneImagePrompt != "" {
		roomKey := blob.RoomKey(playerState)
		payload, err := json.Marshal(sceneImagePayload{
			CampaignID:       input.CampaignID,
			SessionID:        input.SessionID,
			ActorID:          input.ActorID,
			TurnID:           narrationTurnID,
			RoomKey:          roomKey,
			SceneImagePrompt: output.SceneImagePrompt,
		})
		if err != nil {
			return ResolveTurnResult{}, fmt.Errorf("marshal scene image payload: %w", err)
		}
		event, err := e.emitOutboxEvent(ctx, uow, input.CampaignID, input.SessionID,
			outbox.EventSceneImageRequested, outbox.SceneImageKey(narrationTurnID, roomKey), string(payload), now)
		if err != nil {
			return ResolveTurnResult{}, err
		}
		emitted = append(emitted, event)
	}

	emitted, err = e.emitGiveItemIssues(ctx, uow, input, giveItemIssues, emitted, now)
	if err != nil {
		return ResolveTurnResult{}, err
	}

	released, err := uow.ReleaseInflight(ctx, input.CampaignID, input.ActorID, claimToken)
	if err != nil {
		return ResolveTurnResult{}, fmt.Errorf("release turn lease: %w", err)
	}
	if released == 0 {
		return ResolveTurnResult{}, ErrLeaseLost
	}

	if err := uow.Commit(); err != nil {
		return ResolveTurnResult{}, fmt.Errorf("commit phase c: %w", err)
	}

	return ResolveTurnResult{
		Narration:       narration,
		NarrationTurnID: narrationTurnID,
		RowVersion:      tctx.StartRowVersion + 1,
		EmittedEvents:   emitted,
	}, nil
}

type sceneImagePayload struct {
	CampaignID       string `json:"campaign_id"`
	SessionID        string `json:"session_id,omitempty"`
	ActorID          string `json:"actor_id"`
	TurnID           int64  `json:"turn_id"`
	RoomKey          string `json:"room_key"`
	SceneImagePrompt string `json:"scene_image_prompt"`
}

type timerScheduledPayload struct {
	TimerID       string `json:"timer_id"`
	CampaignID    string `json:"campaign_id"`
	SessionID     string `json:"session_id,omitempty"`
	DueAt         string `json:"due_at"`
	EventText     string `json:"event_text"`
	Interruptible bool   `json:"interruptible"`
}

// applyTimerInstruction maps a parsed timer instruction onto state-machine
// transitions. A new schedule cancels the prior active timer in the same
// transaction so the partial unique index never trips.
func (e *Engine) applyTimerInstruction(ctx context.Context, uow storage.UnitOfWork, input ResolveTurnInput, instruction *completion.TimerInstruction, emitted []storage.OutboxEventRecord, now time.Time) ([]storage.OutboxEventRecord, error) {
	if instruction == nil {
		return emitted, nil
	}
	switch instruction.Kind {
	case completion.TimerSchedule:
		if _, err := uow.CancelActiveTimers(ctx, input.CampaignID, now); err != nil {
			return nil, fmt.Errorf("cancel active timers: %w", err)
		}
		delaySeconds := instruction.DelaySeconds
		if delaySeconds < timer.MinDelaySeconds {
			delaySeconds = timer.MinDelaySeconds
		}
		timerID, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("new timer id: %w", err)
		}
		dueAt := now.Add(time.Duration(delaySeconds) * time.Second)
		if err := uow.ScheduleTimer(ctx, storage.TimerRecord{
			ID:              timerID,
			CampaignID:      input.CampaignID,
			SessionID:       input.SessionID,
			Status:          timer.StatusScheduledUnbound,
			EventText:       instruction.EventText,
			Interruptible:   instruction.Interruptible,
			InterruptAction: instruction.InterruptAction,
			DueAt:           dueAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}); err != nil {
			return nil, fmt.Errorf("schedule timer: %w", err)
		}
		payload, err := json.Marshal(timerScheduledPayload{
			TimerID:       timerID,
			CampaignID:    input.CampaignID,
			SessionID:     input.SessionID,
			DueAt:         dueAt.UTC().Format(time.RFC3339),
			EventText:     instruction.EventText,
			Interruptible: instruction.Interruptible,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal timer payload: %w", err)
		}
		event, err := e.emitOutboxEvent(ctx, uow, input.CampaignID, input.SessionID,
			outbox.EventTimerScheduled, outbox.TimerScheduledKey(timerID), string(payload), now)
		if err != nil {
			return nil, err
		}
		return append(emitted, event), nil

	case completion.TimerCancel:
		if _, err := uow.CancelActiveTimers(ctx, input.CampaignID, now); err != nil {
			return nil, fmt.Errorf("cancel active timers: %w", err)
		}
		return emitted, nil

	case completion.TimerBind:
		active, err := uow.GetActiveTimer(ctx, input.CampaignID)
		if errors.Is(err, storage.ErrNotFound) {
			return emitted, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load active timer: %w", err)
		}
		if _, err := uow.AttachTimerMessage(ctx, active.ID, instruction.MessageID, instruction.ChannelID, instruction.ThreadID, now); err != nil {
			return nil, fmt.Errorf("attach timer message: %w", err)
		}
		return emitted, nil
	}
	return emitted, nil
}

// emitOutboxEvent appends one idempotent outbox row.
func (e *Engine) emitOutboxEvent(ctx context.Context, uow storage.UnitOfWork, campaignID, sessionID, eventType, idempotencyKey, payloadJSON string, now time.Time) (storage.OutboxEventRecord, error) {
	eventID, err := id.NewID()
	if err != nil {
		return storage.OutboxEventRecord{}, fmt.Errorf("new outbox event id: %w", err)
	}
	record := storage.OutboxEventRecord{
		ID:             eventID,
		CampaignID:     campaignID,
		SessionID:      sessionID,
		SessionScope:   outbox.SessionScope(sessionID),
		EventType:      eventType,
		IdempotencyKey: idempotencyKey,
		PayloadJSON:    payloadJSON,
		Status:         outbox.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uow.AddOutboxEvent(ctx, record); err != nil {
		return storage.OutboxEventRecord{}, fmt.Errorf("append outbox event: %w", err)
	}
	return record, nil
}

// createPlayer provisions a player membership on first action.
func (e *Engine) createPlayer(ctx context.Context, uow storage.UnitOfWork, campaignID, actorID string, now time.Time) (storage.PlayerRecord, error) {
	playerID, err := id.NewID()
	if err != nil {
		return storage.PlayerRecord{}, fmt.Errorf("new player id: %w", err)
	}
	record := storage.PlayerRecord{
		ID:             playerID,
		CampaignID:     campaignID,
		ActorID:        actorID,
		Level:          1,
		AttributesJSON: blob.Empty,
		StateJSON:      blob.Empty,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uow.CreatePlayer(ctx, record); err != nil {
		return storage.PlayerRecord{}, fmt.Errorf("create player: %w", err)
	}
	return record, nil
}

// writeSnapshot captures the post-turn restore point keyed on the narration
// turn.
func (e *Engine) writeSnapshot(ctx context.Context, uow storage.UnitOfWork, campaignID string, narrationTurnID int64, stateJSON, charactersJSON, summary, narration string, now time.Time) error {
	players, err := uow.ListPlayersByCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("list players for snapshot: %w", err)
	}
	projected := make([]playerProjection, 0, len(players))
	for _, p := range players {
		projected = append(projected, playerProjection{
			PlayerID:       p.ID,
			ActorID:        p.ActorID,
			Level:          p.Level,
			XP:             p.XP,
			AttributesJSON: p.AttributesJSON,
			StateJSON:      p.StateJSON,
		})
	}
	playersJSON, err := json.Marshal(playersEnvelope{Players: projected})
	if err != nil {
		return fmt.Errorf("marshal snapshot players: %w", err)
	}

	snapshotID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("new snapshot id: %w", err)
	}
	if err := uow.AddSnapshot(ctx, storage.SnapshotRecord{
		ID:                     snapshotID,
		TurnID:                 narrationTurnID,
		CampaignID:             campaignID,
		CampaignStateJSON:      stateJSON,
		CampaignCharactersJSON: charactersJSON,
		CampaignSummary:        summary,
		CampaignLastNarration:  narration,
		PlayersJSON:            string(playersJSON),
		CreatedAt:              now,
	}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

type playersEnvelope struct {
	Players []playerProjection `json:"players"`
}

type playerProjection struct {
	PlayerID       string `json:"player_id"`
	ActorID        string `json:"actor_id"`
	Level          int    `json:"level"`
	XP             int    `json:"xp"`
	AttributesJSON string `json:"attributes_json"`
	StateJSON      string `json:"state_json"`
}

// releaseClaimBestEffort drops our own lease ahead of a retry; failures fall
// back to TTL expiry.
func (e *Engine) releaseClaimBestEffort(ctx context.Context, input ResolveTurnInput, claimToken string) {
	if _, err := e.store.ReleaseInflight(ctx, input.CampaignID, input.ActorID, claimToken); err != nil {
		log.Printf("release turn lease failed campaign_id=%s actor_id=%s: %v", input.CampaignID, input.ActorID, err)
	}
}
