// Package storage defines the persistence records and interfaces the engine
// depends on. Implementations live under storage/sqlite.
package storage

import (
	"context"
	"time"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
	"github.com/bghira/text-game-engine/internal/services/game/domain/outbox"
	"github.com/bghira/text-game-engine/internal/services/game/domain/timer"
	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ActorRecord captures the identity of a human or NPC participant.
type ActorRecord struct {
	ID           string
	DisplayName  string
	Kind         string
	MetadataJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CampaignRecord captures the game world row, including the optimistic
// concurrency fence (RowVersion) and the memory visibility watermark.
type CampaignRecord struct {
	ID                     string
	Namespace              string
	Name                   string
	NameNormalized         string
	CreatedByActorID       string
	Summary                string
	StateJSON              string
	CharactersJSON         string
	LastNarration          string
	MemoryVisibleMaxTurnID int64 // 0 when the watermark is unset
	RowVersion             int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// CampaignCASUpdate is the write-set of a Phase C or rewind commit. The
// update only lands when the row's version still equals the expected one,
// and always advances the version by exactly one.
type CampaignCASUpdate struct {
	Summary        string
	StateJSON      string
	CharactersJSON string
	LastNarration  string
	// MemoryVisibleMaxTurnID, when non-nil, overwrites the watermark.
	MemoryVisibleMaxTurnID *int64
}

// SessionRecord captures a surface binding (a channel, thread, or similar).
type SessionRecord struct {
	ID               string
	CampaignID       string
	Surface          string
	SurfaceKey       string
	SurfaceChannelID string
	SurfaceThreadID  string
	Enabled          bool
	MetadataJSON     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PlayerRecord captures one actor's standing inside a campaign.
type PlayerRecord struct {
	ID             string
	CampaignID     string
	ActorID        string
	Level          int
	XP             int
	AttributesJSON string
	StateJSON      string
	LastActiveAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TurnRecord is one append-only history entry.
type TurnRecord struct {
	ID                    int64
	CampaignID            string
	SessionID             string
	ActorID               string
	Kind                  turn.Kind
	Content               string
	MetaJSON              string
	ExternalMessageID     string
	ExternalUserMessageID string
	CreatedAt             time.Time
}

// SnapshotRecord is the full restore point attached to a narration turn.
type SnapshotRecord struct {
	ID                     string
	TurnID                 int64
	CampaignID             string
	CampaignStateJSON      string
	CampaignCharactersJSON string
	CampaignSummary        string
	CampaignLastNarration  string
	PlayersJSON            string
	CreatedAt              time.Time
}

// TimerRecord is the single campaign timer row.
type TimerRecord struct {
	ID                string
	CampaignID        string
	SessionID         string
	Status            timer.Status
	EventText         string
	Interruptible     bool
	InterruptAction   string
	DueAt             time.Time
	FiredAt           *time.Time
	CancelledAt       *time.Time
	ExternalMessageID string
	ExternalChannelID string
	ExternalThreadID  string
	MetaJSON          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InflightTurnRecord is the per-(campaign, actor) turn lease.
type InflightTurnRecord struct {
	ID          string
	CampaignID  string
	ActorID     string
	ClaimToken  string
	ClaimedAt   time.Time
	HeartbeatAt time.Time
	ExpiresAt   time.Time
}

// EmbeddingRecord stores one opaque embedding vector per turn.
type EmbeddingRecord struct {
	TurnID     int64
	CampaignID string
	Kind       string
	Content    string
	Embedding  []byte
	CreatedAt  time.Time
}

// MediaRefRecord points at generated media for a room or player.
type MediaRefRecord struct {
	ID           string
	CampaignID   string
	PlayerID     string
	RefType      string
	RoomKey      string
	URL          string
	Prompt       string
	MetadataJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboxEventRecord is one externally-visible effect awaiting dispatch.
type OutboxEventRecord struct {
	ID             string
	CampaignID     string
	SessionID      string
	SessionScope   string
	EventType      string
	IdempotencyKey string
	PayloadJSON    string
	Status         outbox.Status
	Attempts       int
	NextAttemptAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Queries is the repository surface shared by the auto-committing store and
// unit-of-work scopes.
type Queries interface {
	// Actors
	CreateActor(ctx context.Context, record ActorRecord) error
	GetActor(ctx context.Context, id string) (ActorRecord, error)

	// Campaigns
	CreateCampaign(ctx context.Context, record CampaignRecord) error
	GetCampaign(ctx context.Context, id string) (CampaignRecord, error)
	GetCampaignByName(ctx context.Context, namespace, nameNormalized string) (CampaignRecord, error)
	// CASUpdateCampaign applies update iff the row version still equals
	// expectedRowVersion; reports whether the write landed.
	CASUpdateCampaign(ctx context.Context, campaignID string, expectedRowVersion int64, update CampaignCASUpdate, now time.Time) (bool, error)

	// Sessions
	CreateSession(ctx context.Context, record SessionRecord) error
	GetSessionBySurfaceKey(ctx context.Context, surfaceKey string) (SessionRecord, error)

	// Players
	CreatePlayer(ctx context.Context, record PlayerRecord) error
	GetPlayerByCampaignActor(ctx context.Context, campaignID, actorID string) (PlayerRecord, error)
	ListPlayersByCampaign(ctx context.Context, campaignID string) ([]PlayerRecord, error)
	UpdatePlayer(ctx context.Context, record PlayerRecord) error

	// Turns
	AddTurn(ctx context.Context, record TurnRecord) (int64, error)
	RecentTurns(ctx context.Context, campaignID string, limit int) ([]TurnRecord, error)
	DeleteTurnsAfter(ctx context.Context, campaignID string, turnID int64) (int64, error)
	FindTurnByExternalMessage(ctx context.Context, campaignID, messageID string) (TurnRecord, error)

	// Snapshots
	AddSnapshot(ctx context.Context, record SnapshotRecord) error
	GetSnapshotByCampaignTurn(ctx context.Context, campaignID string, turnID int64) (SnapshotRecord, error)
	DeleteSnapshotsAfterTurn(ctx context.Context, campaignID string, turnID int64) (int64, error)

	// Timers
	GetActiveTimer(ctx context.Context, campaignID string) (TimerRecord, error)
	ScheduleTimer(ctx context.Context, record TimerRecord) error
	AttachTimerMessage(ctx context.Context, timerID, messageID, channelID, threadID string, now time.Time) (bool, error)
	CancelActiveTimers(ctx context.Context, campaignID string, now time.Time) (int64, error)
	MarkTimerExpired(ctx context.Context, timerID string, now time.Time) (bool, error)
	MarkTimerConsumed(ctx context.Context, timerID string, now time.Time) (bool, error)
	ListDueTimers(ctx context.Context, now time.Time, limit int) ([]TimerRecord, error)
	ListExpiredTimers(ctx context.Context, limit int) ([]TimerRecord, error)

	// Inflight leases
	AcquireOrStealInflight(ctx context.Context, record InflightTurnRecord) (bool, error)
	ValidateInflightToken(ctx context.Context, campaignID, actorID, claimToken string, now time.Time) (bool, error)
	HeartbeatInflight(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error)
	ReleaseInflight(ctx context.Context, campaignID, actorID, claimToken string) (int64, error)

	// Outbox
	AddOutboxEvent(ctx context.Context, record OutboxEventRecord) error
	ListDueOutboxEvents(ctx context.Context, now time.Time, limit int) ([]OutboxEventRecord, error)
	ListOutboxEventsByType(ctx context.Context, campaignID, eventType string) ([]OutboxEventRecord, error)
	MarkOutboxEventSent(ctx context.Context, id string, now time.Time) error
	RecordOutboxAttemptFailure(ctx context.Context, id string, nextAttemptAt, now time.Time) error
	MarkOutboxEventFailed(ctx context.Context, id string, now time.Time) error

	// Embeddings
	AddEmbedding(ctx context.Context, record EmbeddingRecord) error
	DeleteEmbeddingsAfterTurn(ctx context.Context, campaignID string, turnID int64) (int64, error)

	// Media refs
	AddMediaRef(ctx context.Context, record MediaRefRecord) error
	ListMediaRefsByCampaign(ctx context.Context, campaignID string) ([]MediaRefRecord, error)
}

// UnitOfWork is a transactional repository scope. All writes commit
// atomically on Commit and are discarded on Rollback; the scope is invalid
// after either.
type UnitOfWork interface {
	Queries
	Commit() error
	Rollback() error
}

// Store is the root persistence handle. Queries called on the store itself
// auto-commit; Begin opens a transactional scope. Nested scopes are not
// supported.
type Store interface {
	Queries
	Begin(ctx context.Context) (UnitOfWork, error)
}
