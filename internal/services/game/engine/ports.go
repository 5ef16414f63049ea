package engine

import (
	"context"

	"github.com/bghira/text-game-engine/internal/services/game/storage"
)

// Prompt is the assembled request handed to the text-completion capability.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// TextCompletion is the language-model capability consumed in Phase B. The
// call may be long-running; it is the only suspension point of a turn that
// blocks external progress.
type TextCompletion interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ActorResolver maps a surface mention onto an actor id. Implementations
// return an empty id (and no error) for mentions they cannot resolve.
type ActorResolver interface {
	Resolve(ctx context.Context, mention string) (string, error)
}

// MemoryHit is one result from the external similarity index. TurnID stays a
// string because the index is not trusted to return well-formed ids.
type MemoryHit struct {
	TurnID  string
	Content string
	Score   float64
}

// MemorySearch is the external similarity index capability.
type MemorySearch interface {
	Search(ctx context.Context, campaignID, query string, limit int) ([]MemoryHit, error)
}

// TimerEffects applies the narrative consequence of an expired timer.
type TimerEffects interface {
	Apply(ctx context.Context, timer storage.TimerRecord) error
}

// MediaGeneration renders a scene or portrait and returns its URL. It is an
// outbox consumer, never called inline by the engine.
type MediaGeneration interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IMDbLookup resolves a title reference for flavor content. It is an outbox
// consumer, never called inline by the engine.
type IMDbLookup interface {
	Lookup(ctx context.Context, title string) (string, error)
}
