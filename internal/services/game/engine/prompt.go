package engine

import (
	"fmt"
	"strings"

	"github.com/bghira/text-game-engine/internal/services/game/domain/turn"
)

const promptMaxTokens = 1200

const promptTemperature = 0.8

const systemPrompt = `You are the narrator of a persistent multiplayer text adventure.
Answer with a single JSON object and nothing else. Fields:
  narration (string, required) - what happens next, second person.
  state_update (object) - top-level keys to merge into world state; null deletes a key.
  character_updates (object) - top-level keys to merge into the character sheet.
  player_state_update (object) - top-level keys to merge into the acting player's state.
  summary_update (string) - one line to append to the campaign summary, if anything lasting happened.
  xp_awarded (integer) - experience for the acting player, 0 if none.
  scene_image_prompt (string) - a visual description when the scene changed enough to re-render.
  timer_instruction (object) - {"kind":"schedule","delay_seconds":N,"event_text":"...","interruptible":bool,"interrupt_action":"..."} or {"kind":"cancel"} or {"kind":"bind","message_id":"..."}.
  give_items (array) - [{"item":"...","to_actor_id":"..."}] or [{"item":"...","to_mention":"..."}].
Keep the world consistent with the summary and recent turns.`

// buildPrompt assembles the Phase B request from the Phase A context.
func buildPrompt(tctx *turn.Context) Prompt {
	var b strings.Builder

	if tctx.CampaignSummary != "" {
		fmt.Fprintf(&b, "Campaign summary:\n%s\n\n", tctx.CampaignSummary)
	}
	fmt.Fprintf(&b, "World state:\n%s\n\n", tctx.CampaignState)
	if tctx.CampaignCharacters != "" && tctx.CampaignCharacters != "{}" {
		fmt.Fprintf(&b, "Characters:\n%s\n\n", tctx.CampaignCharacters)
	}
	fmt.Fprintf(&b, "Acting player (level %d, %d xp) state:\n%s\n\n", tctx.PlayerLevel, tctx.PlayerXP, tctx.PlayerState)

	if tctx.ActiveTimerID != "" {
		fmt.Fprintf(&b, "A timer is pending: %q due at %s.\n\n", tctx.ActiveTimerEvent, tctx.ActiveTimerDueAt.Format("15:04:05"))
	}

	if len(tctx.RecentTurns) > 0 {
		b.WriteString("Recent turns:\n")
		for _, entry := range tctx.RecentTurns {
			fmt.Fprintf(&b, "[%s] %s\n", entry.Kind, entry.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Player action:\n%s\n", tctx.Action)

	return Prompt{
		System:      systemPrompt,
		User:        b.String(),
		MaxTokens:   promptMaxTokens,
		Temperature: promptTemperature,
	}
}
