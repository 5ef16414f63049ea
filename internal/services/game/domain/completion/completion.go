// Package completion defines the structured output contract between the
// engine and the text-completion capability.
//
// The model answers with a single JSON object; everything here is about
// decoding that object leniently without ever trusting it.
package completion

import (
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/bghira/text-game-engine/internal/platform/errors"
)

// TimerInstructionKind selects the timer transition a turn requests.
type TimerInstructionKind string

const (
	// TimerSchedule schedules a new timer, cancelling any active one.
	TimerSchedule TimerInstructionKind = "schedule"
	// TimerCancel cancels the active timer without replacement.
	TimerCancel TimerInstructionKind = "cancel"
	// TimerBind attaches the active timer to an external surface message.
	TimerBind TimerInstructionKind = "bind"
)

// TimerInstruction is the parsed timer_instruction block.
type TimerInstruction struct {
	Kind            TimerInstructionKind
	DelaySeconds    int
	EventText       string
	Interruptible   bool
	InterruptAction string
	MessageID       string
	ChannelID       string
	ThreadID        string
}

// GiveItemInstruction is one parsed give-item request.
type GiveItemInstruction struct {
	Item      string
	ToActorID string
	ToMention string
}

// TurnOutput is the decoded model answer for one turn.
//
// JSON blob fields stay serialized; the engine patches them into campaign
// state without interpreting their contents.
type TurnOutput struct {
	Narration         string
	StateUpdate       string
	CharacterUpdates  string
	PlayerStateUpdate string
	SummaryUpdate     string
	XPAwarded         int
	SceneImagePrompt  string
	Timer             *TimerInstruction
	GiveItems         []GiveItemInstruction
}

// Parse decodes raw model text into a TurnOutput.
//
// The model may wrap its JSON in a markdown fence; anything that is not a
// JSON object is a CodeBadModelOutput error. A blank narration is not an
// error — the engine substitutes its fallback line at commit time.
func Parse(raw string) (TurnOutput, error) {
	trimmed := stripFence(strings.TrimSpace(raw))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return TurnOutput{}, apperrors.New(apperrors.CodeBadModelOutput, "completion output is not valid JSON")
	}
	root := gjson.Parse(trimmed)
	if !root.IsObject() {
		return TurnOutput{}, apperrors.New(apperrors.CodeBadModelOutput, "completion output is not a JSON object")
	}

	out := TurnOutput{
		Narration:         strings.TrimSpace(root.Get("narration").String()),
		SummaryUpdate:     strings.TrimSpace(root.Get("summary_update").String()),
		XPAwarded:         int(root.Get("xp_awarded").Int()),
		SceneImagePrompt:  strings.TrimSpace(root.Get("scene_image_prompt").String()),
		StateUpdate:       objectRaw(root.Get("state_update")),
		CharacterUpdates:  objectRaw(root.Get("character_updates")),
		PlayerStateUpdate: objectRaw(root.Get("player_state_update")),
	}

	if instr := root.Get("timer_instruction"); instr.IsObject() {
		timer, err := parseTimerInstruction(instr)
		if err != nil {
			return TurnOutput{}, err
		}
		out.Timer = &timer
	}

	if give := root.Get("give_item"); give.IsObject() {
		out.GiveItems = append(out.GiveItems, parseGiveItem(give))
	}
	if gives := root.Get("give_items"); gives.IsArray() {
		for _, give := range gives.Array() {
			if give.IsObject() {
				out.GiveItems = append(out.GiveItems, parseGiveItem(give))
			}
		}
	}

	return out, nil
}

func parseTimerInstruction(instr gjson.Result) (TimerInstruction, error) {
	kind := TimerInstructionKind(strings.ToLower(strings.TrimSpace(instr.Get("kind").String())))
	if kind == "" {
		kind = TimerSchedule
	}
	timer := TimerInstruction{
		Kind:            kind,
		DelaySeconds:    int(instr.Get("delay_seconds").Int()),
		EventText:       strings.TrimSpace(instr.Get("event_text").String()),
		InterruptAction: strings.TrimSpace(instr.Get("interrupt_action").String()),
		MessageID:       strings.TrimSpace(instr.Get("message_id").String()),
		ChannelID:       strings.TrimSpace(instr.Get("channel_id").String()),
		ThreadID:        strings.TrimSpace(instr.Get("thread_id").String()),
	}
	timer.Interruptible = true
	if v := instr.Get("interruptible"); v.Exists() {
		timer.Interruptible = v.Bool()
	}
	switch kind {
	case TimerSchedule:
		if timer.EventText == "" {
			return TimerInstruction{}, apperrors.New(apperrors.CodeBadModelOutput, "timer schedule has no event text")
		}
	case TimerCancel:
	case TimerBind:
		if timer.MessageID == "" {
			return TimerInstruction{}, apperrors.New(apperrors.CodeBadModelOutput, "timer bind has no message id")
		}
	default:
		return TimerInstruction{}, apperrors.New(apperrors.CodeBadModelOutput, "unknown timer instruction kind")
	}
	return timer, nil
}

func parseGiveItem(give gjson.Result) GiveItemInstruction {
	mention := strings.TrimSpace(give.Get("to_mention").String())
	if mention == "" {
		mention = strings.TrimSpace(give.Get("to_discord_mention").String())
	}
	return GiveItemInstruction{
		Item:      strings.TrimSpace(give.Get("item").String()),
		ToActorID: strings.TrimSpace(give.Get("to_actor_id").String()),
		ToMention: mention,
	}
}

// objectRaw returns the raw JSON of an object-valued field, or "" when the
// field is absent or not an object.
func objectRaw(value gjson.Result) string {
	if !value.IsObject() {
		return ""
	}
	return value.Raw
}

// stripFence removes a single surrounding markdown code fence.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
