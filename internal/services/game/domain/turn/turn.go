// Package turn defines turn kinds and the in-memory context a resolution
// carries between phases.
package turn

import "time"

// Kind classifies a persisted turn row.
type Kind string

const (
	// KindUser is a player-submitted action.
	KindUser Kind = "user"
	// KindNarration is the model-produced narration answering a user turn.
	KindNarration Kind = "narration"
	// KindSystem is an engine-generated turn (timer events, announcements).
	KindSystem Kind = "system"
)

// Valid reports whether k is a known turn kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindNarration, KindSystem:
		return true
	}
	return false
}

// Entry is one recent turn as seen by prompt assembly.
type Entry struct {
	ID        int64
	Kind      Kind
	ActorID   string
	Content   string
	CreatedAt time.Time
}

// Context is the snapshot Phase A hands to Phases B and C. It pins the
// campaign row version observed at read time; Phase C refuses to commit
// against any other version.
type Context struct {
	CampaignID         string
	ActorID            string
	SessionID          string
	Action             string
	CampaignState      string
	CampaignSummary    string
	CampaignCharacters string
	PlayerState        string
	PlayerLevel        int
	PlayerXP           int
	RecentTurns        []Entry
	ActiveTimerID      string
	ActiveTimerEvent   string
	ActiveTimerDueAt   time.Time
	StartRowVersion    int64
	Now                time.Time
}
