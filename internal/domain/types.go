package domain

import "time"

type SessionID string
type MessageID string
type AgentID string

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode selects how the portal answers a chat turn.
type Mode string

const (
	ModeOperator Mode = "operator" // full context, escalations enabled
	ModeAdvisor  Mode = "advisor"  // read-only advice, never escalates
	ModeKatana   Mode = "katana"   // raw pass-through to the gateway agent
)

// ParseMode normalizes a client-supplied mode. Empty input means operator.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeOperator:
		return ModeOperator, true
	case ModeAdvisor:
		return ModeAdvisor, true
	case ModeKatana:
		return ModeKatana, true
	default:
		return "", false
	}
}

// Agent roster. Owners, delegation targets and callers are drawn from it.
const (
	AgentKimi   AgentID = "kimi"
	AgentKatana AgentID = "katana"
	AgentScout  AgentID = "scout"
	AgentForge  AgentID = "forge"
	AgentLedger AgentID = "ledger"

	// HumanReviewer receives handoff packets.
	HumanReviewer AgentID = "jhawk"
)

var roster = []AgentID{AgentKimi, AgentKatana, AgentScout, AgentForge, AgentLedger}

// Roster returns the fixed agent roster.
func Roster() []AgentID {
	out := make([]AgentID, len(roster))
	copy(out, roster)
	return out
}

// IsKnownAgent reports whether id is on the roster.
func IsKnownAgent(id AgentID) bool {
	for _, a := range roster {
		if a == id {
			return true
		}
	}
	return false
}

type Timestamp = time.Time
