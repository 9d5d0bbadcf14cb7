package domain

// Trigger names why a message needs the human reviewer.
type Trigger string

const (
	TriggerFinancialThreshold     Trigger = "financial_threshold"
	TriggerInfrastructureChange   Trigger = "infrastructure_change"
	TriggerLowConfidence          Trigger = "low_confidence"
	TriggerUserRequested          Trigger = "user_requested"
	TriggerSecuritySensitive      Trigger = "security_sensitive"
	TriggerInstructionConflict    Trigger = "instruction_conflict"
	TriggerTimeout                Trigger = "timeout"
	TriggerCrossAgentModification Trigger = "cross_agent_modification"
)

var triggers = []Trigger{
	TriggerFinancialThreshold,
	TriggerInfrastructureChange,
	TriggerLowConfidence,
	TriggerUserRequested,
	TriggerSecuritySensitive,
	TriggerInstructionConflict,
	TriggerTimeout,
	TriggerCrossAgentModification,
}

// ParseTrigger validates a client-supplied trigger.
func ParseTrigger(s string) (Trigger, bool) {
	for _, t := range triggers {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type EscalationStatus string

const EscalationPending EscalationStatus = "pending"

// HandoffActions are free-text lists populated by the caller.
type HandoffActions struct {
	Attempted   []string `json:"attempted"`
	Recommended []string `json:"recommended"`
	Blocked     []string `json:"blocked"`
}

type HandoffContext struct {
	ConversationID string        `json:"conversationId"`
	MessageCount   int           `json:"messageCount"`
	Messages       []HistoryTurn `json:"messages"`
}

type MemorySnapshot struct {
	ActiveTasks     []MemoryEntry `json:"activeTasks"`
	RecentDecisions []MemoryEntry `json:"recentDecisions"`
}

// HandoffPacket is built once per escalation submission, persisted once and
// never mutated.
type HandoffPacket struct {
	ID        string           `json:"id"`
	Timestamp Timestamp        `json:"timestamp"`
	From      AgentID          `json:"from"`
	To        AgentID          `json:"to"`
	Trigger   Trigger          `json:"trigger"`
	Severity  Severity         `json:"severity"`
	Summary   string           `json:"summary"`
	UserNotes string           `json:"userNotes,omitempty"`
	Context   HandoffContext   `json:"context"`
	Actions   HandoffActions   `json:"actions"`
	Risks     []string         `json:"risks"`
	NextSteps []string         `json:"nextSteps"`
	Memory    MemorySnapshot   `json:"memory"`
	Status    EscalationStatus `json:"status"`
}
