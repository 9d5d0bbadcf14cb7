package domain

// MemoryCategory is the fixed set of buckets a memory entry may live in.
type MemoryCategory string

const (
	MemoryWorkingNotes      MemoryCategory = "working_notes"
	MemoryTaskState         MemoryCategory = "task_state"
	MemoryDecisions         MemoryCategory = "decisions"
	MemoryDrafts            MemoryCategory = "drafts"
	MemoryObservations      MemoryCategory = "observations"
	MemoryEscalationHistory MemoryCategory = "escalation_history"
)

var memoryCategories = []MemoryCategory{
	MemoryWorkingNotes,
	MemoryTaskState,
	MemoryDecisions,
	MemoryDrafts,
	MemoryObservations,
	MemoryEscalationHistory,
}

// ParseMemoryCategory validates a client-supplied category.
func ParseMemoryCategory(s string) (MemoryCategory, bool) {
	for _, c := range memoryCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// MemoryEntry is a persisted fact. Key is unique within (Owner, Category).
type MemoryEntry struct {
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Category  MemoryCategory `json:"category"`
	Owner     AgentID        `json:"owner,omitempty"`
	UpdatedAt Timestamp      `json:"updatedAt"`
}
