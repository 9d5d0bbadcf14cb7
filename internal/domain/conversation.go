package domain

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is one logical conversation between an owner agent and the commander.
// MessageCount only grows; Status only moves active -> closed.
type Session struct {
	ID           SessionID         `json:"sessionId"`
	Owner        AgentID           `json:"owner"`
	Mode         Mode              `json:"mode"`
	Status       SessionStatus     `json:"status"`
	MessageCount int               `json:"messageCount"`
	CreatedAt    Timestamp         `json:"createdAt"`
	ClosedAt     *Timestamp        `json:"closedAt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Owner  AgentID
	Status SessionStatus
	Limit  int
}

// AttachmentMeta is what survives persistence of an attachment: never the payload.
type AttachmentMeta struct {
	Filename  string         `json:"filename"`
	Type      AttachmentType `json:"type"`
	SizeBytes int64          `json:"size"`
}

// Message is a persisted chat turn.
type Message struct {
	ID          MessageID        `json:"id"`
	SessionID   SessionID        `json:"sessionId"`
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
	CreatedAt   Timestamp        `json:"createdAt"`
}

// HistoryTurn is a prior turn supplied by the browser with a chat request.
type HistoryTurn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ActivityEntry is one audit record.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Agent     AgentID   `json:"agent"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt Timestamp `json:"createdAt"`
}
