package chat

import "github.com/PabloGalante/katana-portal/internal/domain"

// Event types carried in the "type" field of every SSE frame.
const (
	EventMeta       = "meta"
	EventLog        = "log"
	EventEscalation = "escalation"
	EventToken      = "token"
	EventError      = "error"
)

type MetaEvent struct {
	Type           string      `json:"type"`
	ProfileVersion string      `json:"profileVersion"`
	MemoryCount    int         `json:"memoryCount"`
	Mode           domain.Mode `json:"mode"`
}

type LogEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EscalationEvent struct {
	Type     string          `json:"type"`
	Trigger  domain.Trigger  `json:"trigger"`
	Severity domain.Severity `json:"severity"`
}

type TokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func logEvent(msg string) LogEvent { return LogEvent{Type: EventLog, Message: msg} }

// Sink receives the framed events of one turn. *sse.Writer implements it.
type Sink interface {
	Send(v any) error
	Done() error
}
