package domain

import (
	"context"
	"iter"
	"time"
)

// TokenStream is a non-restartable sequence of incremental content tokens.
// Close releases the underlying connection and is safe to call twice.
type TokenStream interface {
	Tokens() iter.Seq2[string, error]
	Close() error
}

// ChatProvider streams a chat completion from an upstream model.
type ChatProvider interface {
	Name() string
	// Configured returns ErrMissingCredential (wrapped) when the provider
	// cannot be called at all.
	Configured() error
	StreamChat(ctx context.Context, messages []ChatMessage) (TokenStream, error)
}

// ProfileSource fetches the commander profile from wherever it is managed.
type ProfileSource interface {
	FetchProfile(ctx context.Context) (*CommanderProfile, error)
}

// SessionStore defines session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	IncrementMessageCount(ctx context.Context, id SessionID) error
	// ListSessions returns newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
}

// MessageStore defines conversation persistence.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	// GetMessagesBySession returns the last `limit` messages oldest first.
	// limit <= 0 returns the full history.
	GetMessagesBySession(ctx context.Context, sessionID SessionID, limit int) ([]*Message, error)
	DeleteSessionMessages(ctx context.Context, sessionID SessionID) (int, error)
	// DeleteMessagesBefore sweeps every session.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore defines memory-entry persistence.
type MemoryStore interface {
	UpsertMemory(ctx context.Context, entry *MemoryEntry) error
	// ListMemory returns the owner's entries, most recently updated first.
	ListMemory(ctx context.Context, owner AgentID) ([]*MemoryEntry, error)
}

type EscalationStore interface {
	SaveHandoff(ctx context.Context, packet *HandoffPacket) error
	GetHandoff(ctx context.Context, id string) (*HandoffPacket, error)
}

type DelegationStore interface {
	CreateDelegation(ctx context.Context, d *Delegation) error
	// CreateDelegationWithinQuota checks q against the session's delegations
	// and inserts d in one atomic step.
	CreateDelegationWithinQuota(ctx context.Context, d *Delegation, q Quota) error
	UpdateDelegation(ctx context.Context, d *Delegation) error
	GetDelegation(ctx context.Context, id string) (*Delegation, error)
	ListDelegationsBySession(ctx context.Context, sessionID SessionID) ([]*Delegation, error)
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *ActivityEntry) error
}

// Notifier delivers a handoff packet to the human reviewer.
type Notifier interface {
	Notify(ctx context.Context, packet *HandoffPacket) error
}
