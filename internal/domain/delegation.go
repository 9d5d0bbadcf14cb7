package domain

import "fmt"

type DelegationStatus string

const (
	DelegationPending    DelegationStatus = "pending"
	DelegationClaimed    DelegationStatus = "claimed"
	DelegationInProgress DelegationStatus = "in_progress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationFailed     DelegationStatus = "failed"
)

var delegationTransitions = map[DelegationStatus][]DelegationStatus{
	DelegationPending:    {DelegationClaimed, DelegationFailed},
	DelegationClaimed:    {DelegationInProgress, DelegationFailed},
	DelegationInProgress: {DelegationCompleted, DelegationFailed},
}

// CanTransition reports whether a delegation may move from -> to.
func (from DelegationStatus) CanTransition(to DelegationStatus) bool {
	for _, next := range delegationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the delegation still counts against the
// concurrent-delegation quota.
func (s DelegationStatus) Active() bool {
	return s == DelegationPending || s == DelegationClaimed || s == DelegationInProgress
}

func (s DelegationStatus) Terminal() bool {
	return s == DelegationCompleted || s == DelegationFailed
}

// Delegation is a sub-task handed to another agent. ModelOverride applies to
// this task only. Result and Error are mutually exclusive.
type Delegation struct {
	ID              string           `json:"delegationId"`
	SessionID       SessionID        `json:"sessionId"`
	CallerAgent     AgentID          `json:"callerAgent"`
	TargetAgent     AgentID          `json:"targetAgent"`
	TaskDescription string           `json:"taskDescription"`
	Status          DelegationStatus `json:"status"`
	ModelOverride   string           `json:"modelOverride"`
	Result          string           `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       Timestamp        `json:"createdAt"`
	UpdatedAt       Timestamp        `json:"updatedAt"`
}

// Quota bounds the delegations one session may hold.
type Quota struct {
	MaxTotal  int
	MaxActive int
}

// Check reports ErrQuotaExceeded when adding one more delegation to
// existing would break q.
func (q Quota) Check(sessionID SessionID, existing []*Delegation) error {
	if len(existing) >= q.MaxTotal {
		return fmt.Errorf("session %s has %d delegations (max %d): %w",
			sessionID, len(existing), q.MaxTotal, ErrQuotaExceeded)
	}
	active := 0
	for _, d := range existing {
		if d.Status.Active() {
			active++
		}
	}
	if active >= q.MaxActive {
		return fmt.Errorf("session %s has %d active delegations (max %d): %w",
			sessionID, active, q.MaxActive, ErrQuotaExceeded)
	}
	return nil
}
