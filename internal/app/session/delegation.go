package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

type DelegateInput struct {
	SessionID   domain.SessionID
	CallerAgent domain.AgentID
	TargetAgent domain.AgentID
	Task        string
}

// Delegate hands a task from the session to another agent. The task is
// pinned to the delegation model; the session's own model is untouched.
func (s *Service) Delegate(ctx context.Context, in DelegateInput) (*domain.Delegation, error) {
	in.Task = strings.TrimSpace(in.Task)
	switch {
	case in.SessionID == "":
		return nil, domain.Invalid("sessionId is required")
	case in.Task == "":
		return nil, domain.Invalid("task is required")
	case !domain.IsKnownAgent(in.TargetAgent):
		return nil, domain.Invalid("unknown target agent %q", in.TargetAgent)
	}

	log := observability.LoggerFromContext(ctx).With(
		"session_id", in.SessionID,
		"caller", in.CallerAgent,
		"target", in.TargetAgent,
	)

	sess, err := s.sessions.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionActive {
		return nil, fmt.Errorf("session %s: %w", sess.ID, domain.ErrSessionClosed)
	}

	caller := in.CallerAgent
	if caller == "" {
		caller = sess.Owner
	}

	if d := s.CheckPermission(ctx, caller, in.TargetAgent, "delegate"); !d.Allowed {
		return nil, &PermissionError{Decision: d}
	}

	if s.limiter != nil && !s.limiter.Allow(caller, RateKindDelegate) {
		log.Warn("delegation rate limited")
		return nil, fmt.Errorf("%s:%s: %w", caller, RateKindDelegate, domain.ErrRateLimited)
	}

	now := s.now().UTC()
	d := &domain.Delegation{
		ID:              uuid.NewString(),
		SessionID:       sess.ID,
		CallerAgent:     caller,
		TargetAgent:     in.TargetAgent,
		TaskDescription: in.Task,
		Status:          domain.DelegationPending,
		ModelOverride:   s.cfg.DelegationModel,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	quota := domain.Quota{MaxTotal: MaxDelegationsPerSession, MaxActive: MaxActiveDelegations}
	if err := s.delegations.CreateDelegationWithinQuota(ctx, d, quota); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			log.Warn("delegation quota exceeded", "error", err)
		} else {
			log.Error("failed to create delegation", "error", err)
		}
		return nil, err
	}

	log.Info("task delegated", "delegation_id", d.ID, "model", d.ModelOverride)
	return d, nil
}

func (s *Service) ListDelegations(ctx context.Context, sessionID domain.SessionID) ([]*domain.Delegation, error) {
	return s.delegations.ListDelegationsBySession(ctx, sessionID)
}

type TransitionInput struct {
	ID     string
	Status domain.DelegationStatus
	Result string
	Error  string
}

// TransitionDelegation moves a delegation along its lifecycle. A completed
// delegation carries a result and a failed one an error, never both.
func (s *Service) TransitionDelegation(ctx context.Context, in TransitionInput) (*domain.Delegation, error) {
	d, err := s.delegations.GetDelegation(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	if !d.Status.CanTransition(in.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", d.Status, in.Status, domain.ErrInvalidTransition)
	}

	switch in.Status {
	case domain.DelegationCompleted:
		if in.Result == "" {
			return nil, domain.Invalid("completed delegation requires a result")
		}
		d.Result, d.Error = in.Result, ""
	case domain.DelegationFailed:
		if in.Error == "" {
			return nil, domain.Invalid("failed delegation requires an error")
		}
		d.Error, d.Result = in.Error, ""
	}

	d.Status = in.Status
	d.UpdatedAt = s.now().UTC()
	if err := s.delegations.UpdateDelegation(ctx, d); err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info("delegation updated",
		"delegation_id", d.ID,
		"status", d.Status,
	)
	return d, nil
}
