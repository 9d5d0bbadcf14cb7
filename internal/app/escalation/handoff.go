// Package escalation detects messages that need the human reviewer and
// turns a formal escalation into a persisted handoff packet.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/ratelimit"
	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

const (
	// ContextWindow is how many trailing messages a packet carries.
	ContextWindow = 10
	// RecentDecisions caps the decisions in the memory snapshot.
	RecentDecisions = 5

	RateKind = "escalate"
)

type Service struct {
	packets  domain.EscalationStore
	messages domain.MessageStore
	memory   domain.MemoryStore
	activity domain.ActivityStore
	notifier domain.Notifier
	limiter  *ratelimit.Limiter
	tasks    *detached.Runner

	notifyTimeout time.Duration
	now           func() time.Time
}

type Deps struct {
	Packets  domain.EscalationStore
	Messages domain.MessageStore
	Memory   domain.MemoryStore
	Activity domain.ActivityStore
	// Notifier may be nil; packets are then persisted but never delivered.
	Notifier domain.Notifier
	Limiter  *ratelimit.Limiter
	Tasks    *detached.Runner

	NotifyTimeout time.Duration
}

func NewService(d Deps) *Service {
	if d.Tasks == nil {
		d.Tasks = &detached.Runner{}
	}
	if d.NotifyTimeout <= 0 {
		d.NotifyTimeout = 5 * time.Second
	}
	return &Service{
		packets:       d.Packets,
		messages:      d.Messages,
		memory:        d.Memory,
		activity:      d.Activity,
		notifier:      d.Notifier,
		limiter:       d.Limiter,
		tasks:         d.Tasks,
		notifyTimeout: d.NotifyTimeout,
		now:           time.Now,
	}
}

type SubmitInput struct {
	ConversationID string
	Trigger        domain.Trigger
	Summary        string
	UserNotes      string
	// History, when empty, is loaded from the message store.
	History []domain.HistoryTurn
	From    domain.AgentID

	Actions   domain.HandoffActions
	Risks     []string
	NextSteps []string
}

type SubmitOutput struct {
	Packet   *domain.HandoffPacket
	Notified bool
}

func (in SubmitInput) validate() error {
	var missing []error
	if in.ConversationID == "" {
		missing = append(missing, errors.New("conversationId is required"))
	}
	if in.Trigger == "" {
		missing = append(missing, errors.New("trigger is required"))
	} else if _, ok := domain.ParseTrigger(string(in.Trigger)); !ok {
		missing = append(missing, fmt.Errorf("unknown trigger %q", in.Trigger))
	}
	if in.Summary == "" {
		missing = append(missing, errors.New("summary is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return &domain.ValidationError{Reason: err.Error()}
	}
	return nil
}

// Submit builds, persists and delivers a handoff packet. Notification is
// bounded by the notify timeout and its failure only clears Notified.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.From == "" {
		in.From = domain.AgentKimi
	}

	log := observability.LoggerFromContext(ctx).With(
		"conversation_id", in.ConversationID,
		"trigger", in.Trigger,
		"from", in.From,
	)

	if s.limiter != nil && !s.limiter.Allow(in.From, RateKind) {
		log.Warn("escalation rate limited")
		return nil, fmt.Errorf("%s: %w", ratelimit.Key(in.From, RateKind), domain.ErrRateLimited)
	}

	history := in.History
	if len(history) == 0 && s.messages != nil {
		history = s.loadHistory(ctx, domain.SessionID(in.ConversationID))
	}
	if len(history) > ContextWindow {
		history = history[len(history)-ContextWindow:]
	}

	packet := &domain.HandoffPacket{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		From:      in.From,
		To:        domain.HumanReviewer,
		Trigger:   in.Trigger,
		Severity:  Severity(in.Trigger),
		Summary:   in.Summary,
		UserNotes: in.UserNotes,
		Context: domain.HandoffContext{
			ConversationID: in.ConversationID,
			MessageCount:   len(history),
			Messages:       history,
		},
		Actions:   in.Actions,
		Risks:     in.Risks,
		NextSteps: in.NextSteps,
		Memory:    s.snapshot(ctx, in.From),
		Status:    domain.EscalationPending,
	}

	if err := s.packets.SaveHandoff(ctx, packet); err != nil {
		log.Error("failed to save handoff", "error", err)
		return nil, err
	}
	log = log.With("escalation_id", packet.ID, "severity", packet.Severity)

	notified := s.notify(ctx, packet)

	if s.activity != nil {
		entry := &domain.ActivityEntry{
			ID:        uuid.NewString(),
			Agent:     in.From,
			Action:    "escalation_submitted",
			Detail:    fmt.Sprintf("%s (%s): %s", packet.Trigger, packet.Severity, packet.Summary),
			CreatedAt: s.now().UTC(),
		}
		s.tasks.Go(ctx, "escalation-activity", func(ctx context.Context) error {
			return s.activity.AppendActivity(ctx, entry)
		})
	}

	log.Info("escalation submitted", "notified", notified)
	return &SubmitOutput{Packet: packet, Notified: notified}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.HandoffPacket, error) {
	return s.packets.GetHandoff(ctx, id)
}

func (s *Service) notify(ctx context.Context, packet *domain.HandoffPacket) bool {
	if s.notifier == nil {
		return false
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(nctx, packet); err != nil {
		observability.LoggerFromContext(ctx).Warn("handoff notification failed",
			"escalation_id", packet.ID,
			"error", err,
		)
		return false
	}
	return true
}

func (s *Service) loadHistory(ctx context.Context, id domain.SessionID) []domain.HistoryTurn {
	msgs, err := s.messages.GetMessagesBySession(ctx, id, ContextWindow)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("handoff history unavailable", "error", err)
		return nil
	}
	turns := make([]domain.HistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, domain.HistoryTurn{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return turns
}

// snapshot takes every task_state entry and the most recent decisions.
func (s *Service) snapshot(ctx context.Context, owner domain.AgentID) domain.MemorySnapshot {
	snap := domain.MemorySnapshot{
		ActiveTasks:     []domain.MemoryEntry{},
		RecentDecisions: []domain.MemoryEntry{},
	}
	if s.memory == nil {
		return snap
	}

	entries, err := s.memory.ListMemory(ctx, owner)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("handoff memory snapshot unavailable", "error", err)
		return snap
	}

	for _, e := range entries {
		switch e.Category {
		case domain.MemoryTaskState:
			snap.ActiveTasks = append(snap.ActiveTasks, *e)
		case domain.MemoryDecisions:
			if len(snap.RecentDecisions) < RecentDecisions {
				snap.RecentDecisions = append(snap.RecentDecisions, *e)
			}
		}
	}
	return snap
}
