package escalation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/katana-portal/internal/adapters/storage/memory"
	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/escalation"
	"github.com/PabloGalante/katana-portal/internal/app/ratelimit"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

type fakeNotifier struct {
	err  error
	sent []*domain.HandoffPacket
}

func (n *fakeNotifier) Notify(_ context.Context, p *domain.HandoffPacket) error {
	n.sent = append(n.sent, p)
	return n.err
}

type fixture struct {
	svc      *escalation.Service
	packets  *memory.EscalationStore
	messages *memory.MessageStore
	mem      *memory.MemoryStore
	activity *memory.ActivityStore
	notifier *fakeNotifier
	tasks    *detached.Runner
}

func newFixture(limit int) *fixture {
	f := &fixture{
		packets:  memory.NewEscalationStore(),
		messages: memory.NewMessageStore(),
		mem:      memory.NewMemoryStore(),
		activity: memory.NewActivityStore(),
		notifier: &fakeNotifier{},
		tasks:    detached.NewRunner(time.Second),
	}
	f.svc = escalation.NewService(escalation.Deps{
		Packets:  f.packets,
		Messages: f.messages,
		Memory:   f.mem,
		Activity: f.activity,
		Notifier: f.notifier,
		Limiter:  ratelimit.NewLimiter(limit, time.Minute),
		Tasks:    f.tasks,
	})
	return f
}

func TestSubmit_BuildsAndPersistsPacket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{
			ID:        domain.MessageID(fmt.Sprint(i)),
			SessionID: "portal-kimi-1-aa",
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	for i := 0; i < 7; i++ {
		require.NoError(t, f.mem.UpsertMemory(ctx, &domain.MemoryEntry{
			Key:       fmt.Sprintf("d%d", i),
			Value:     "decided",
			Category:  domain.MemoryDecisions,
			Owner:     domain.AgentKimi,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, f.mem.UpsertMemory(ctx, &domain.MemoryEntry{
		Key: "release", Value: "in review", Category: domain.MemoryTaskState, Owner: domain.AgentKimi, UpdatedAt: base,
	}))

	out, err := f.svc.Submit(ctx, escalation.SubmitInput{
		ConversationID: "portal-kimi-1-aa",
		Trigger:        domain.TriggerInfrastructureChange,
		Summary:        "wants to deploy",
		UserNotes:      "before friday",
	})
	require.NoError(t, err)
	f.tasks.Wait()

	p := out.Packet
	assert.True(t, out.Notified)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.AgentKimi, p.From)
	assert.Equal(t, domain.HumanReviewer, p.To)
	assert.Equal(t, domain.SeverityHigh, p.Severity)
	assert.Equal(t, domain.EscalationPending, p.Status)

	assert.Equal(t, escalation.ContextWindow, p.Context.MessageCount)
	require.Len(t, p.Context.Messages, escalation.ContextWindow)
	assert.Equal(t, "msg 2", p.Context.Messages[0].Content)
	assert.Equal(t, "msg 11", p.Context.Messages[9].Content)

	require.Len(t, p.Memory.ActiveTasks, 1)
	require.Len(t, p.Memory.RecentDecisions, escalation.RecentDecisions)
	assert.Equal(t, "d6", p.Memory.RecentDecisions[0].Key)

	stored, err := f.packets.GetHandoff(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Summary, stored.Summary)

	require.Len(t, f.notifier.sent, 1)
	entries := f.activity.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "escalation_submitted", entries[0].Action)
}

func TestSubmit_ClientHistoryIsTrimmed(t *testing.T) {
	f := newFixture(10)
	var history []domain.HistoryTurn
	for i := 0; i < 15; i++ {
		history = append(history, domain.HistoryTurn{Role: domain.RoleUser, Content: fmt.Sprint(i)})
	}

	out, err := f.svc.Submit(context.Background(), escalation.SubmitInput{
		ConversationID: "c1",
		Trigger:        domain.TriggerUserRequested,
		Summary:        "help",
		History:        history,
	})
	require.NoError(t, err)
	f.tasks.Wait()

	require.Len(t, out.Packet.Context.Messages, escalation.ContextWindow)
	assert.Equal(t, "5", out.Packet.Context.Messages[0].Content)
	assert.Empty(t, out.Packet.Memory.ActiveTasks)
	assert.NotNil(t, out.Packet.Memory.ActiveTasks)
}

func TestSubmit_NotifyFailureIsNotFatal(t *testing.T) {
	f := newFixture(10)
	f.notifier.err = errors.New("webhook down")

	out, err := f.svc.Submit(context.Background(), escalation.SubmitInput{
		ConversationID: "c1",
		Trigger:        domain.TriggerSecuritySensitive,
		Summary:        "key leak",
	})
	require.NoError(t, err)
	f.tasks.Wait()

	assert.False(t, out.Notified)
	assert.Equal(t, domain.SeverityCritical, out.Packet.Severity)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(10)

	cases := []escalation.SubmitInput{
		{Trigger: domain.TriggerTimeout, Summary: "s"},
		{ConversationID: "c", Summary: "s"},
		{ConversationID: "c", Trigger: "bogus", Summary: "s"},
		{ConversationID: "c", Trigger: domain.TriggerTimeout},
	}
	for _, in := range cases {
		_, err := f.svc.Submit(context.Background(), in)
		var vErr *domain.ValidationError
		assert.ErrorAs(t, err, &vErr)
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newFixture(1)
	in := escalation.SubmitInput{ConversationID: "c", Trigger: domain.TriggerTimeout, Summary: "s"}

	_, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	f.tasks.Wait()
}
