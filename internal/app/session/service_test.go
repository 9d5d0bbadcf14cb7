package session_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/katana-portal/internal/adapters/storage/memory"
	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/ratelimit"
	"github.com/PabloGalante/katana-portal/internal/app/session"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

type fixture struct {
	svc      *session.Service
	sessions *memory.SessionStore
	messages *memory.MessageStore
	activity *memory.ActivityStore
	tasks    *detached.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: memory.NewSessionStore(),
		messages: memory.NewMessageStore(),
		activity: memory.NewActivityStore(),
		tasks:    detached.NewRunner(time.Second),
	}
	f.svc = session.NewService(session.Deps{
		Sessions:    f.sessions,
		Messages:    f.messages,
		Delegations: memory.NewDelegationStore(),
		Activity:    f.activity,
		Limiter:     ratelimit.NewLimiter(100, time.Minute),
		Tasks:       f.tasks,
	}, session.Config{
		Supervisor:      domain.AgentKatana,
		DelegationModel: "kimi-k2-turbo-preview",
	})
	t.Cleanup(f.tasks.Wait)
	return f
}

var sessionIDPattern = regexp.MustCompile(`^portal-kimi-\d+-[0-9a-f]{8}$`)

func TestCreateSession_Defaults(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.CreateSession(context.Background(), session.CreateInput{})
	require.NoError(t, err)

	assert.Regexp(t, sessionIDPattern, string(sess.ID))
	assert.Equal(t, domain.AgentKimi, sess.Owner)
	assert.Equal(t, domain.ModeOperator, sess.Mode)
	assert.Equal(t, domain.SessionActive, sess.Status)
	assert.Zero(t, sess.MessageCount)
}

func TestCreateSession_CrossAgentNeedsSupervisor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentScout, CallerAgent: domain.AgentKimi})
	var permErr *session.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Contains(t, permErr.Decision.Reason, "only katana")

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentScout, CallerAgent: domain.AgentKatana})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentScout, sess.Owner)

	_, err = f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentScout, CallerAgent: domain.AgentScout})
	require.NoError(t, err)

	f.tasks.Wait()
	entries := f.activity.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "permission_denied", entries[0].Action)
	assert.Equal(t, domain.AgentKimi, entries[0].Agent)
}

func TestCreateSession_UnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSession(context.Background(), session.CreateInput{Owner: "nobody"})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestCloseThenCreate_DistinctIDsAndActiveListExcludesClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentKimi})
	require.NoError(t, err)

	closed, err := f.svc.CloseSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	second, err := f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentKimi})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := f.svc.ListSessions(ctx, domain.SessionFilter{Owner: domain.AgentKimi, Status: domain.SessionActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestCloseSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{})
	require.NoError(t, err)

	once, err := f.svc.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	twice, err := f.svc.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, once.ClosedAt.UnixNano(), twice.ClosedAt.UnixNano())

	_, err = f.svc.CloseSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseAndReplace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentKimi, Mode: domain.ModeAdvisor})
	require.NoError(t, err)

	closed, next, err := f.svc.CloseAndReplace(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, closed.Status)
	assert.Equal(t, domain.SessionActive, next.Status)
	assert.Equal(t, domain.ModeAdvisor, next.Mode)
	assert.NotEqual(t, sess.ID, next.ID)
}

func TestIncrementMessageCount_BestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{})
	require.NoError(t, err)

	f.svc.IncrementMessageCount(ctx, sess.ID)
	f.svc.IncrementMessageCount(ctx, sess.ID)
	f.svc.IncrementMessageCount(ctx, "missing")

	got, err := f.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
}

func TestResumeHistory_RotatesStaleConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return now })

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{})
	require.NoError(t, err)
	require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{
		ID: "old", SessionID: sess.ID, Role: domain.RoleUser, Content: "hi", CreatedAt: now.Add(-6 * 24 * time.Hour),
	}))
	require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{
		ID: "new", SessionID: sess.ID, Role: domain.RoleAssistant, Content: "hello", CreatedAt: now.Add(-time.Hour),
	}))

	h, err := f.svc.ResumeHistory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, h.RotatedFrom)
	assert.NotEqual(t, sess.ID, h.Session.ID)
	assert.Empty(t, h.Messages)

	left, err := f.messages.GetMessagesBySession(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	old, err := f.svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, old.Status)
}

func TestResumeHistory_FreshConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.CreateSession(ctx, session.CreateInput{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{
			ID: domain.MessageID(fmt.Sprint(i)), SessionID: sess.ID, Content: fmt.Sprint(i), CreatedAt: time.Now(),
		}))
	}

	h, err := f.svc.ResumeHistory(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, h.RotatedFrom)
	assert.Equal(t, sess.ID, h.Session.ID)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "1", h.Messages[0].Content)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return now })

	require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{ID: "a", SessionID: "s1", CreatedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{ID: "b", SessionID: "s2", CreatedAt: now.Add(-6 * 24 * time.Hour)}))
	require.NoError(t, f.messages.AppendMessage(ctx, &domain.Message{ID: "c", SessionID: "s2", CreatedAt: now.Add(-time.Hour)}))

	n, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
