package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/katana-portal/internal/adapters/storage/memory"
	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/session"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

func supervisorSession(t *testing.T, f *fixture) *domain.Session {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), session.CreateInput{Owner: domain.AgentKatana})
	require.NoError(t, err)
	return sess
}

func TestDelegate_PinsModelOverride(t *testing.T) {
	f := newFixture(t)
	sess := supervisorSession(t, f)

	d, err := f.svc.Delegate(context.Background(), session.DelegateInput{
		SessionID:   sess.ID,
		TargetAgent: domain.AgentForge,
		Task:        "  build the release notes ",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DelegationPending, d.Status)
	assert.Equal(t, domain.AgentKatana, d.CallerAgent)
	assert.Equal(t, "build the release notes", d.TaskDescription)
	assert.Equal(t, "kimi-k2-turbo-preview", d.ModelOverride)

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)
}

func TestDelegate_DeniedForNonSupervisor(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.CreateSession(context.Background(), session.CreateInput{Owner: domain.AgentKimi})
	require.NoError(t, err)

	_, err = f.svc.Delegate(context.Background(), session.DelegateInput{
		SessionID:   sess.ID,
		TargetAgent: domain.AgentScout,
		Task:        "research",
	})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestDelegate_ClosedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := supervisorSession(t, f)
	_, err := f.svc.CloseSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentScout, Task: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestDelegate_ActiveQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := supervisorSession(t, f)

	var ids []string
	for i := 0; i < session.MaxActiveDelegations; i++ {
		d, err := f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentScout, Task: fmt.Sprint("t", i)})
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}

	_, err := f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentScout, Task: "one more"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: ids[0], Status: domain.DelegationFailed, Error: "gave up"})
	require.NoError(t, err)

	_, err = f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentScout, Task: "one more"})
	assert.NoError(t, err)
}

func TestDelegate_TotalQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := supervisorSession(t, f)

	for i := 0; i < session.MaxDelegationsPerSession; i++ {
		d, err := f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentLedger, Task: fmt.Sprint("t", i)})
		require.NoError(t, err, i)
		_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: domain.DelegationFailed, Error: "skip"})
		require.NoError(t, err)
	}

	_, err := f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentLedger, Task: "21st"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

// slowDelegations adds a round trip before every store call.
type slowDelegations struct {
	*memory.DelegationStore
	delay time.Duration
}

func (s slowDelegations) ListDelegationsBySession(ctx context.Context, id domain.SessionID) ([]*domain.Delegation, error) {
	time.Sleep(s.delay)
	return s.DelegationStore.ListDelegationsBySession(ctx, id)
}

func (s slowDelegations) CreateDelegationWithinQuota(ctx context.Context, d *domain.Delegation, q domain.Quota) error {
	time.Sleep(s.delay)
	return s.DelegationStore.CreateDelegationWithinQuota(ctx, d, q)
}

func TestDelegate_ConcurrentCallsRespectActiveQuota(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDelegationStore()
	tasks := detached.NewRunner(time.Second)
	t.Cleanup(tasks.Wait)

	svc := session.NewService(session.Deps{
		Sessions:    memory.NewSessionStore(),
		Messages:    memory.NewMessageStore(),
		Delegations: slowDelegations{DelegationStore: store, delay: 5 * time.Millisecond},
		Tasks:       tasks,
	}, session.Config{})
	sess, err := svc.CreateSession(ctx, session.CreateInput{Owner: domain.AgentKatana})
	require.NoError(t, err)

	const callers = 30
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentScout, Task: fmt.Sprint("t", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrQuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, session.MaxActiveDelegations, created)
	assert.Equal(t, callers-session.MaxActiveDelegations, rejected)

	ds, err := store.ListDelegationsBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, ds, session.MaxActiveDelegations)
}

func TestTransitionDelegation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := supervisorSession(t, f)

	d, err := f.svc.Delegate(ctx, session.DelegateInput{SessionID: sess.ID, TargetAgent: domain.AgentForge, Task: "ship"})
	require.NoError(t, err)

	_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: domain.DelegationCompleted, Result: "done"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, st := range []domain.DelegationStatus{domain.DelegationClaimed, domain.DelegationInProgress} {
		_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: st})
		require.NoError(t, err, st)
	}

	_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: domain.DelegationCompleted})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)

	done, err := f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: domain.DelegationCompleted, Result: "shipped"})
	require.NoError(t, err)
	assert.Equal(t, "shipped", done.Result)
	assert.Empty(t, done.Error)

	_, err = f.svc.TransitionDelegation(ctx, session.TransitionInput{ID: d.ID, Status: domain.DelegationFailed, Error: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCheckPermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.True(t, f.svc.CheckPermission(ctx, domain.AgentScout, domain.AgentScout, "delegate").Allowed)
	assert.True(t, f.svc.CheckPermission(ctx, domain.AgentKatana, domain.AgentForge, "delegate").Allowed)

	d := f.svc.CheckPermission(ctx, domain.AgentForge, domain.AgentLedger, "delegate")
	assert.False(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)

	assert.False(t, f.svc.CheckPermission(ctx, "intruder", domain.AgentKimi, "delegate").Allowed)
}
