package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/katana-portal/internal/adapters/storage/memory"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

func TestSessionStore_ListFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, s := range []*domain.Session{
		{ID: "a", Owner: domain.AgentKimi, Status: domain.SessionClosed, CreatedAt: base},
		{ID: "b", Owner: domain.AgentKimi, Status: domain.SessionActive, CreatedAt: base.Add(time.Minute)},
		{ID: "c", Owner: domain.AgentScout, Status: domain.SessionActive, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "d", Owner: domain.AgentKimi, Status: domain.SessionActive, CreatedAt: base.Add(3 * time.Minute)},
	} {
		require.NoError(t, store.CreateSession(ctx, s), i)
	}

	got, err := store.ListSessions(ctx, domain.SessionFilter{Owner: domain.AgentKimi, Status: domain.SessionActive})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.SessionID("d"), got[0].ID)
	assert.Equal(t, domain.SessionID("b"), got[1].ID)

	got, err = store.ListSessions(ctx, domain.SessionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SessionID("d"), got[0].ID)
}

func TestSessionStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()

	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.IncrementMessageCount(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, store.UpdateSession(ctx, &domain.Session{ID: "missing"}), domain.ErrNotFound)

	require.NoError(t, store.CreateSession(ctx, &domain.Session{ID: "x"}))
	assert.ErrorIs(t, store.CreateSession(ctx, &domain.Session{ID: "x"}), domain.ErrAlreadyExists)
}

func TestSessionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	require.NoError(t, store.CreateSession(ctx, &domain.Session{ID: "x", Status: domain.SessionActive}))

	got, err := store.GetSession(ctx, "x")
	require.NoError(t, err)
	got.Status = domain.SessionClosed

	require.NoError(t, store.IncrementMessageCount(ctx, "x"))
	again, err := store.GetSession(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, again.Status)
	assert.Equal(t, 1, again.MessageCount)
}

func TestMessageStore_WindowAndSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMessageStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, &domain.Message{
			ID:        domain.MessageID(string(rune('a' + i))),
			SessionID: "s1",
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.AppendMessage(ctx, &domain.Message{ID: "z", SessionID: "s2", CreatedAt: base}))

	last, err := store.GetMessagesBySession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Content)
	assert.Equal(t, "e", last[1].Content)

	n, err := store.DeleteMessagesBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := store.GetMessagesBySession(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err = store.DeleteSessionMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStore_UpsertIsKeyedByOwnerCategoryKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertMemory(ctx, &domain.MemoryEntry{Key: "k", Value: "v1", Category: domain.MemoryDecisions, Owner: domain.AgentKimi, UpdatedAt: base}))
	require.NoError(t, store.UpsertMemory(ctx, &domain.MemoryEntry{Key: "k", Value: "v2", Category: domain.MemoryDecisions, Owner: domain.AgentKimi, UpdatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.UpsertMemory(ctx, &domain.MemoryEntry{Key: "k", Value: "other", Category: domain.MemoryTaskState, Owner: domain.AgentKimi, UpdatedAt: base}))
	require.NoError(t, store.UpsertMemory(ctx, &domain.MemoryEntry{Key: "k", Value: "scout", Category: domain.MemoryDecisions, Owner: domain.AgentScout, UpdatedAt: base}))

	got, err := store.ListMemory(ctx, domain.AgentKimi)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].Value)
	assert.Equal(t, "other", got[1].Value)
}

func TestEscalationStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEscalationStore()

	require.NoError(t, store.SaveHandoff(ctx, &domain.HandoffPacket{ID: "h1", Summary: "first"}))
	assert.ErrorIs(t, store.SaveHandoff(ctx, &domain.HandoffPacket{ID: "h1", Summary: "second"}), domain.ErrAlreadyExists)

	got, err := store.GetHandoff(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Summary)

	_, err = store.GetHandoff(ctx, "h2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelegationStore_ListBySession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDelegationStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateDelegation(ctx, &domain.Delegation{ID: "2", SessionID: "s", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.CreateDelegation(ctx, &domain.Delegation{ID: "1", SessionID: "s", CreatedAt: base}))
	require.NoError(t, store.CreateDelegation(ctx, &domain.Delegation{ID: "3", SessionID: "other", CreatedAt: base}))

	got, err := store.ListDelegationsBySession(ctx, "s")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)

	assert.ErrorIs(t, store.UpdateDelegation(ctx, &domain.Delegation{ID: "9"}), domain.ErrNotFound)
}

func TestProfileStore_EmptyIsNotFound(t *testing.T) {
	store := memory.NewProfileStore()
	_, err := store.FetchProfile(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	store.SetProfile(&domain.CommanderProfile{Version: "v7"})
	p, err := store.FetchProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v7", p.Version)
}

func TestDelegationStore_CreateWithinQuota(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDelegationStore()
	q := domain.Quota{MaxTotal: 3, MaxActive: 2}

	require.NoError(t, store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "1", SessionID: "s", Status: domain.DelegationPending}, q))
	require.NoError(t, store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "2", SessionID: "s", Status: domain.DelegationClaimed}, q))
	require.NoError(t, store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "x", SessionID: "other", Status: domain.DelegationPending}, q))

	err := store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "3", SessionID: "s", Status: domain.DelegationPending}, q)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "active")

	require.NoError(t, store.UpdateDelegation(ctx, &domain.Delegation{ID: "1", SessionID: "s", Status: domain.DelegationFailed}))
	require.NoError(t, store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "3", SessionID: "s", Status: domain.DelegationPending}, q))

	require.NoError(t, store.UpdateDelegation(ctx, &domain.Delegation{ID: "2", SessionID: "s", Status: domain.DelegationFailed}))
	err = store.CreateDelegationWithinQuota(ctx, &domain.Delegation{ID: "4", SessionID: "s", Status: domain.DelegationPending}, q)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "3 delegations (max 3)")

	got, err := store.ListDelegationsBySession(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
