package firestore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

func TestWrap_MapsStatusCodes(t *testing.T) {
	assert.ErrorIs(t, wrap("GetSession", status.Error(codes.NotFound, "no doc")), domain.ErrNotFound)
	assert.ErrorIs(t, wrap("CreateSession", status.Error(codes.AlreadyExists, "dup")), domain.ErrAlreadyExists)

	other := errors.New("boom")
	err := wrap("ListSessions", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "firestore ListSessions")
}

func TestMemoryDocID_EscapesSlashes(t *testing.T) {
	id := memoryDocID(&domain.MemoryEntry{Owner: domain.AgentKimi, Category: domain.MemoryDrafts, Key: "q3/plan"})
	assert.Equal(t, "kimi__drafts__q3%2Fplan", id)
	assert.NotContains(t, id, "/")
}

func TestRuleGroups_DecodesByShape(t *testing.T) {
	got, err := ruleGroups(map[string]any{
		"tone":     "calm",
		"triage":   []any{"assess", "act"},
		"priority": map[string]any{"p0": "now", "p1": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TextRule("calm"), got["tone"])
	assert.Equal(t, domain.StepsRule("assess", "act"), got["triage"])
	assert.Equal(t, domain.LabeledRule(map[string]string{"p0": "now", "p1": "2"}), got["priority"])

	none, err := ruleGroups(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ruleGroups([]any{"not", "a", "map"})
	assert.Error(t, err)
}
