package team

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/testutil"
	"github.com/hupe1980/meshos/registry"
)

func newTestEngine(optFns ...func(o *Options)) *Engine {
	clock := testutil.BaseTime
	var mu sync.Mutex
	fns := append([]func(o *Options){func(o *Options) {
		o.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}
	}}, optFns...)
	return New(fns...)
}

func TestEngine_FormTeam(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	tm, err := e.FormTeam(ctx, FormRequest{
		Name:        "release-squad",
		Purpose:     "plan the single launch",
		AgentNames:  []string{"strategist", "analyst", "strategist", "", "coach"},
		WorkspaceID: "ws1",
	})
	require.NoError(t, err)
	assert.True(t, tm.Active)
	assert.Nil(t, tm.DissolvedAt)
	assert.Equal(t, []string{"strategist", "analyst", "coach"}, tm.AgentNames)
	assert.Contains(t, tm.State, "formed_at")

	got, err := e.GetTeam(ctx, tm.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tm.AgentNames, got.AgentNames)
	assert.Equal(t, "plan the single launch", got.Purpose)
}

func TestEngine_FormTeamValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(func(o *Options) { o.MaxTeamSize = 2 })

	_, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"a"}})
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)

	_, err = e.FormTeam(ctx, FormRequest{WorkspaceID: "ws1"})
	assert.ErrorIs(t, err, core.ErrEmptyTeam)

	_, err = e.FormTeam(ctx, FormRequest{AgentNames: []string{"a", "b", "c"}, WorkspaceID: "ws1"})
	assert.ErrorIs(t, err, core.ErrTeamTooLarge)

	_, err = e.FormTeam(ctx, FormRequest{AgentNames: []string{"a", "b", "a"}, WorkspaceID: "ws1"})
	assert.NoError(t, err, "duplicates do not count towards the limit")
}

func TestEngine_FormTeamChecksRegistry(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	require.NoError(t, reg.InitializeBuiltInAgents(ctx))
	e := newTestEngine(func(o *Options) { o.Agents = reg })

	_, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"strategist", "ghost"}, WorkspaceID: "ws1"})
	assert.ErrorIs(t, err, core.ErrUnknownAgent)

	_, err = e.FormTeam(ctx, FormRequest{AgentNames: []string{"strategist", "analyst"}, WorkspaceID: "ws1"})
	assert.NoError(t, err)
}

func TestEngine_DissolveIsOneWay(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	tm, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"a", "b"}, WorkspaceID: "ws1"})
	require.NoError(t, err)

	require.NoError(t, e.DissolveTeam(ctx, tm.ID))
	first, err := e.GetTeam(ctx, tm.ID)
	require.NoError(t, err)
	require.NotNil(t, first.DissolvedAt)
	assert.False(t, first.Active)

	// second dissolve keeps the original timestamp
	require.NoError(t, e.DissolveTeam(ctx, tm.ID))
	second, err := e.GetTeam(ctx, tm.ID)
	require.NoError(t, err)
	assert.True(t, first.DissolvedAt.Equal(*second.DissolvedAt))

	// state updates are refused and never resurrect the team
	err = e.UpdateTeamState(ctx, tm.ID, map[string]any{"progress": "resumed"})
	assert.ErrorIs(t, err, core.ErrTeamDissolved)

	active, err := e.GetActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, active)

	after, err := e.GetTeam(ctx, tm.ID)
	require.NoError(t, err)
	assert.NotContains(t, after.State, "progress")
}

func TestEngine_UpdateTeamStateReplaces(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	tm, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"a"}, WorkspaceID: "ws1"})
	require.NoError(t, err)

	require.NoError(t, e.UpdateTeamState(ctx, tm.ID, map[string]any{"progress": "drafting"}))
	got, err := e.GetTeam(ctx, tm.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"progress": "drafting"}, got.State)

	err = e.UpdateTeamState(ctx, "missing", map[string]any{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_GetActiveTeamsNewestFirstPerWorkspace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	older, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"a"}, WorkspaceID: "ws1"})
	require.NoError(t, err)
	newer, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"b"}, WorkspaceID: "ws1"})
	require.NoError(t, err)
	_, err = e.FormTeam(ctx, FormRequest{AgentNames: []string{"c"}, WorkspaceID: "ws2"})
	require.NoError(t, err)

	active, err := e.GetActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)
}

func TestEngine_GetTeamMissingIsNil(t *testing.T) {
	got, err := newTestEngine().GetTeam(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(func(o *Options) { o.Store = testutil.FailingRepository{} })

	_, err := e.FormTeam(ctx, FormRequest{AgentNames: []string{"a"}, WorkspaceID: "ws1"})
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	_, err = e.GetTeam(ctx, "x")
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	assert.ErrorIs(t, e.DissolveTeam(ctx, "x"), testutil.ErrStoreDown)
}
