package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
)

// RepositoryFactory returns a fresh, empty repository for one subtest.
type RepositoryFactory func(t *testing.T) core.Repository

// BaseTime is a fixed UTC instant used by the contract suite; offsets from it
// keep ordering assertions deterministic across backends.
var BaseTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// RunRepositoryContract exercises the behaviour every core.Repository
// backend must share.
func RunRepositoryContract(t *testing.T, newRepo RepositoryFactory) {
	t.Helper()
	t.Run("agents", func(t *testing.T) { testAgents(t, newRepo(t)) })
	t.Run("long term memory", func(t *testing.T) { testLongTerm(t, newRepo(t)) })
	t.Run("episodic memory", func(t *testing.T) { testEpisodes(t, newRepo(t)) })
	t.Run("shared memory", func(t *testing.T) { testShared(t, newRepo(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newRepo(t)) })
	t.Run("teams", func(t *testing.T) { testTeams(t, newRepo(t)) })
	t.Run("negotiations", func(t *testing.T) { testNegotiations(t, newRepo(t)) })
	t.Run("concurrent turn appends", func(t *testing.T) { testConcurrentTurns(t, newRepo(t)) })
	t.Run("reasoning logs", func(t *testing.T) { testReasoningLogs(t, newRepo(t)) })
}

func testAgents(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	first, err := repo.UpsertAgent(ctx, core.RegisteredAgent{
		ID: "id-1", Name: "strategist", Type: core.RoleStrategist,
		Profile:   NewProfile("strategist", core.RoleStrategist).Capabilities("planning").Build(),
		CreatedAt: BaseTime, UpdatedAt: BaseTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", first.ID)

	second, err := repo.UpsertAgent(ctx, core.RegisteredAgent{
		ID: "id-2", Name: "strategist", Type: core.RoleStrategist,
		Profile:   NewProfile("strategist", core.RoleStrategist).Capabilities("forecasting").Build(),
		CreatedAt: BaseTime.Add(time.Hour), UpdatedAt: BaseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", second.ID, "upsert keeps the original id")
	assert.True(t, BaseTime.Equal(second.CreatedAt), "upsert keeps the original creation time")

	got, err := repo.GetAgent(ctx, "strategist")
	require.NoError(t, err)
	assert.Equal(t, []string{"forecasting"}, got.Profile.Capabilities, "upsert overwrites the profile entirely")
	assert.True(t, BaseTime.Add(time.Hour).Equal(got.UpdatedAt))

	_, err = repo.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = repo.UpsertAgent(ctx, core.RegisteredAgent{
		ID: "id-3", Name: "analyst", Type: core.RoleAnalyst,
		Profile:   NewProfile("analyst", core.RoleAnalyst).Build(),
		CreatedAt: BaseTime, UpdatedAt: BaseTime,
	})
	require.NoError(t, err)

	all, err := repo.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "analyst", all[0].Name)
	assert.Equal(t, "strategist", all[1].Name)
}

func testLongTerm(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.PutLongTerm(ctx, "coach", "ws1", "tone", json.RawMessage(`{"v":1}`)))
	require.NoError(t, repo.PutLongTerm(ctx, "coach", "ws1", "tone", json.RawMessage(`{"v":2}`)))

	got, err := repo.GetLongTerm(ctx, "coach", "ws1", "tone")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	_, err = repo.GetLongTerm(ctx, "coach", "ws2", "tone")
	assert.ErrorIs(t, err, core.ErrNotFound, "workspaces are isolated")
	_, err = repo.GetLongTerm(ctx, "analyst", "ws1", "tone")
	assert.ErrorIs(t, err, core.ErrNotFound, "agents are isolated")
}

func testEpisodes(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendEpisode(ctx, core.Episode{
			ID: fmt.Sprintf("ep-%d", i), AgentName: "coach", WorkspaceID: "ws1",
			EventType: "observed", Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			OccurredAt: BaseTime.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.AppendEpisode(ctx, core.Episode{
		ID: "other", AgentName: "analyst", WorkspaceID: "ws1", EventType: "observed", OccurredAt: BaseTime,
	}))

	eps, err := repo.ListEpisodes(ctx, "coach", "ws1", 0)
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, "ep-2", eps[0].ID, "newest first")
	assert.Equal(t, "ep-0", eps[2].ID)
	assert.JSONEq(t, `{"n":2}`, string(eps[0].Payload))

	limited, err := repo.ListEpisodes(ctx, "coach", "ws1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "ep-2", limited[0].ID)
	assert.Equal(t, "ep-1", limited[1].ID)
}

func testShared(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.PutShared(ctx, core.SharedRecord{
		Key: "a", WorkspaceID: "ws1", Value: json.RawMessage(`"one"`), SourceAgent: "coach",
		CreatedAt: BaseTime, UpdatedAt: BaseTime,
	}))
	require.NoError(t, repo.PutShared(ctx, core.SharedRecord{
		Key: "b", WorkspaceID: "ws1", Value: json.RawMessage(`"two"`), SourceAgent: "analyst",
		CreatedAt: BaseTime.Add(time.Minute), UpdatedAt: BaseTime.Add(time.Minute),
	}))
	require.NoError(t, repo.PutShared(ctx, core.SharedRecord{
		Key: "a", WorkspaceID: "ws1", Value: json.RawMessage(`"uno"`), SourceAgent: "strategist",
		CreatedAt: BaseTime.Add(2 * time.Minute), UpdatedAt: BaseTime.Add(2 * time.Minute),
	}))
	require.NoError(t, repo.PutShared(ctx, core.SharedRecord{
		Key: "a", WorkspaceID: "ws2", Value: json.RawMessage(`"elsewhere"`), SourceAgent: "coach",
		CreatedAt: BaseTime, UpdatedAt: BaseTime,
	}))

	rec, err := repo.GetShared(ctx, "ws1", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `"uno"`, string(rec.Value))
	assert.Equal(t, "strategist", rec.SourceAgent)
	assert.True(t, BaseTime.Equal(rec.CreatedAt), "upsert preserves creation time")
	assert.True(t, BaseTime.Add(2*time.Minute).Equal(rec.UpdatedAt))

	all, err := repo.ListShared(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key, "most recently updated first")
	assert.Equal(t, "b", all[1].Key)

	_, err = repo.GetShared(ctx, "ws1", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	created, err := repo.CreateShared(ctx, core.SharedRecord{
		Key: "a", WorkspaceID: "ws1", Value: json.RawMessage(`"clobbered"`), SourceAgent: "coach",
		CreatedAt: BaseTime.Add(3 * time.Minute), UpdatedAt: BaseTime.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, created, "create never overwrites")
	rec, err = repo.GetShared(ctx, "ws1", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `"uno"`, string(rec.Value))

	created, err = repo.CreateShared(ctx, core.SharedRecord{
		Key: "c", WorkspaceID: "ws1", Value: json.RawMessage(`"three"`), SourceAgent: "coach",
		CreatedAt: BaseTime.Add(4 * time.Minute), UpdatedAt: BaseTime.Add(4 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, created)
	all, err = repo.ListShared(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Key)
}

func testMessages(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	msgs := []core.MeshMessage{
		{ID: "m1", From: "strategist", To: "coach", Type: core.MessageRequest, WorkspaceID: "ws1", CreatedAt: BaseTime},
		{ID: "m2", From: "analyst", Type: core.MessageInsight, WorkspaceID: "ws1", CreatedAt: BaseTime.Add(time.Second), Payload: json.RawMessage(`{"k":"v"}`)},
		{ID: "m3", From: "strategist", To: "analyst", Type: core.MessageRequest, WorkspaceID: "ws1", CreatedAt: BaseTime.Add(2 * time.Second)},
		{ID: "m4", From: "coach", To: "coach", Type: core.MessageStatusUpdate, WorkspaceID: "ws2", CreatedAt: BaseTime.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, repo.AppendMessage(ctx, m))
	}

	inbox, err := repo.ListInbox(ctx, "coach", "ws1", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "m2", inbox[0].ID, "newest first")
	assert.Equal(t, "m1", inbox[1].ID)
	assert.JSONEq(t, `{"k":"v"}`, string(inbox[0].Payload))

	limited, err := repo.ListInbox(ctx, "coach", "ws1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "m2", limited[0].ID)

	all, err := repo.ListMessages(ctx, "ws1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m3", all[0].ID)

	two, err := repo.ListMessages(ctx, "ws1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func testTeams(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	older := core.Team{
		ID: "t1", Purpose: "launch", AgentNames: []string{"strategist", "coach"}, WorkspaceID: "ws1",
		Active: true, State: map[string]any{"phase": "draft"}, CreatedAt: BaseTime,
	}
	newer := core.Team{
		ID: "t2", Name: "creative pod", Purpose: "artwork", AgentNames: []string{"creative"}, WorkspaceID: "ws1",
		Active: true, State: map[string]any{}, CreatedAt: BaseTime.Add(time.Minute),
	}
	require.NoError(t, repo.CreateTeam(ctx, older))
	require.NoError(t, repo.CreateTeam(ctx, newer))

	got, err := repo.GetTeam(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"strategist", "coach"}, got.AgentNames)
	assert.Equal(t, "draft", got.State["phase"])
	assert.True(t, got.Active)
	assert.Nil(t, got.DissolvedAt)

	require.NoError(t, repo.UpdateTeamState(ctx, "t1", map[string]any{"phase": "final"}))
	got, err = repo.GetTeam(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"phase": "final"}, got.State, "state is replaced, not merged")

	active, err := repo.ListActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "t2", active[0].ID, "newest first")

	dissolvedAt := BaseTime.Add(time.Hour)
	require.NoError(t, repo.DeactivateTeam(ctx, "t1", dissolvedAt))
	require.NoError(t, repo.DeactivateTeam(ctx, "t1", dissolvedAt.Add(time.Hour)))

	got, err = repo.GetTeam(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.DissolvedAt)
	assert.True(t, dissolvedAt.Equal(*got.DissolvedAt), "second deactivation keeps the first timestamp")

	assert.ErrorIs(t, repo.UpdateTeamState(ctx, "t1", map[string]any{"phase": "late"}), core.ErrTeamDissolved)

	active, err = repo.ListActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "t2", active[0].ID)

	_, err = repo.GetTeam(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateTeamState(ctx, "missing", nil), core.ErrNotFound)
}

func testNegotiations(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	n := core.Negotiation{
		ID: "n1", TeamID: "t1", WorkspaceID: "ws1", Topic: "release date",
		InitialPositions: map[string]any{"strategist": "friday", "producer": "monday"},
		Conversation:     []core.Turn{}, Status: core.NegotiationInProgress, CreatedAt: BaseTime,
	}
	require.NoError(t, repo.CreateNegotiation(ctx, n))
	require.NoError(t, repo.CreateNegotiation(ctx, core.Negotiation{
		ID: "n2", TeamID: "t1", WorkspaceID: "ws1", Topic: "budget",
		InitialPositions: map[string]any{}, Conversation: []core.Turn{},
		Status: core.NegotiationInProgress, CreatedAt: BaseTime.Add(time.Minute),
	}))

	require.NoError(t, repo.AppendTurn(ctx, "n1", core.Turn{Agent: "strategist", Message: "friday works", Position: "friday", Timestamp: BaseTime.Add(time.Second)}))
	require.NoError(t, repo.AppendTurn(ctx, "n1", core.Turn{Agent: "producer", Message: "ok", Timestamp: BaseTime.Add(2 * time.Second)}))

	got, err := repo.GetNegotiation(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "friday", got.InitialPositions["strategist"])
	require.Len(t, got.Conversation, 2)
	assert.Equal(t, "strategist", got.Conversation[0].Agent)
	assert.Equal(t, "friday", got.Conversation[0].Position)
	assert.Equal(t, "producer", got.Conversation[1].Agent)
	assert.Nil(t, got.Conversation[1].Position)
	assert.Equal(t, core.NegotiationInProgress, got.Status)
	assert.Nil(t, got.ResolvedAt)

	resolvedAt := BaseTime.Add(time.Hour)
	require.NoError(t, repo.ResolveNegotiation(ctx, "n1", core.Resolution{
		Status: core.NegotiationConverged, Outcome: json.RawMessage(`{"date":"friday"}`),
		ResolvedAt: resolvedAt, RequireOpen: true,
	}))

	err = repo.AppendTurn(ctx, "n1", core.Turn{Agent: "producer", Message: "too late", Timestamp: resolvedAt})
	assert.ErrorIs(t, err, core.ErrNegotiationResolved)

	err = repo.ResolveNegotiation(ctx, "n1", core.Resolution{Status: core.NegotiationConverged, ResolvedAt: resolvedAt, RequireOpen: true})
	assert.ErrorIs(t, err, core.ErrNegotiationResolved)

	// unconditional resolution overwrites (escalation is last writer wins)
	require.NoError(t, repo.ResolveNegotiation(ctx, "n1", core.Resolution{
		Status: core.NegotiationEscalated, Outcome: json.RawMessage(`{"escalated":true}`), ResolvedAt: resolvedAt.Add(time.Minute),
	}))
	got, err = repo.GetNegotiation(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationEscalated, got.Status)
	assert.JSONEq(t, `{"escalated":true}`, string(got.Outcome))
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Add(time.Minute).Equal(*got.ResolvedAt))
	assert.Len(t, got.Conversation, 2)

	list, err := repo.ListNegotiations(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n1", list[0].ID, "oldest first")
	assert.Equal(t, "n2", list[1].ID)

	require.NoError(t, repo.CreateNegotiation(ctx, core.Negotiation{
		ID: "n3", TeamID: "t2", WorkspaceID: "ws2", Topic: "elsewhere",
		InitialPositions: map[string]any{}, Conversation: []core.Turn{},
		Status: core.NegotiationInProgress, CreatedAt: BaseTime.Add(2 * time.Minute),
	}))
	list, err = repo.ListWorkspaceNegotiations(ctx, "ws1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID, "newest first")
	assert.Equal(t, core.NegotiationEscalated, list[1].Status)
	assert.Len(t, list[1].Conversation, 2)
	list, err = repo.ListWorkspaceNegotiations(ctx, "ws1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n2", list[0].ID)

	_, err = repo.GetNegotiation(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.AppendTurn(ctx, "missing", core.Turn{Agent: "x"}), core.ErrNotFound)
}

func testConcurrentTurns(t *testing.T, repo core.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateNegotiation(ctx, core.Negotiation{
		ID: "n-race", TeamID: "t1", WorkspaceID: "ws1", Topic: "race",
		InitialPositions: map[string]any{}, Conversation: []core.Turn{},
		Status: core.NegotiationInProgress, CreatedAt: BaseTime,
	}))

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AppendTurn(ctx, "n-race", core.Turn{
				Agent: fmt.Sprintf("agent-%02d", i), Message: "turn", Timestamp: BaseTime.Add(time.Duration(i) * time.Millisecond),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetNegotiation(ctx, "n-race")
	require.NoError(t, err)
	require.Len(t, got.Conversation, writers, "no turn is lost under concurrent appends")

	seen := map[string]bool{}
	for _, turn := range got.Conversation {
		seen[turn.Agent] = true
	}
	assert.Len(t, seen, writers)
}

func testReasoningLogs(t *testing.T, repo core.Repository) {
	ctx := context.Background()

	for i, ct := range []core.CycleType{core.CycleRoutine, core.CycleOpportunity, core.CycleConflict} {
		require.NoError(t, repo.AppendReasoningLog(ctx, core.ReasoningLog{
			ID: fmt.Sprintf("log-%d", i), WorkspaceID: "ws1", CycleType: ct,
			Inputs: json.RawMessage(`{"systems":{}}`), Reasoning: "because",
			Outputs: json.RawMessage(`{"recommendations":[]}`), CreatedAt: BaseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, err := repo.ListReasoningLogs(ctx, "ws1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, core.CycleConflict, logs[0].CycleType)
	assert.Equal(t, "because", logs[0].Reasoning)
	assert.JSONEq(t, `{"recommendations":[]}`, string(logs[0].Outputs))
	assert.Equal(t, "log-1", logs[1].ID)

	none, err := repo.ListReasoningLogs(ctx, "ws2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
