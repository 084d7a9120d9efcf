package meshos

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/guardrail"
	"github.com/hupe1980/meshos/internal/testutil"
	"github.com/hupe1980/meshos/reasoner"
	"github.com/hupe1980/meshos/store/memstore"
)

func testClock() func() time.Time {
	clock := testutil.BaseTime
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
}

func TestMesh_RunCycleRoutesAndRejects(t *testing.T) {
	ctx := context.Background()
	oracle := &testutil.StubOracle{
		ReasonFn: func(context.Context, core.ReasoningBrief) (core.CycleResult, error) {
			return core.CycleResult{
				Recommendations: []core.Recommendation{
					{Type: "suggest_pitch", TargetSystem: core.TargetCampaigns, Priority: core.PriorityMedium, Description: "pitch Leeds radio", Reasoning: "streams up", SourceAgent: "strategist"},
					{Type: "send_email_blast", TargetSystem: core.TargetCampaigns, Priority: core.PriorityLow},
					{Type: "suggest_focus_block", TargetSystem: core.TargetCoaching, Priority: core.PriorityUrgent},
					{Type: "suggest_pitch", TargetSystem: core.TargetCampaigns, Payload: json.RawMessage(`[1,2]`)},
				},
				Reasoning: "spike in fusion",
			}, nil
		},
	}
	m := New(func(o *Options) {
		o.Oracle = oracle
		o.Now = testClock()
		o.Sources = map[core.System]reasoner.Source{
			core.SystemFusion: reasoner.StaticSource(map[string]int{"streams": 120}),
		}
	})

	var (
		mu        sync.Mutex
		announced []core.MeshMessage
	)
	unsubscribe := m.Bus.Subscribe("campaigns_watcher", []core.MessageType{core.MessageRecommendation}, func(_ context.Context, msg core.MeshMessage) error {
		mu.Lock()
		defer mu.Unlock()
		announced = append(announced, msg)
		return nil
	})
	defer unsubscribe()

	report, err := m.RunCycle(ctx, "ws1", core.CycleOpportunity)
	require.NoError(t, err)

	assert.Equal(t, core.SnapshotOK, report.Context.Systems[core.SystemFusion].Status)
	assert.Equal(t, "spike in fusion", report.Result.Reasoning)

	require.Len(t, report.Routed, 2)
	assert.Equal(t, "strategist", report.Routed[0].Action.SourceAgent)
	assert.Equal(t, ReasonerAgent, report.Routed[1].Action.SourceAgent)
	assert.Equal(t, []string{guardrail.RuleMissingReasoning}, report.Warnings[report.Routed[1].Key])

	require.Len(t, report.Rejected, 2)
	assert.Equal(t, []string{guardrail.RuleEmailDispatch}, report.Rejected[0].Violations)
	var vErr *guardrail.ViolationError
	assert.True(t, errors.As(report.Rejected[0].Err, &vErr))
	assert.Empty(t, report.Rejected[1].Violations)
	assert.Error(t, report.Rejected[1].Err)

	pending, err := m.Router.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "suggest_pitch", pending[0].Action.Type)

	mu.Lock()
	assert.Len(t, announced, 2)
	mu.Unlock()

	history, err := m.Reasoner.GetReasoningHistory(ctx, "ws1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMesh_RunCycleRejectsMissingTarget(t *testing.T) {
	ctx := context.Background()
	m := New(func(o *Options) {
		o.Now = testClock()
		o.Oracle = &testutil.StubOracle{
			ReasonFn: func(context.Context, core.ReasoningBrief) (core.CycleResult, error) {
				return core.CycleResult{
					Recommendations: []core.Recommendation{
						{Type: "review_copy", Priority: core.PriorityLow},
						{Type: "plan_release", TargetSystem: core.TargetCreative, Priority: core.PriorityLow},
					},
				}, nil
			},
		}
	})

	report, err := m.RunCycle(ctx, "ws1", core.CycleRoutine)
	require.NoError(t, err)

	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "review_copy", report.Rejected[0].Recommendation.Type)
	assert.ErrorIs(t, report.Rejected[0].Err, core.ErrMissingTarget)
	assert.Empty(t, report.Rejected[0].Violations)

	require.Len(t, report.Routed, 1)
	assert.Equal(t, "plan_release", report.Routed[0].Action.Type)

	pending, err := m.Router.GetPendingRecommendations(ctx, core.TargetCreative, "ws1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMesh_RunCycleWithoutOracle(t *testing.T) {
	_, err := New().RunCycle(context.Background(), "ws1", core.CycleRoutine)
	assert.Error(t, err)

	_, err = New().RunCycle(context.Background(), "", core.CycleRoutine)
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)
}

func TestMesh_ResolveConflictConverges(t *testing.T) {
	ctx := context.Background()
	oracle := &testutil.StubOracle{
		NegotiateFn: func(_ context.Context, brief core.NegotiationBrief) (core.Verdict, error) {
			return core.Verdict{Converged: true, Outcome: json.RawMessage(`{"release":"friday"}`), Reasoning: "aligned"}, nil
		},
	}
	m := New(func(o *Options) {
		o.Oracle = oracle
		o.Now = testClock()
	})
	require.NoError(t, m.Registry.InitializeBuiltInAgents(ctx))

	res, err := m.ResolveConflict(ctx, core.Conflict{
		Type:      "release_timing",
		Agents:    []string{"strategist", "creative"},
		Positions: map[string]any{"strategist": "friday", "creative": "next month"},
		Severity:  core.SeverityMedium,
	}, "ws1")
	require.NoError(t, err)

	assert.True(t, res.Verdict.Converged)
	assert.Equal(t, core.NegotiationConverged, res.Negotiation.Status)
	assert.JSONEq(t, `{"release":"friday"}`, string(res.Negotiation.Outcome))
	require.Len(t, res.Negotiation.Conversation, 2)
	assert.Equal(t, "strategist", res.Negotiation.Conversation[0].Agent)

	assert.False(t, res.Team.Active)
	assert.NotNil(t, res.Team.DissolvedAt)

	briefs := oracle.NegotiationBriefs()
	require.Len(t, briefs, 1)
	assert.Equal(t, "release_timing", briefs[0].Topic)
	assert.Len(t, briefs[0].Conversation, 2)

	msgs, err := m.Bus.GetAllMessages(ctx, "ws1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "one announcement per opening turn")
}

func TestMesh_ResolveConflictEscalates(t *testing.T) {
	ctx := context.Background()
	m := New(func(o *Options) {
		o.Oracle = &testutil.StubOracle{
			NegotiateFn: func(context.Context, core.NegotiationBrief) (core.Verdict, error) {
				return core.Verdict{Converged: false, Reasoning: "too far apart", Blockers: []string{"budget", "timing"}}, nil
			},
		}
	})
	require.NoError(t, m.Registry.InitializeBuiltInAgents(ctx))

	res, err := m.ResolveConflict(ctx, core.Conflict{
		Type:      "budget",
		Agents:    []string{"producer", "creative"},
		Positions: map[string]any{"producer": 100},
		Severity:  core.SeverityHigh,
	}, "ws1")
	require.NoError(t, err)

	assert.False(t, res.Verdict.Converged)
	assert.Equal(t, core.NegotiationEscalated, res.Negotiation.Status)
	assert.JSONEq(t, `{"escalated":true,"reason":"blocked by: budget, timing"}`, string(res.Negotiation.Outcome))
	assert.Len(t, res.Negotiation.Conversation, 1, "only agents with a position open")

	active, err := m.Teams.GetActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMesh_ResolveConflictUnknownAgent(t *testing.T) {
	ctx := context.Background()
	m := New(func(o *Options) { o.Oracle = &testutil.StubOracle{} })
	require.NoError(t, m.Registry.InitializeBuiltInAgents(ctx))

	_, err := m.ResolveConflict(ctx, core.Conflict{Type: "x", Agents: []string{"strategist", "ghost"}}, "ws1")
	assert.ErrorIs(t, err, core.ErrUnknownAgent)
}

// unresolvableStore fails every attempt to close a negotiation.
type unresolvableStore struct {
	*memstore.Store
}

func (unresolvableStore) ResolveNegotiation(context.Context, string, core.Resolution) error {
	return testutil.ErrStoreDown
}

func TestMesh_ResolveConflictDissolvesTeamOnFailure(t *testing.T) {
	ctx := context.Background()
	m := New(func(o *Options) {
		o.Repository = unresolvableStore{memstore.New()}
		o.Oracle = &testutil.StubOracle{
			NegotiateFn: func(context.Context, core.NegotiationBrief) (core.Verdict, error) {
				return core.Verdict{Converged: false, Reasoning: "apart"}, nil
			},
		}
	})
	require.NoError(t, m.Registry.InitializeBuiltInAgents(ctx))

	res, err := m.ResolveConflict(ctx, core.Conflict{
		Type:      "budget",
		Agents:    []string{"producer", "creative"},
		Positions: map[string]any{"producer": 100, "creative": 300},
		Severity:  core.SeverityHigh,
	}, "ws1")
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	assert.Nil(t, res)

	active, err := m.Teams.GetActiveTeams(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, active)
}
