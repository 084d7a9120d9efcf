package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/testutil"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/model"
)

func negotiationBrief() core.NegotiationBrief {
	return core.NegotiationBrief{
		NegotiationID:    "n1",
		Topic:            "budget split",
		InitialPositions: map[string]any{"A": "60/40", "B": "50/50"},
		Conversation: []core.Turn{
			{Agent: "A", Message: "I can do 55/45", Position: "55/45", Timestamp: testutil.BaseTime},
			{Agent: "B", Message: "agreed", Timestamp: testutil.BaseTime},
		},
	}
}

func TestOracle_NegotiateParsesFencedJSON(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetFallback("Sure.\n```json\n{\"converged\": true, \"outcome\": {\"split\": \"55/45\"}, \"reasoning\": \"both agreed\"}\n```")
	o := New(m)

	v, err := o.Negotiate(context.Background(), negotiationBrief())
	require.NoError(t, err)
	assert.True(t, v.Converged)
	assert.JSONEq(t, `{"split":"55/45"}`, string(v.Outcome))
	assert.Equal(t, "both agreed", v.Reasoning)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, DefaultInstructions, reqs[0].Instructions)
	prompt := reqs[0].Messages[0].Text
	assert.Contains(t, prompt, "Topic: budget split")
	assert.Contains(t, prompt, `"60/40"`)
	assert.Contains(t, prompt, "- A: I can do 55/45 (position: \"55/45\")")
	assert.Contains(t, prompt, "- B: agreed\n")
}

func TestOracle_NegotiateNullOutcome(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetFallback(`{"converged": false, "outcome": null, "reasoning": "apart", "blockers": ["price"]}`)

	v, err := New(m).Negotiate(context.Background(), negotiationBrief())
	require.NoError(t, err)
	assert.False(t, v.Converged)
	assert.Nil(t, v.Outcome)
	assert.Equal(t, []string{"price"}, v.Blockers)
}

func TestOracle_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "prose only", reply: "I think they agree."},
		{name: "wrong types", reply: `{"converged": "yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.NewMockModel("mock", "mock")
			m.SetFallback(tt.reply)

			_, err := New(m).Negotiate(context.Background(), negotiationBrief())
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, OpNegotiate, pe.Op)
			assert.NotEmpty(t, pe.Snippet)
			assert.True(t, IsParseError(err))
		})
	}
}

func TestOracle_ModelErrorIsNotParseError(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	boom := errors.New("rate limited")
	m.SetError(boom)

	_, err := New(m).Reason(context.Background(), core.ReasoningBrief{CycleType: core.CycleRoutine})
	require.ErrorIs(t, err, boom)
	assert.False(t, IsParseError(err))
}

func TestOracle_NoModel(t *testing.T) {
	_, err := New(nil).Negotiate(context.Background(), negotiationBrief())
	assert.Error(t, err)
}

func TestOracle_Reason(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetFallback(`{
		"opportunities": [{"type": "playlist", "source": "fusion", "confidence": 0.8, "description": "spike"}],
		"recommendations": [{"type": "suggest_pitch", "target_system": "campaigns", "priority": "high", "reasoning": "spike"}],
		"reasoning": "streams up"
	}`)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	o := New(m, func(o *Options) { o.Metrics = met })

	mc := core.MeshContext{
		WorkspaceID: "ws1",
		BuiltAt:     testutil.BaseTime,
		Systems: map[core.System]core.CollaboratorSnapshot{
			core.SystemFusion: {System: core.SystemFusion, Status: core.SnapshotOK, Data: []byte(`{"streams":120}`)},
		},
	}
	res, err := o.Reason(context.Background(), core.ReasoningBrief{CycleType: core.CycleOpportunity, Context: mc})
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 1)
	assert.InDelta(t, 0.8, res.Opportunities[0].Confidence, 1e-9)
	assert.NotNil(t, res.Conflicts, "normalized")
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, core.PriorityHigh, res.Recommendations[0].Priority)
	assert.Equal(t, "streams up", res.Reasoning)

	prompt := m.Requests()[0].Messages[0].Text
	assert.Contains(t, prompt, "Run a reasoning cycle of type opportunity")
	assert.Contains(t, prompt, "Focus on opportunities")
	assert.Contains(t, prompt, `"streams": 120`)

	expected := `
# HELP meshos_oracle_calls_total Oracle invocations by operation and outcome.
# TYPE meshos_oracle_calls_total counter
meshos_oracle_calls_total{operation="reason",outcome="success"} 1
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "meshos_oracle_calls_total"))
}

func TestOracle_ReasonRejectsOutOfRangeValues(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetFallback(`{"opportunities": [{"confidence": 7}], "reasoning": "x"}`)

	_, err := New(m).Reason(context.Background(), core.ReasoningBrief{CycleType: core.CycleRoutine})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, OpReason, pe.Op)
}

func TestOracle_Timeout(t *testing.T) {
	o := New(blockingModel{}, func(o *Options) { o.Timeout = 20 * time.Millisecond })
	_, err := o.Negotiate(context.Background(), negotiationBrief())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	return make(chan model.Response), make(chan error)
}

func (blockingModel) Info() model.Info { return model.Info{Name: "blocking", Provider: "test"} }

func TestOracle_CustomPrompt(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.SetFallback(`{"converged": false, "reasoning": "n/a"}`)
	o := New(m, func(o *Options) { o.NegotiationPrompt = "topic={{.Topic | upper}}" })

	_, err := o.Negotiate(context.Background(), negotiationBrief())
	require.NoError(t, err)
	assert.Equal(t, "topic=BUDGET SPLIT", m.Requests()[0].Messages[0].Text)
}
