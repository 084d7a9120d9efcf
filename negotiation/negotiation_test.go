package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/bus"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/testutil"
	"github.com/hupe1980/meshos/store/memstore"
	"github.com/hupe1980/meshos/team"
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

func newTestEngine(oracle core.ReasoningOracle, optFns ...func(o *Options)) *Engine {
	fns := append([]func(o *Options){func(o *Options) {
		o.Oracle = oracle
		o.Now = testClock()
	}}, optFns...)
	return New(fns...)
}

func TestEngine_ConvergedVerdictIsPersisted(t *testing.T) {
	ctx := context.Background()
	oracle := &testutil.StubOracle{
		NegotiateFn: func(_ context.Context, brief core.NegotiationBrief) (core.Verdict, error) {
			return core.Verdict{
				Converged: true,
				Outcome:   json.RawMessage(`{"split":"55/45"}`),
				Reasoning: "both sides moved",
			}, nil
		},
	}
	e := newTestEngine(oracle)

	n, err := e.StartNegotiation(ctx, "team-1", "budget split", map[string]any{"A": "60/40", "B": "50/50"}, "ws1")
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationInProgress, n.Status)
	assert.Empty(t, n.Conversation)
	assert.Nil(t, n.Outcome)

	_, err = e.AddNegotiationTurn(ctx, n.ID, "A", "I can go to 55/45", "55/45")
	require.NoError(t, err)
	_, err = e.AddNegotiationTurn(ctx, n.ID, "B", "55/45 works", "55/45")
	require.NoError(t, err)

	verdict, err := e.ConvergeToConsensus(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, verdict.Converged)

	stored, err := e.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, core.NegotiationConverged, stored.Status)
	require.NotNil(t, stored.ResolvedAt)

	var outcome struct {
		Split string `json:"split"`
	}
	require.NoError(t, json.Unmarshal(stored.Outcome, &outcome))
	assert.Equal(t, "55/45", outcome.Split)

	briefs := oracle.NegotiationBriefs()
	require.Len(t, briefs, 1)
	assert.Equal(t, "budget split", briefs[0].Topic)
	assert.Equal(t, "60/40", briefs[0].InitialPositions["A"])
	require.Len(t, briefs[0].Conversation, 2)
	assert.Equal(t, "B", briefs[0].Conversation[1].Agent)

	_, err = e.AddNegotiationTurn(ctx, n.ID, "A", "one more thing", nil)
	assert.ErrorIs(t, err, core.ErrNegotiationResolved)

	_, err = e.ConvergeToConsensus(ctx, n.ID)
	assert.ErrorIs(t, err, core.ErrNegotiationResolved)
}

func TestEngine_NonConvergedVerdictPersistsNothing(t *testing.T) {
	ctx := context.Background()
	oracle := &testutil.StubOracle{
		NegotiateFn: func(context.Context, core.NegotiationBrief) (core.Verdict, error) {
			return core.Verdict{Converged: false, Reasoning: "still apart", Blockers: []string{"B insists on 50/50"}}, nil
		},
	}
	e := newTestEngine(oracle)

	n, err := e.StartNegotiation(ctx, "team-1", "budget split", nil, "ws1")
	require.NoError(t, err)

	verdict, err := e.ConvergeToConsensus(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, verdict.Converged)
	assert.Equal(t, []string{"B insists on 50/50"}, verdict.Blockers)

	stored, err := e.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationInProgress, stored.Status)
	assert.Nil(t, stored.Outcome)
	assert.Nil(t, stored.ResolvedAt)
}

func TestEngine_OracleFailuresDegrade(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		oracle core.ReasoningOracle
		reason string
	}{
		{
			name: "oracle error",
			oracle: &testutil.StubOracle{NegotiateFn: func(context.Context, core.NegotiationBrief) (core.Verdict, error) {
				return core.Verdict{}, errors.New("unparseable response")
			}},
			reason: "unparseable response",
		},
		{
			name: "converged without outcome",
			oracle: &testutil.StubOracle{NegotiateFn: func(context.Context, core.NegotiationBrief) (core.Verdict, error) {
				return core.Verdict{Converged: true, Outcome: json.RawMessage("null")}, nil
			}},
			reason: "without an outcome",
		},
		{
			name:   "no oracle",
			oracle: nil,
			reason: "no reasoning oracle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.oracle)
			n, err := e.StartNegotiation(ctx, "team-1", "topic", nil, "ws1")
			require.NoError(t, err)

			verdict, err := e.ConvergeToConsensus(ctx, n.ID)
			require.NoError(t, err)
			assert.False(t, verdict.Converged)
			assert.Contains(t, verdict.Reasoning, tt.reason)

			stored, err := e.GetNegotiation(ctx, n.ID)
			require.NoError(t, err)
			assert.Equal(t, core.NegotiationInProgress, stored.Status)
		})
	}
}

func TestEngine_EscalationIsTerminalAndLastCallWins(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(&testutil.StubOracle{})

	n, err := e.StartNegotiation(ctx, "team-1", "topic", nil, "ws1")
	require.NoError(t, err)

	require.NoError(t, e.EscalateNegotiation(ctx, n.ID, "deadlock"))
	require.NoError(t, e.EscalateNegotiation(ctx, n.ID, "still deadlocked"))

	stored, err := e.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NegotiationEscalated, stored.Status)
	require.NotNil(t, stored.ResolvedAt)
	assert.JSONEq(t, `{"escalated":true,"reason":"still deadlocked"}`, string(stored.Outcome))

	_, err = e.AddNegotiationTurn(ctx, n.ID, "A", "late", nil)
	assert.ErrorIs(t, err, core.ErrNegotiationResolved)

	assert.ErrorIs(t, e.EscalateNegotiation(ctx, "missing", "x"), core.ErrNotFound)
}

func TestEngine_ConcurrentTurnsAreNotLost(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(nil)

	n, err := e.StartNegotiation(ctx, "team-1", "topic", nil, "ws1")
	require.NoError(t, err)

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddNegotiationTurn(ctx, n.ID, fmt.Sprintf("agent-%d", i), "offer", i)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := e.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Conversation, writers)
}

func TestEngine_TurnsArePublishedOnTheBus(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	b := bus.New(func(o *bus.Options) { o.Store = store })
	e := newTestEngine(nil, func(o *Options) {
		o.Store = store
		o.Publisher = b
	})

	var got []TurnEvent
	b.Subscribe("B", []core.MessageType{core.MessageNegotiationTurn}, func(_ context.Context, msg core.MeshMessage) error {
		var ev TurnEvent
		if err := msg.DecodePayload(&ev); err != nil {
			return err
		}
		got = append(got, ev)
		return nil
	})

	n, err := e.StartNegotiation(ctx, "team-1", "topic", nil, "ws1")
	require.NoError(t, err)
	_, err = e.AddNegotiationTurn(ctx, n.ID, "A", "offer 55/45", "55/45")
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, n.ID, got[0].NegotiationID)
	assert.Equal(t, "team-1", got[0].TeamID)
	assert.Equal(t, "A", got[0].Agent)

	history, err := b.GetAllMessages(ctx, "ws1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.MessageNegotiationTurn, history[0].Type)
}

func TestEngine_StartValidatesTeam(t *testing.T) {
	ctx := context.Background()
	teams := team.New()
	e := newTestEngine(nil, func(o *Options) { o.Teams = teams })

	_, err := e.StartNegotiation(ctx, "missing", "topic", nil, "ws1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	tm, err := teams.FormTeam(ctx, team.FormRequest{AgentNames: []string{"A", "B"}, WorkspaceID: "ws1"})
	require.NoError(t, err)
	_, err = e.StartNegotiation(ctx, tm.ID, "topic", nil, "ws1")
	require.NoError(t, err)

	require.NoError(t, teams.DissolveTeam(ctx, tm.ID))
	_, err = e.StartNegotiation(ctx, tm.ID, "topic", nil, "ws1")
	assert.ErrorIs(t, err, core.ErrTeamDissolved)

	_, err = e.StartNegotiation(ctx, tm.ID, "topic", nil, "")
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)
}

func TestEngine_ListNegotiations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(nil)

	first, err := e.StartNegotiation(ctx, "team-1", "one", nil, "ws1")
	require.NoError(t, err)
	second, err := e.StartNegotiation(ctx, "team-1", "two", nil, "ws1")
	require.NoError(t, err)
	_, err = e.StartNegotiation(ctx, "team-2", "other", nil, "ws1")
	require.NoError(t, err)

	list, err := e.ListNegotiations(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	recent, err := e.ListWorkspaceNegotiations(ctx, "ws1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other", recent[0].Topic)
	assert.Equal(t, second.ID, recent[1].ID)

	_, err = e.ListWorkspaceNegotiations(ctx, "", 0)
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)

	missing, err := e.GetNegotiation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEngine_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(&testutil.StubOracle{}, func(o *Options) { o.Store = testutil.FailingRepository{} })

	_, err := e.StartNegotiation(ctx, "team-1", "topic", nil, "ws1")
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	_, err = e.ConvergeToConsensus(ctx, "n1")
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	assert.ErrorIs(t, e.EscalateNegotiation(ctx, "n1", "x"), testutil.ErrStoreDown)
}

// mockPublisher records announcements
type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, from, to string, msgType core.MessageType, payload any, workspaceID string) (*core.MeshMessage, bus.DeliveryReport, error) {
	args := m.Called(ctx, from, to, msgType, payload, workspaceID)
	msg, _ := args.Get(0).(*core.MeshMessage)
	return msg, bus.DeliveryReport{}, args.Error(1)
}

func TestEngine_AnnouncementFailureKeepsTurn(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "A", "", core.MessageNegotiationTurn, mock.AnythingOfType("negotiation.TurnEvent"), "ws1").
		Return(nil, errors.New("bus down")).Once()

	e := newTestEngine(nil, func(o *Options) { o.Publisher = pub })
	n, err := e.StartNegotiation(ctx, "team-1", "split", nil, "ws1")
	require.NoError(t, err)

	turn, err := e.AddNegotiationTurn(ctx, n.ID, "A", "60/40", "60/40")
	require.NoError(t, err)
	assert.Equal(t, "A", turn.Agent)

	pub.AssertExpectations(t)
	event := pub.Calls[0].Arguments.Get(4).(TurnEvent)
	assert.Equal(t, n.ID, event.NegotiationID)
	assert.Equal(t, "team-1", event.TeamID)

	got, err := e.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, got.Conversation, 1)
}
