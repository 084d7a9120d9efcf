package router

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
	"github.com/hupe1980/meshos/memory"
)

// frozen returns a clock that never advances, exercising key uniqueness.
func frozen() func() time.Time {
	return func() time.Time { return testutil.BaseTime }
}

func newTestRouter(optFns ...func(o *Options)) (*Router, *memory.Store) {
	mem := memory.New()
	fns := append([]func(o *Options){func(o *Options) {
		o.Memory = mem
		o.Now = frozen()
	}}, optFns...)
	return New(fns...), mem
}

func TestRouter_RouteActionRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRouter()

	action := testutil.NewAction("suggest_pitch").
		Priority(core.PriorityHigh).
		Payload(core.CampaignPayload{CampaignID: "c1", Reasoning: "playlist add in Leeds"}).
		Source("strategist").
		Build()

	rec, res, err := r.RouteAction(ctx, action, "ws1")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, RecommendationKey(core.TargetCampaigns, testutil.BaseTime.UnixMilli()), rec.Key)

	raw, err := mem.ReadShared(ctx, rec.Key, "ws1")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "strategist", stored["source_agent"])
	assert.Equal(t, "high", stored["priority"])
	assert.Equal(t, map[string]any{"campaign_id": "c1", "reasoning": "playlist add in Leeds"}, stored["payload"])
	assert.Contains(t, stored, "routed_at")

	var back core.RoutedRecommendation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, action, back.Action)

	shared, err := mem.GetSharedRecord(ctx, rec.Key, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "strategist", shared.SourceAgent)
}

func TestRouter_RejectedActionsAreNotStored(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRouter()

	for _, a := range []core.Action{
		testutil.NewAction("suggest_pitch").Binding().Build(),
		testutil.NewAction("send_email_batch").Build(),
		testutil.NewAction("delete_contact").Build(),
		testutil.NewAction("start_automation").Build(),
	} {
		rec, res, err := r.RouteAction(ctx, a, "ws1")
		var vErr *guardrail.ViolationError
		require.True(t, errors.As(err, &vErr), a.Type)
		assert.Nil(t, rec)
		assert.False(t, res.Passed)
	}

	all, err := mem.GetAllShared(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRouter_KeysAreUniqueUnderFrozenClock(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter()

	var (
		mu   sync.Mutex
		keys = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := r.RouteAction(ctx, testutil.NewAction("suggest").Build(), "ws1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			keys[rec.Key] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, keys, 20)
}

func TestRouter_PendingRecommendations(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter()

	route := func(target core.TargetSystem) string {
		rec, _, err := r.RouteAction(ctx, testutil.NewAction("suggest").Target(target).Build(), "ws1")
		require.NoError(t, err)
		return rec.Key
	}

	accepted := route(core.TargetCampaigns)
	rejected := route(core.TargetCampaigns)
	deferred := route(core.TargetCampaigns)
	open := route(core.TargetCampaigns)
	route(core.TargetCoaching)

	_, err := r.AcknowledgeRecommendation(ctx, accepted, "ws1", core.AckAccepted)
	require.NoError(t, err)
	_, err = r.AcknowledgeRecommendation(ctx, rejected, "ws1", core.AckRejected)
	require.NoError(t, err)
	ack, err := r.AcknowledgeRecommendation(ctx, deferred, "ws1", core.AckDeferred)
	require.NoError(t, err)
	assert.Equal(t, core.TargetCampaigns, ack.TargetSystem)

	pending, err := r.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, deferred, pending[0].Key, "oldest first")
	assert.Equal(t, open, pending[1].Key)

	// a later acceptance replaces the deferral
	_, err = r.AcknowledgeRecommendation(ctx, deferred, "ws1", core.AckAccepted)
	require.NoError(t, err)
	pending, err = r.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open, pending[0].Key)

	other, err := r.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRouter_AcknowledgeValidation(t *testing.T) {
	ctx := context.Background()
	r, mem := newTestRouter()

	rec, _, err := r.RouteAction(ctx, testutil.NewAction("suggest").Build(), "ws1")
	require.NoError(t, err)

	_, err = r.AcknowledgeRecommendation(ctx, rec.Key, "ws1", "maybe")
	assert.ErrorIs(t, err, core.ErrInvalidAcknowledgement)

	_, err = r.AcknowledgeRecommendation(ctx, "notes:1", "ws1", core.AckAccepted)
	assert.ErrorIs(t, err, core.ErrInvalidAcknowledgement)

	_, err = r.AcknowledgeRecommendation(ctx, rec.Key+AckSuffix, "ws1", core.AckAccepted)
	assert.ErrorIs(t, err, core.ErrInvalidAcknowledgement)

	_, err = r.AcknowledgeRecommendation(ctx, RecommendationKey(core.TargetCampaigns, 1), "ws1", core.AckAccepted)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = r.AcknowledgeRecommendation(ctx, rec.Key, "ws2", core.AckAccepted)
	assert.ErrorIs(t, err, core.ErrNotFound, "acknowledgements are workspace scoped")

	_, err = r.AcknowledgeRecommendation(ctx, rec.Key, "ws1", core.AckRejected)
	require.NoError(t, err)
	raw, err := mem.ReadShared(ctx, rec.Key+AckSuffix, "ws1")
	require.NoError(t, err)
	var ack core.Acknowledgement
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, core.AckRejected, ack.Response)
	assert.Equal(t, rec.Key, ack.Key)
}

func TestRouter_SharedStoreKeysNeverCollide(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	first := New(func(o *Options) {
		o.Memory = mem
		o.Now = frozen()
	})
	second := New(func(o *Options) {
		o.Memory = mem
		o.Now = frozen()
	})

	a, _, err := first.RouteAction(ctx, testutil.NewAction("suggest_pitch").Source("strategist").Build(), "ws1")
	require.NoError(t, err)
	b, _, err := second.RouteAction(ctx, testutil.NewAction("suggest_pitch").Source("coach").Build(), "ws1")
	require.NoError(t, err)
	c, _, err := first.RouteAction(ctx, testutil.NewAction("suggest_pitch").Source("analyst").Build(), "ws1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
	assert.NotEqual(t, b.Key, c.Key)

	pending, err := first.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "strategist", pending[0].Action.SourceAgent)
	assert.Equal(t, "coach", pending[1].Action.SourceAgent)
	assert.Equal(t, "analyst", pending[2].Action.SourceAgent)
}

type takenMemory struct{ *memory.Store }

func (takenMemory) CreateShared(context.Context, string, any, string, string) (bool, error) {
	return false, nil
}

func TestRouter_GivesUpWhenEveryKeyIsTaken(t *testing.T) {
	r := New(func(o *Options) { o.Memory = takenMemory{memory.New()} })

	_, _, err := r.RouteAction(context.Background(), testutil.NewAction("suggest").Build(), "ws1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free recommendation key")
}

func TestRouter_RequiresWorkspaceAndTarget(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter()

	_, _, err := r.RouteAction(ctx, testutil.NewAction("suggest").Build(), "")
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)

	_, _, err = r.RouteAction(ctx, testutil.NewAction("suggest").Target("").Build(), "ws1")
	assert.ErrorIs(t, err, core.ErrMissingTarget)

	_, err = r.GetPendingRecommendations(ctx, core.TargetCampaigns, "")
	assert.ErrorIs(t, err, core.ErrMissingWorkspace)
}

func TestRouter_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(func(o *memory.Options) { o.Backend = testutil.FailingRepository{} })
	r := New(func(o *Options) { o.Memory = mem })

	_, _, err := r.RouteAction(ctx, testutil.NewAction("suggest").Build(), "ws1")
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
	_, err = r.GetPendingRecommendations(ctx, core.TargetCampaigns, "ws1")
	assert.ErrorIs(t, err, testutil.ErrStoreDown)
}

func TestParseKey(t *testing.T) {
	ts, ms, ok := ParseKey("recommendation:campaigns:1767258000000")
	require.True(t, ok)
	assert.Equal(t, core.TargetCampaigns, ts)
	assert.Equal(t, int64(1767258000000), ms)

	for _, bad := range []string{"recommendation:campaigns:1:ack", "recommendation:x", "other:campaigns:1", "recommendation::1", "recommendation:c:abc"} {
		_, _, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}
