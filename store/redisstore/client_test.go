package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/testutil"
)

// setupTestStore creates a store connected to a fresh miniredis instance
func setupTestStore(t *testing.T, instance string) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store, err := New(&redis.Options{Addr: mr.Addr()}, instance)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestStore_RepositoryContract(t *testing.T) {
	testutil.RunRepositoryContract(t, func(t *testing.T) core.Repository {
		store, _ := setupTestStore(t, "contract")
		return store
	})
}

func TestNew(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := New(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("pings", func(t *testing.T) {
		store, _ := setupTestStore(t, "ping")
		assert.NoError(t, store.Ping(context.Background()))
	})
}

func TestStore_KeysAreNamespaced(t *testing.T) {
	store, mr := setupTestStore(t, "alpha")
	ctx := context.Background()

	require.NoError(t, store.PutShared(ctx, core.SharedRecord{
		Key: "recommendation:campaigns:1", WorkspaceID: "ws1", Value: json.RawMessage(`{}`),
		CreatedAt: testutil.BaseTime, UpdatedAt: testutil.BaseTime,
	}))
	assert.True(t, mr.Exists(SharedKey("alpha", "ws1")))
	assert.True(t, mr.Exists(SharedIndexKey("alpha", "ws1")))

	other, err := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "beta")
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })

	_, err = other.GetShared(ctx, "ws1", "recommendation:campaigns:1")
	assert.ErrorIs(t, err, core.ErrNotFound, "instances do not see each other's records")
}

func TestStore_TurnsUseAppendOnlyList(t *testing.T) {
	store, mr := setupTestStore(t, "turns")
	ctx := context.Background()

	require.NoError(t, store.CreateNegotiation(ctx, core.Negotiation{
		ID: "n1", TeamID: "t1", WorkspaceID: "ws1", Topic: "t", Status: core.NegotiationInProgress,
		InitialPositions: map[string]any{}, CreatedAt: testutil.BaseTime,
	}))
	require.NoError(t, store.AppendTurn(ctx, "n1", core.Turn{Agent: "a", Message: "m", Timestamp: testutil.BaseTime}))

	items, err := mr.List(TurnsKey("turns", "n1"))
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_SubscribeMessages(t *testing.T) {
	store, _ := setupTestStore(t, "events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, closeSub, err := store.SubscribeMessages(ctx, "ws1")
	require.NoError(t, err)
	defer closeSub()

	msg := core.MeshMessage{
		ID: "m1", From: "analyst", Type: core.MessageInsight, WorkspaceID: "ws1",
		Payload: json.RawMessage(`{"finding":"spike"}`), CreatedAt: testutil.BaseTime,
	}
	require.NoError(t, store.AppendMessage(ctx, msg))

	select {
	case got := <-events:
		assert.Equal(t, "m1", got.ID)
		assert.Equal(t, core.MessageInsight, got.Type)
		assert.JSONEq(t, `{"finding":"spike"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}
