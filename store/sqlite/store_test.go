package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_RepositoryContract(t *testing.T) {
	testutil.RunRepositoryContract(t, func(t *testing.T) core.Repository { return newTestStore(t) })
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh", "mesh.db")
	st, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.PutLongTerm(ctx, "coach", "ws1", "k", []byte(`"v"`)))
	require.NoError(t, st.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetLongTerm(ctx, "coach", "ws1", "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got))
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Migrate(ctx))

	var n int
	require.NoError(t, st.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAppendTurn_WritesChildRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateNegotiation(ctx, core.Negotiation{
		ID: "n1", TeamID: "t1", WorkspaceID: "ws1", Topic: "t",
		InitialPositions: map[string]any{}, Status: core.NegotiationInProgress, CreatedAt: testutil.BaseTime,
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendTurn(ctx, "n1", core.Turn{Agent: "a", Message: "m", Timestamp: testutil.BaseTime}))
	}

	var n int
	require.NoError(t, st.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM negotiation_turns WHERE negotiation_id = ?`, "n1").Scan(&n))
	assert.Equal(t, 3, n)
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = parseMigrationVersion("init.sql")
	assert.Error(t, err)
}
