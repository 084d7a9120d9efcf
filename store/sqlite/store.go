package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/meshos/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Interface compliance (compile-time assertion)
var _ core.Repository = (*Store)(nil)

// Store is the SQLite implementation of core.Repository.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) a SQLite database file and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newStore(db)
}

// NewInMemory opens a private in-memory database. A single connection is
// kept open since every :memory: connection is its own database.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	s := &Store{DB: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Migrate applies embedded migrations not yet recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not initialized")
	}
	if _, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

// --- encoding helpers ---

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sqlLimit maps "no limit" (<= 0) to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- agents ---

func (s *Store) UpsertAgent(ctx context.Context, agent core.RegisteredAgent) (*core.RegisteredAgent, error) {
	profile, err := encodeJSON(agent.Profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO agents(name, id, type, profile, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET type = excluded.type, profile = excluded.profile, updated_at = excluded.updated_at`,
		agent.Name, agent.ID, string(agent.Type), profile, toNanos(agent.CreatedAt), toNanos(agent.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert agent %q: %w", agent.Name, err)
	}
	return s.GetAgent(ctx, agent.Name)
}

const agentColumns = `name, id, type, profile, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*core.RegisteredAgent, error) {
	var (
		a                core.RegisteredAgent
		typ, profile     string
		created, updated int64
	)
	if err := row.Scan(&a.Name, &a.ID, &typ, &profile, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(profile), &a.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	a.Type = core.Role(typ)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, name string) (*core.RegisteredAgent, error) {
	a, err := scanAgent(s.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q: %w", name, err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]core.RegisteredAgent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.RegisteredAgent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// --- long-term memory ---

func (s *Store) PutLongTerm(ctx context.Context, agent, workspaceID, key string, value json.RawMessage) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO long_term_memory(agent_name, workspace_id, key, value, updated_at) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(agent_name, workspace_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agent, workspaceID, key, string(value), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("put long-term memory: %w", err)
	}
	return nil
}

func (s *Store) GetLongTerm(ctx context.Context, agent, workspaceID, key string) (json.RawMessage, error) {
	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM long_term_memory WHERE agent_name = ? AND workspace_id = ? AND key = ?`,
		agent, workspaceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get long-term memory: %w", err)
	}
	return json.RawMessage(value), nil
}

// --- episodic memory ---

func (s *Store) AppendEpisode(ctx context.Context, ep core.Episode) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO episodic_memory(id, agent_name, workspace_id, event_type, payload, occurred_at) VALUES(?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.AgentName, ep.WorkspaceID, ep.EventType, nullRaw(ep.Payload), toNanos(ep.OccurredAt))
	if err != nil {
		return fmt.Errorf("append episode: %w", err)
	}
	return nil
}

func (s *Store) ListEpisodes(ctx context.Context, agent, workspaceID string, limit int) ([]core.Episode, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, agent_name, workspace_id, event_type, payload, occurred_at FROM episodic_memory
WHERE agent_name = ? AND workspace_id = ? ORDER BY seq DESC LIMIT ?`, agent, workspaceID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.Episode, 0)
	for rows.Next() {
		var (
			ep       core.Episode
			payload  sql.NullString
			occurred int64
		)
		if err := rows.Scan(&ep.ID, &ep.AgentName, &ep.WorkspaceID, &ep.EventType, &payload, &occurred); err != nil {
			return nil, err
		}
		ep.Payload = rawOrNil(payload)
		ep.OccurredAt = fromNanos(occurred)
		out = append(out, ep)
	}
	return out, rows.Err()
}

// --- shared memory ---

// PutShared upserts by (workspace, key); the conflict clause leaves created_at untouched.
func (s *Store) PutShared(ctx context.Context, rec core.SharedRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO shared_memory(workspace_id, key, value, source_agent, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, key) DO UPDATE SET
  value = excluded.value, source_agent = excluded.source_agent, updated_at = excluded.updated_at`,
		rec.WorkspaceID, rec.Key, string(rec.Value), rec.SourceAgent, toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put shared %q: %w", rec.Key, err)
	}
	return nil
}

// CreateShared inserts rec unless (workspace, key) exists.
func (s *Store) CreateShared(ctx context.Context, rec core.SharedRecord) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO shared_memory(workspace_id, key, value, source_agent, created_at, updated_at) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, key) DO NOTHING`,
		rec.WorkspaceID, rec.Key, string(rec.Value), rec.SourceAgent, toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("create shared %q: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create shared %q: %w", rec.Key, err)
	}
	return n == 1, nil
}

const sharedColumns = `workspace_id, key, value, source_agent, created_at, updated_at`

func scanShared(row scanner) (*core.SharedRecord, error) {
	var (
		rec              core.SharedRecord
		value            string
		created, updated int64
	)
	if err := row.Scan(&rec.WorkspaceID, &rec.Key, &value, &rec.SourceAgent, &created, &updated); err != nil {
		return nil, err
	}
	rec.Value = json.RawMessage(value)
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	return &rec, nil
}

func (s *Store) GetShared(ctx context.Context, workspaceID, key string) (*core.SharedRecord, error) {
	rec, err := scanShared(s.DB.QueryRowContext(ctx,
		`SELECT `+sharedColumns+` FROM shared_memory WHERE workspace_id = ? AND key = ?`, workspaceID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shared %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) ListShared(ctx context.Context, workspaceID string) ([]core.SharedRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+sharedColumns+` FROM shared_memory WHERE workspace_id = ? ORDER BY updated_at DESC, rowid DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list shared: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.SharedRecord, 0)
	for rows.Next() {
		rec, err := scanShared(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// --- messages ---

func (s *Store) AppendMessage(ctx context.Context, msg core.MeshMessage) error {
	var to sql.NullString
	if !msg.IsBroadcast() {
		to = sql.NullString{String: msg.To, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO mesh_messages(id, agent_from, agent_to, message_type, payload, workspace_id, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.From, to, string(msg.Type), nullRaw(msg.Payload), msg.WorkspaceID, toNanos(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]core.MeshMessage, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.MeshMessage, 0)
	for rows.Next() {
		var (
			m           core.MeshMessage
			to, payload sql.NullString
			typ         string
			created     int64
		)
		if err := rows.Scan(&m.ID, &m.From, &to, &typ, &payload, &m.WorkspaceID, &created); err != nil {
			return nil, err
		}
		m.To = to.String
		m.Type = core.MessageType(typ)
		m.Payload = rawOrNil(payload)
		m.CreatedAt = fromNanos(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

const messageColumns = `id, agent_from, agent_to, message_type, payload, workspace_id, created_at`

func (s *Store) ListInbox(ctx context.Context, agent, workspaceID string, limit int) ([]core.MeshMessage, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM mesh_messages
WHERE workspace_id = ? AND (agent_to = ? OR agent_to IS NULL) ORDER BY seq DESC LIMIT ?`,
		workspaceID, agent, sqlLimit(limit))
}

func (s *Store) ListMessages(ctx context.Context, workspaceID string, limit int) ([]core.MeshMessage, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM mesh_messages
WHERE workspace_id = ? ORDER BY seq DESC LIMIT ?`, workspaceID, sqlLimit(limit))
}

// --- teams ---

func (s *Store) CreateTeam(ctx context.Context, team core.Team) error {
	names, err := encodeJSON(team.AgentNames)
	if err != nil {
		return fmt.Errorf("encode agent names: %w", err)
	}
	state, err := encodeJSON(team.State)
	if err != nil {
		return fmt.Errorf("encode team state: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO mesh_teams(id, name, purpose, agent_names, workspace_id, active, state, created_at, dissolved_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		team.ID, team.Name, team.Purpose, names, team.WorkspaceID, team.Active, state,
		toNanos(team.CreatedAt), nullNanos(team.DissolvedAt))
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

const teamColumns = `id, name, purpose, agent_names, workspace_id, active, state, created_at, dissolved_at`

func scanTeam(row scanner) (*core.Team, error) {
	var (
		t            core.Team
		names, state string
		created      int64
		dissolved    sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Purpose, &names, &t.WorkspaceID, &t.Active, &state, &created, &dissolved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(names), &t.AgentNames); err != nil {
		return nil, fmt.Errorf("decode agent names: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &t.State); err != nil {
		return nil, fmt.Errorf("decode team state: %w", err)
	}
	t.CreatedAt = fromNanos(created)
	t.DissolvedAt = timePtr(dissolved)
	return &t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*core.Team, error) {
	t, err := scanTeam(s.DB.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM mesh_teams WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team %q: %w", id, err)
	}
	return t, nil
}

// UpdateTeamState replaces state with a single conditional UPDATE so the
// active check and the write cannot interleave with a dissolution.
func (s *Store) UpdateTeamState(ctx context.Context, id string, state map[string]any) error {
	encoded, err := encodeJSON(state)
	if err != nil {
		return fmt.Errorf("encode team state: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE mesh_teams SET state = ? WHERE id = ? AND active = 1`, encoded, id)
	if err != nil {
		return fmt.Errorf("update team state: %w", err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return err
	}
	if _, err := s.GetTeam(ctx, id); err != nil {
		return err
	}
	return core.ErrTeamDissolved
}

func (s *Store) DeactivateTeam(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE mesh_teams SET active = 0, dissolved_at = ? WHERE id = ? AND active = 1`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("deactivate team: %w", err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return err
	}
	_, err = s.GetTeam(ctx, id)
	return err
}

func (s *Store) ListActiveTeams(ctx context.Context, workspaceID string) ([]core.Team, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+teamColumns+` FROM mesh_teams
WHERE workspace_id = ? AND active = 1 ORDER BY created_at DESC, seq DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list active teams: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.Team, 0)
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// --- negotiations ---

func (s *Store) CreateNegotiation(ctx context.Context, n core.Negotiation) error {
	positions, err := encodeJSON(n.InitialPositions)
	if err != nil {
		return fmt.Errorf("encode initial positions: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO negotiations(id, team_id, workspace_id, topic, initial_positions, status, outcome, created_at, resolved_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TeamID, n.WorkspaceID, n.Topic, positions, string(n.Status), nullRaw(n.Outcome),
		toNanos(n.CreatedAt), nullNanos(n.ResolvedAt)); err != nil {
		return fmt.Errorf("create negotiation: %w", err)
	}
	for _, turn := range n.Conversation {
		if err := insertTurn(ctx, tx, n.ID, turn); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func encodePosition(turn core.Turn) (sql.NullString, error) {
	if turn.Position == nil {
		return sql.NullString{}, nil
	}
	pos, err := encodeJSON(turn.Position)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode position: %w", err)
	}
	return sql.NullString{String: pos, Valid: true}, nil
}

func insertTurn(ctx context.Context, tx *sql.Tx, negotiationID string, turn core.Turn) error {
	pos, err := encodePosition(turn)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO negotiation_turns(negotiation_id, agent, message, position, ts) VALUES(?, ?, ?, ?, ?)`,
		negotiationID, turn.Agent, turn.Message, pos, toNanos(turn.Timestamp)); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *Store) GetNegotiation(ctx context.Context, id string) (*core.Negotiation, error) {
	var (
		n                 core.Negotiation
		positions, status string
		outcome           sql.NullString
		created           int64
		resolved          sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, team_id, workspace_id, topic, initial_positions, status, outcome, created_at, resolved_at
FROM negotiations WHERE id = ?`, id).
		Scan(&n.ID, &n.TeamID, &n.WorkspaceID, &n.Topic, &positions, &status, &outcome, &created, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get negotiation %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(positions), &n.InitialPositions); err != nil {
		return nil, fmt.Errorf("decode initial positions: %w", err)
	}
	n.Status = core.NegotiationStatus(status)
	n.Outcome = rawOrNil(outcome)
	n.CreatedAt = fromNanos(created)
	n.ResolvedAt = timePtr(resolved)

	turns, err := s.listTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Conversation = turns
	return &n, nil
}

func (s *Store) listTurns(ctx context.Context, negotiationID string) ([]core.Turn, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT agent, message, position, ts FROM negotiation_turns WHERE negotiation_id = ? ORDER BY seq`, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.Turn, 0)
	for rows.Next() {
		var (
			t   core.Turn
			pos sql.NullString
			ts  int64
		)
		if err := rows.Scan(&t.Agent, &t.Message, &pos, &ts); err != nil {
			return nil, err
		}
		if pos.Valid {
			if err := json.Unmarshal([]byte(pos.String), &t.Position); err != nil {
				return nil, fmt.Errorf("decode position: %w", err)
			}
		}
		t.Timestamp = fromNanos(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) negotiationStatus(ctx context.Context, id string) (core.NegotiationStatus, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM negotiations WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get negotiation status: %w", err)
	}
	return core.NegotiationStatus(status), nil
}

// AppendTurn inserts a child row guarded by the parent's status in the same
// statement; the conversation is never rewritten.
func (s *Store) AppendTurn(ctx context.Context, negotiationID string, turn core.Turn) error {
	pos, err := encodePosition(turn)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO negotiation_turns(negotiation_id, agent, message, position, ts)
SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM negotiations WHERE id = ? AND status = ?)`,
		negotiationID, turn.Agent, turn.Message, pos, toNanos(turn.Timestamp),
		negotiationID, string(core.NegotiationInProgress))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return err
	}
	if _, err := s.negotiationStatus(ctx, negotiationID); err != nil {
		return err
	}
	return core.ErrNegotiationResolved
}

func (s *Store) ResolveNegotiation(ctx context.Context, negotiationID string, res core.Resolution) error {
	query := `UPDATE negotiations SET status = ?, outcome = ?, resolved_at = ? WHERE id = ?`
	args := []any{string(res.Status), nullRaw(res.Outcome), toNanos(res.ResolvedAt), negotiationID}
	if res.RequireOpen {
		query += ` AND status = ?`
		args = append(args, string(core.NegotiationInProgress))
	}
	result, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve negotiation: %w", err)
	}
	ok, err := affected(result)
	if err != nil || ok {
		return err
	}
	if _, err := s.negotiationStatus(ctx, negotiationID); err != nil {
		return err
	}
	return core.ErrNegotiationResolved
}

func (s *Store) ListNegotiations(ctx context.Context, teamID string) ([]core.Negotiation, error) {
	return s.negotiationsWhere(ctx, `SELECT id FROM negotiations WHERE team_id = ? ORDER BY seq`, teamID)
}

// ListWorkspaceNegotiations returns the workspace's negotiations newest first.
func (s *Store) ListWorkspaceNegotiations(ctx context.Context, workspaceID string, limit int) ([]core.Negotiation, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.negotiationsWhere(ctx, `SELECT id FROM negotiations WHERE workspace_id = ? ORDER BY seq DESC LIMIT ?`, workspaceID, limit)
}

func (s *Store) negotiationsWhere(ctx context.Context, query string, args ...any) ([]core.Negotiation, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list negotiations: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	// rows must be closed before issuing further queries on a single-connection pool
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]core.Negotiation, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNegotiation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// --- reasoning logs ---

func (s *Store) AppendReasoningLog(ctx context.Context, log core.ReasoningLog) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO reasoning_logs(id, workspace_id, cycle_type, inputs, reasoning, outputs, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.WorkspaceID, string(log.CycleType), string(log.Inputs), log.Reasoning, string(log.Outputs), toNanos(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("append reasoning log: %w", err)
	}
	return nil
}

func (s *Store) ListReasoningLogs(ctx context.Context, workspaceID string, limit int) ([]core.ReasoningLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, cycle_type, inputs, reasoning, outputs, created_at FROM reasoning_logs
WHERE workspace_id = ? ORDER BY seq DESC LIMIT ?`, workspaceID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reasoning logs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]core.ReasoningLog, 0)
	for rows.Next() {
		var (
			l               core.ReasoningLog
			cycle           string
			inputs, outputs string
			created         int64
		)
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &cycle, &inputs, &l.Reasoning, &outputs, &created); err != nil {
			return nil, err
		}
		l.CycleType = core.CycleType(cycle)
		l.Inputs = json.RawMessage(inputs)
		l.Outputs = json.RawMessage(outputs)
		l.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	return out, rows.Err()
}
