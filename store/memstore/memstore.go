package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/meshos/core"
)

// Interface compliance (compile-time assertion)
var _ core.Repository = (*Store)(nil)

type longTermKey struct{ agent, workspace, key string }

type sharedEntry struct {
	rec core.SharedRecord
	seq uint64
}

// Store is an in-memory core.Repository.
type Store struct {
	mu sync.RWMutex

	seq uint64

	agents        map[string]core.RegisteredAgent
	longTerm      map[longTermKey]json.RawMessage
	episodes      map[string][]core.Episode // agent|workspace -> append order
	shared        map[string]map[string]*sharedEntry
	messages      map[string][]core.MeshMessage // workspace -> append order
	teams         map[string]*core.Team
	teamOrder     []string
	negotiations  map[string]*core.Negotiation
	negOrder      []string
	reasoningLogs map[string][]core.ReasoningLog
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		agents:        make(map[string]core.RegisteredAgent),
		longTerm:      make(map[longTermKey]json.RawMessage),
		episodes:      make(map[string][]core.Episode),
		shared:        make(map[string]map[string]*sharedEntry),
		messages:      make(map[string][]core.MeshMessage),
		teams:         make(map[string]*core.Team),
		negotiations:  make(map[string]*core.Negotiation),
		reasoningLogs: make(map[string][]core.ReasoningLog),
	}
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func limitN(n, limit int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}

// --- agents ---

// UpsertAgent inserts or fully replaces the agent by name, keeping the
// original ID and CreatedAt.
func (s *Store) UpsertAgent(_ context.Context, agent core.RegisteredAgent) (*core.RegisteredAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agents[agent.Name]; ok {
		agent.ID = existing.ID
		agent.CreatedAt = existing.CreatedAt
	}
	agent.Profile = agent.Profile.Clone()
	s.agents[agent.Name] = agent
	out := agent
	out.Profile = agent.Profile.Clone()
	return &out, nil
}

// GetAgent returns core.ErrNotFound when the name is unknown.
func (s *Store) GetAgent(_ context.Context, name string) (*core.RegisteredAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	a.Profile = a.Profile.Clone()
	return &a, nil
}

// ListAgents returns every agent ordered by name.
func (s *Store) ListAgents(_ context.Context) ([]core.RegisteredAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RegisteredAgent, 0, len(s.agents))
	for _, a := range s.agents {
		a.Profile = a.Profile.Clone()
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- long-term memory ---

func (s *Store) PutLongTerm(_ context.Context, agent, workspaceID, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.longTerm[longTermKey{agent, workspaceID, key}] = cloneRaw(value)
	return nil
}

func (s *Store) GetLongTerm(_ context.Context, agent, workspaceID, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.longTerm[longTermKey{agent, workspaceID, key}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneRaw(v), nil
}

// --- episodic memory ---

func episodeKey(agent, workspaceID string) string { return agent + "|" + workspaceID }

func (s *Store) AppendEpisode(_ context.Context, ep core.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep.Payload = cloneRaw(ep.Payload)
	k := episodeKey(ep.AgentName, ep.WorkspaceID)
	s.episodes[k] = append(s.episodes[k], ep)
	return nil
}

// ListEpisodes returns the newest episodes first.
func (s *Store) ListEpisodes(_ context.Context, agent, workspaceID string, limit int) ([]core.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.episodes[episodeKey(agent, workspaceID)]
	n := limitN(len(all), limit)
	out := make([]core.Episode, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		ep := all[i]
		ep.Payload = cloneRaw(ep.Payload)
		out = append(out, ep)
	}
	return out, nil
}

// --- shared memory ---

// PutShared upserts by (workspace, key) preserving CreatedAt.
func (s *Store) PutShared(_ context.Context, rec core.SharedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.shared[rec.WorkspaceID]
	if ws == nil {
		ws = make(map[string]*sharedEntry)
		s.shared[rec.WorkspaceID] = ws
	}
	rec.Value = cloneRaw(rec.Value)
	if existing, ok := ws[rec.Key]; ok {
		rec.CreatedAt = existing.rec.CreatedAt
	}
	ws[rec.Key] = &sharedEntry{rec: rec, seq: s.nextSeq()}
	return nil
}

// CreateShared stores rec unless the key already exists.
func (s *Store) CreateShared(_ context.Context, rec core.SharedRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.shared[rec.WorkspaceID]
	if ws == nil {
		ws = make(map[string]*sharedEntry)
		s.shared[rec.WorkspaceID] = ws
	}
	if _, ok := ws[rec.Key]; ok {
		return false, nil
	}
	rec.Value = cloneRaw(rec.Value)
	ws[rec.Key] = &sharedEntry{rec: rec, seq: s.nextSeq()}
	return true, nil
}

func (s *Store) GetShared(_ context.Context, workspaceID, key string) (*core.SharedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.shared[workspaceID][key]
	if !ok {
		return nil, core.ErrNotFound
	}
	rec := e.rec
	rec.Value = cloneRaw(rec.Value)
	return &rec, nil
}

// ListShared returns records most recently updated first.
func (s *Store) ListShared(_ context.Context, workspaceID string) ([]core.SharedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*sharedEntry, 0, len(s.shared[workspaceID]))
	for _, e := range s.shared[workspaceID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.UpdatedAt.Equal(b.rec.UpdatedAt) {
			return a.rec.UpdatedAt.After(b.rec.UpdatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]core.SharedRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
		out[i].Value = cloneRaw(e.rec.Value)
	}
	return out, nil
}

// --- messages ---

func (s *Store) AppendMessage(_ context.Context, msg core.MeshMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Payload = cloneRaw(msg.Payload)
	s.messages[msg.WorkspaceID] = append(s.messages[msg.WorkspaceID], msg)
	return nil
}

// ListInbox returns messages addressed to agent or broadcast, newest first.
func (s *Store) ListInbox(_ context.Context, agent, workspaceID string, limit int) ([]core.MeshMessage, error) {
	return s.listMessages(workspaceID, limit, func(m core.MeshMessage) bool {
		return m.To == agent || m.IsBroadcast()
	}), nil
}

// ListMessages returns all workspace messages, newest first.
func (s *Store) ListMessages(_ context.Context, workspaceID string, limit int) ([]core.MeshMessage, error) {
	return s.listMessages(workspaceID, limit, func(core.MeshMessage) bool { return true }), nil
}

func (s *Store) listMessages(workspaceID string, limit int, keep func(core.MeshMessage) bool) []core.MeshMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[workspaceID]
	out := make([]core.MeshMessage, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(all[i]) {
			m := all[i]
			m.Payload = cloneRaw(m.Payload)
			out = append(out, m)
		}
	}
	return out
}

// --- teams ---

func copyTeam(t *core.Team) core.Team {
	out := *t
	out.AgentNames = append([]string(nil), t.AgentNames...)
	out.State = cloneMap(t.State)
	if t.DissolvedAt != nil {
		at := *t.DissolvedAt
		out.DissolvedAt = &at
	}
	return out
}

func (s *Store) CreateTeam(_ context.Context, team core.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := copyTeam(&team)
	s.teams[team.ID] = &t
	s.teamOrder = append(s.teamOrder, team.ID)
	return nil
}

func (s *Store) GetTeam(_ context.Context, id string) (*core.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := copyTeam(t)
	return &out, nil
}

// UpdateTeamState replaces the state of an active team.
func (s *Store) UpdateTeamState(_ context.Context, id string, state map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return core.ErrNotFound
	}
	if !t.Active {
		return core.ErrTeamDissolved
	}
	t.State = cloneMap(state)
	return nil
}

// DeactivateTeam is a no-op for teams already inactive.
func (s *Store) DeactivateTeam(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[id]
	if !ok {
		return core.ErrNotFound
	}
	if !t.Active {
		return nil
	}
	t.Active = false
	t.DissolvedAt = &at
	return nil
}

// ListActiveTeams returns the workspace's active teams, newest first.
func (s *Store) ListActiveTeams(_ context.Context, workspaceID string) ([]core.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Team, 0)
	for i := len(s.teamOrder) - 1; i >= 0; i-- {
		t := s.teams[s.teamOrder[i]]
		if t.Active && t.WorkspaceID == workspaceID {
			out = append(out, copyTeam(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- negotiations ---

func copyNegotiation(n *core.Negotiation) core.Negotiation {
	out := *n
	out.InitialPositions = cloneMap(n.InitialPositions)
	out.Conversation = append([]core.Turn{}, n.Conversation...)
	out.Outcome = cloneRaw(n.Outcome)
	if n.ResolvedAt != nil {
		at := *n.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}

func (s *Store) CreateNegotiation(_ context.Context, n core.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyNegotiation(&n)
	s.negotiations[n.ID] = &cp
	s.negOrder = append(s.negOrder, n.ID)
	return nil
}

func (s *Store) GetNegotiation(_ context.Context, id string) (*core.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.negotiations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := copyNegotiation(n)
	return &out, nil
}

// AppendTurn appends under the store lock; concurrent appends never lose turns.
func (s *Store) AppendTurn(_ context.Context, negotiationID string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.negotiations[negotiationID]
	if !ok {
		return core.ErrNotFound
	}
	if n.Status.Terminal() {
		return core.ErrNegotiationResolved
	}
	n.Conversation = append(n.Conversation, turn)
	return nil
}

func (s *Store) ResolveNegotiation(_ context.Context, negotiationID string, res core.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.negotiations[negotiationID]
	if !ok {
		return core.ErrNotFound
	}
	if res.RequireOpen && n.Status.Terminal() {
		return core.ErrNegotiationResolved
	}
	n.Status = res.Status
	n.Outcome = cloneRaw(res.Outcome)
	at := res.ResolvedAt
	n.ResolvedAt = &at
	return nil
}

// ListNegotiations returns the team's negotiations oldest first.
func (s *Store) ListNegotiations(_ context.Context, teamID string) ([]core.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Negotiation, 0)
	for _, id := range s.negOrder {
		if n := s.negotiations[id]; n.TeamID == teamID {
			out = append(out, copyNegotiation(n))
		}
	}
	return out, nil
}

// ListWorkspaceNegotiations returns the workspace's negotiations newest first.
func (s *Store) ListWorkspaceNegotiations(_ context.Context, workspaceID string, limit int) ([]core.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Negotiation, 0)
	for i := len(s.negOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if n := s.negotiations[s.negOrder[i]]; n.WorkspaceID == workspaceID {
			out = append(out, copyNegotiation(n))
		}
	}
	return out, nil
}

// --- reasoning logs ---

func (s *Store) AppendReasoningLog(_ context.Context, log core.ReasoningLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Inputs = cloneRaw(log.Inputs)
	log.Outputs = cloneRaw(log.Outputs)
	s.reasoningLogs[log.WorkspaceID] = append(s.reasoningLogs[log.WorkspaceID], log)
	return nil
}

// ListReasoningLogs returns the newest logs first.
func (s *Store) ListReasoningLogs(_ context.Context, workspaceID string, limit int) ([]core.ReasoningLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.reasoningLogs[workspaceID]
	n := limitN(len(all), limit)
	out := make([]core.ReasoningLog, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		l := all[i]
		l.Inputs = cloneRaw(l.Inputs)
		l.Outputs = cloneRaw(l.Outputs)
		out = append(out, l)
	}
	return out, nil
}
