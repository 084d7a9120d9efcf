package team

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/store/memstore"
)

// DefaultMaxTeamSize bounds the number of agents in a team.
const DefaultMaxTeamSize = 5

// AgentLookup resolves agent names; *registry.Registry satisfies it.
type AgentLookup interface {
	GetAgent(ctx context.Context, name string) (*core.RegisteredAgent, error)
}

// Options configures an Engine.
type Options struct {
	// Store persists teams. Defaults to an in-memory store.
	Store core.TeamStore
	// Agents validates member names when set.
	Agents AgentLookup
	// MaxTeamSize bounds team size. Defaults to DefaultMaxTeamSize.
	MaxTeamSize int
	// Logger receives lifecycle events.
	Logger logging.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// FormRequest describes a team to form.
type FormRequest struct {
	Name        string
	Purpose     string
	AgentNames  []string
	WorkspaceID string
}

// Engine manages the team lifecycle.
type Engine struct {
	store   core.TeamStore
	agents  AgentLookup
	maxSize int
	logger  logging.Logger
	now     func() time.Time
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxTeamSize: DefaultMaxTeamSize,
		Logger:      logging.NoOpLogger{},
		Now:         time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = memstore.New()
	}
	if opts.MaxTeamSize <= 0 {
		opts.MaxTeamSize = DefaultMaxTeamSize
	}

	return &Engine{
		store:   opts.Store,
		agents:  opts.Agents,
		maxSize: opts.MaxTeamSize,
		logger:  logging.OrNoOp(opts.Logger),
		now:     opts.Now,
	}
}

// MaxTeamSize returns the configured size bound.
func (e *Engine) MaxTeamSize() int { return e.maxSize }

// FormTeam creates an active team. Duplicate names are dropped keeping the
// first occurrence. The initial state records formed_at.
func (e *Engine) FormTeam(ctx context.Context, req FormRequest) (*core.Team, error) {
	if err := core.RequireWorkspace(req.WorkspaceID); err != nil {
		return nil, err
	}

	members := dedupe(req.AgentNames)
	if len(members) == 0 {
		return nil, core.ErrEmptyTeam
	}
	if len(members) > e.maxSize {
		return nil, fmt.Errorf("%w: %d agents, limit %d", core.ErrTeamTooLarge, len(members), e.maxSize)
	}
	if e.agents != nil {
		for _, name := range members {
			a, err := e.agents.GetAgent(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("lookup agent %q: %w", name, err)
			}
			if a == nil {
				return nil, fmt.Errorf("%w: %q", core.ErrUnknownAgent, name)
			}
		}
	}

	now := e.now().UTC()
	t := core.Team{
		ID:          core.NewID(),
		Name:        req.Name,
		Purpose:     req.Purpose,
		AgentNames:  members,
		WorkspaceID: req.WorkspaceID,
		Active:      true,
		State:       map[string]any{"formed_at": now.Format(time.RFC3339Nano)},
		CreatedAt:   now,
	}
	if err := e.store.CreateTeam(ctx, t); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}

	e.logger.Info("Team formed", "team_id", t.ID, "agents", members, "workspace_id", t.WorkspaceID)
	return &t, nil
}

// DissolveTeam deactivates the team. Dissolving an already dissolved team
// keeps the original dissolved_at.
func (e *Engine) DissolveTeam(ctx context.Context, id string) error {
	if err := e.store.DeactivateTeam(ctx, id, e.now().UTC()); err != nil {
		return fmt.Errorf("dissolve team %s: %w", id, err)
	}
	e.logger.Info("Team dissolved", "team_id", id)
	return nil
}

// UpdateTeamState replaces the team's state. Dissolved teams are refused
// with core.ErrTeamDissolved.
func (e *Engine) UpdateTeamState(ctx context.Context, id string, state map[string]any) error {
	if state == nil {
		state = map[string]any{}
	}
	if err := e.store.UpdateTeamState(ctx, id, state); err != nil {
		return fmt.Errorf("update team %s: %w", id, err)
	}
	return nil
}

// GetActiveTeams returns the workspace's active teams, newest first.
func (e *Engine) GetActiveTeams(ctx context.Context, workspaceID string) ([]core.Team, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	teams, err := e.store.ListActiveTeams(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list active teams: %w", err)
	}
	return teams, nil
}

// GetTeam returns the team regardless of status, or nil when missing.
func (e *Engine) GetTeam(ctx context.Context, id string) (*core.Team, error) {
	t, err := e.store.GetTeam(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
