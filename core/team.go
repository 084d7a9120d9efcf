package core

import (
	"context"
	"time"
)

// Team is an ephemeral group of agents formed for a purpose. Dissolution is
// soft and one-way: Active flips to false and DissolvedAt is stamped.
type Team struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Purpose     string         `json:"purpose"`
	AgentNames  []string       `json:"agent_names"`
	WorkspaceID string         `json:"workspace_id"`
	Active      bool           `json:"active"`
	State       map[string]any `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	DissolvedAt *time.Time     `json:"dissolved_at,omitempty"`
}

// HasMember reports whether agent belongs to the team.
func (t Team) HasMember(agent string) bool {
	for _, n := range t.AgentNames {
		if n == agent {
			return true
		}
	}
	return false
}

// TeamStore persists teams.
//
// UpdateTeamState must refuse inactive teams with ErrTeamDissolved, checked
// atomically with the write. DeactivateTeam is a no-op for teams that are
// already inactive. ListActiveTeams returns newest-created first.
type TeamStore interface {
	CreateTeam(ctx context.Context, team Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	UpdateTeamState(ctx context.Context, id string, state map[string]any) error
	DeactivateTeam(ctx context.Context, id string, at time.Time) error
	ListActiveTeams(ctx context.Context, workspaceID string) ([]Team, error)
}
