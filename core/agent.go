package core

import (
	"context"
	"time"
)

// Role is the declared function of an agent inside the mesh.
type Role string

const (
	RoleStrategist Role = "strategist"
	RoleCoach      Role = "coach"
	RoleAnalyst    Role = "analyst"
	RoleExplorer   Role = "explorer"
	RoleCreative   Role = "creative"
	RoleProducer   Role = "producer"
	RoleGuardian   Role = "guardian"
)

// Roles lists the closed set of agent roles.
var Roles = []Role{RoleStrategist, RoleCoach, RoleAnalyst, RoleExplorer, RoleCreative, RoleProducer, RoleGuardian}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// AllAgents is the PairsWellWith sentinel meaning "any agent not avoided".
const AllAgents = "all_agents"

// Collaboration captures who an agent prefers or refuses to work with.
type Collaboration struct {
	PairsWellWith []string `json:"pairs_well_with"`
	Avoids        []string `json:"avoids"`
}

// PairsWithAll reports whether PairsWellWith contains the AllAgents sentinel.
func (c Collaboration) PairsWithAll() bool {
	for _, n := range c.PairsWellWith {
		if n == AllAgents {
			return true
		}
	}
	return false
}

// AgentProfile is the static descriptor of an agent.
type AgentProfile struct {
	Name          string        `json:"name"`
	Role          Role          `json:"role"`
	Description   string        `json:"description,omitempty"`
	Capabilities  []string      `json:"capabilities"`
	Collaboration Collaboration `json:"collaboration_preferences"`
}

// HasCapability reports whether the profile declares the capability tag.
func (p AgentProfile) HasCapability(tag string) bool {
	for _, c := range p.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (p AgentProfile) Clone() AgentProfile {
	cp := p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	cp.Collaboration.PairsWellWith = append([]string(nil), p.Collaboration.PairsWellWith...)
	cp.Collaboration.Avoids = append([]string(nil), p.Collaboration.Avoids...)
	return cp
}

// RegisteredAgent is an AgentProfile plus registry metadata.
type RegisteredAgent struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      Role         `json:"type"`
	Profile   AgentProfile `json:"profile"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// AgentStore persists the global agent catalog. Names are unique; Upsert
// replaces the stored profile entirely and keeps the original ID/CreatedAt.
type AgentStore interface {
	UpsertAgent(ctx context.Context, agent RegisteredAgent) (*RegisteredAgent, error)
	GetAgent(ctx context.Context, name string) (*RegisteredAgent, error)
	ListAgents(ctx context.Context) ([]RegisteredAgent, error)
}
