package testutil

import (
	"github.com/hupe1980/meshos/core"
)

// ProfileBuilder provides a fluent helper for constructing agent profiles in tests.
// Example:
//
//	p := NewProfile("strategist", core.RoleStrategist).PairsWith(core.AllAgents).Avoids("producer").Build()
type ProfileBuilder struct {
	p core.AgentProfile
}

// NewProfile creates a builder with empty capabilities and preferences.
func NewProfile(name string, role core.Role) *ProfileBuilder {
	return &ProfileBuilder{p: core.AgentProfile{
		Name:         name,
		Role:         role,
		Capabilities: []string{},
		Collaboration: core.Collaboration{
			PairsWellWith: []string{},
			Avoids:        []string{},
		},
	}}
}

// Description sets the human readable description (chainable).
func (b *ProfileBuilder) Description(d string) *ProfileBuilder { b.p.Description = d; return b }

// Capabilities appends capability tags (chainable).
func (b *ProfileBuilder) Capabilities(tags ...string) *ProfileBuilder {
	b.p.Capabilities = append(b.p.Capabilities, tags...)
	return b
}

// PairsWith appends preferred partners (chainable).
func (b *ProfileBuilder) PairsWith(names ...string) *ProfileBuilder {
	b.p.Collaboration.PairsWellWith = append(b.p.Collaboration.PairsWellWith, names...)
	return b
}

// Avoids appends agents this profile refuses to work with (chainable).
func (b *ProfileBuilder) Avoids(names ...string) *ProfileBuilder {
	b.p.Collaboration.Avoids = append(b.p.Collaboration.Avoids, names...)
	return b
}

// Build returns a copy of the profile.
func (b *ProfileBuilder) Build() core.AgentProfile { return b.p.Clone() }

// ActionBuilder provides a fluent helper for constructing actions in tests.
// Defaults: campaigns target, low priority, advisory, source "strategist".
type ActionBuilder struct {
	a core.Action
}

// NewAction creates a builder for an action of the given type.
func NewAction(actionType string) *ActionBuilder {
	return &ActionBuilder{a: core.Action{
		Type:         actionType,
		TargetSystem: core.TargetCampaigns,
		Priority:     core.PriorityLow,
		SourceAgent:  "strategist",
	}}
}

// Target sets the target system (chainable).
func (b *ActionBuilder) Target(ts core.TargetSystem) *ActionBuilder { b.a.TargetSystem = ts; return b }

// Priority sets the priority (chainable).
func (b *ActionBuilder) Priority(p core.Priority) *ActionBuilder { b.a.Priority = p; return b }

// Binding marks the action as binding (chainable).
func (b *ActionBuilder) Binding() *ActionBuilder { b.a.Binding = true; return b }

// Payload sets the payload variant (chainable).
func (b *ActionBuilder) Payload(p core.ActionPayload) *ActionBuilder { b.a.Payload = p; return b }

// Reasoning sets a payload carrying reasoning text for the current target (chainable).
func (b *ActionBuilder) Reasoning(r string) *ActionBuilder {
	b.a.Payload = core.NewPayload(b.a.TargetSystem, "", r)
	return b
}

// Source sets the emitting agent (chainable).
func (b *ActionBuilder) Source(agent string) *ActionBuilder { b.a.SourceAgent = agent; return b }

// Build returns the action.
func (b *ActionBuilder) Build() core.Action { return b.a }
