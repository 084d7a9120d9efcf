// Package registry implements the agent catalog.
//
// The catalog has two tiers. The global tier is persisted through a
// core.AgentStore and is shared by every workspace; it is seeded with the
// built-in agents at bootstrap and grows through RegisterAgent. The
// workspace tier is an optional in-process override that can disable global
// agents or add workspace-only profiles without touching the global catalog.
package registry
