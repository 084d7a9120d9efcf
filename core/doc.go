// Package core provides the foundational domain types, interfaces and
// sentinel errors shared by every mesh component. It defines:
//
//   - Agents (profiles, roles, collaboration preferences)
//   - Memory records (long-term, episodic, shared)
//   - Messages exchanged on the bus
//   - Teams and negotiations
//   - Actions, recommendations and acknowledgements
//   - Reasoning cycle artifacts and the collaborator context snapshot
//   - Repository interfaces for pluggable persistence backends
//   - The ReasoningOracle interface behind which LLM calls are hidden
//
// The package intentionally keeps implementation concerns (persistence,
// fan-out, prompting) out of scope, exposing small interfaces so custom
// backends and oracles can be plugged in at wiring time.
package core
