// Package memory implements the four mesh memory kinds on top of the
// repository interfaces in core:
//
//  1. Long-term: private per-agent key/value, last write wins
//  2. Episodic: append-only per-agent event log, newest first
//  3. Shared: workspace-wide key/value with source attribution
//  4. Working: process-local per-agent scratch state, never persisted
//
// Shared memory is the only mesh output visible to collaborator systems;
// the router publishes recommendations there.
package memory
