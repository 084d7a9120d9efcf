// Package reasoner runs cross-system reasoning cycles.
//
// BuildMeshContext gathers one snapshot per collaborator system
// concurrently. A failing or panicking source degrades only its own
// snapshot, and systems without a configured source get a placeholder.
// RunReasoningCycle hands the snapshot to the oracle and writes an audit
// log entry for every successful cycle. An oracle failure is returned as an
// error and must be read as "no answer this cycle", never as an empty
// result.
package reasoner
