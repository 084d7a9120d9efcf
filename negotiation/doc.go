// Package negotiation implements structured multi-turn negotiation over a
// team. Convergence is judged by an injected core.ReasoningOracle; a
// negotiation ends either converged (oracle consensus) or escalated
// (explicit hand-off), and both states are terminal.
//
// Oracle failures never surface as errors from ConvergeToConsensus. They
// degrade into a non-converged verdict whose reasoning explains the
// failure, so callers can add turns, retry or escalate.
package negotiation
