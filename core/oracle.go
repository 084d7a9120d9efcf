package core

import "context"

// NegotiationBrief is everything the oracle needs to judge convergence.
type NegotiationBrief struct {
	NegotiationID    string         `json:"negotiation_id"`
	Topic            string         `json:"topic"`
	InitialPositions map[string]any `json:"initial_positions"`
	Conversation     []Turn         `json:"conversation"`
}

// ReasoningBrief is the input of a reasoning cycle.
type ReasoningBrief struct {
	CycleType CycleType   `json:"cycle_type"`
	Context   MeshContext `json:"context"`
}

// ReasoningOracle is the injected reasoning function both the negotiation
// engine and the reasoner delegate to. Implementations return an error when
// the underlying model fails or yields unparseable output.
type ReasoningOracle interface {
	Negotiate(ctx context.Context, brief NegotiationBrief) (Verdict, error)
	Reason(ctx context.Context, brief ReasoningBrief) (CycleResult, error)
}
