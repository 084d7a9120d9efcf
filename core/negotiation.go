package core

import (
	"context"
	"encoding/json"
	"time"
)

// NegotiationStatus is the lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationInProgress NegotiationStatus = "in_progress"
	NegotiationConverged  NegotiationStatus = "converged"
	NegotiationEscalated  NegotiationStatus = "escalated"
)

// Terminal reports whether no further turns are accepted in this status.
func (s NegotiationStatus) Terminal() bool {
	return s == NegotiationConverged || s == NegotiationEscalated
}

// Turn is one contribution to a negotiation conversation.
type Turn struct {
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Position  any       `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Negotiation is a structured multi-turn negotiation over a team.
// Outcome is nil while Status is in_progress.
type Negotiation struct {
	ID               string            `json:"id"`
	TeamID           string            `json:"team_id"`
	WorkspaceID      string            `json:"workspace_id"`
	Topic            string            `json:"topic"`
	InitialPositions map[string]any    `json:"initial_positions"`
	Conversation     []Turn            `json:"conversation"`
	Status           NegotiationStatus `json:"status"`
	Outcome          json.RawMessage   `json:"outcome,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// Verdict is the oracle's convergence judgment for a negotiation.
type Verdict struct {
	Converged bool            `json:"converged"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
	Reasoning string          `json:"reasoning"`
	Blockers  []string        `json:"blockers,omitempty"`
}

// Resolution describes a terminal transition of a negotiation. When
// RequireOpen is set the store must refuse the write with
// ErrNegotiationResolved unless the negotiation is still in progress.
type Resolution struct {
	Status      NegotiationStatus
	Outcome     json.RawMessage
	ResolvedAt  time.Time
	RequireOpen bool
}

// NegotiationStore persists negotiations.
//
// AppendTurn must be atomic with respect to concurrent appends (no
// read-modify-write of the whole conversation) and must refuse terminal
// negotiations with ErrNegotiationResolved. Get returns ErrNotFound when absent.
// ListNegotiations returns the team's negotiations oldest first.
// ListWorkspaceNegotiations returns the workspace's negotiations newest
// first; limit <= 0 returns all of them.
type NegotiationStore interface {
	CreateNegotiation(ctx context.Context, n Negotiation) error
	GetNegotiation(ctx context.Context, id string) (*Negotiation, error)
	AppendTurn(ctx context.Context, negotiationID string, turn Turn) error
	ResolveNegotiation(ctx context.Context, negotiationID string, res Resolution) error
	ListNegotiations(ctx context.Context, teamID string) ([]Negotiation, error)
	ListWorkspaceNegotiations(ctx context.Context, workspaceID string, limit int) ([]Negotiation, error)
}
