package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meshos/bus"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/store/memstore"
)

// Publisher announces negotiation turns; *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, from, to string, msgType core.MessageType, payload any, workspaceID string) (*core.MeshMessage, bus.DeliveryReport, error)
}

// TeamLookup resolves team ids; *team.Engine satisfies it.
type TeamLookup interface {
	GetTeam(ctx context.Context, id string) (*core.Team, error)
}

// Options configures an Engine.
type Options struct {
	// Store persists negotiations. Defaults to an in-memory store.
	Store core.NegotiationStore
	// Oracle judges convergence. Without one every convergence attempt
	// reports a non-converged verdict.
	Oracle core.ReasoningOracle
	// Teams validates team ids on start when set.
	Teams TeamLookup
	// Publisher receives a negotiation_turn message per appended turn when set.
	Publisher Publisher
	// Logger receives lifecycle events.
	Logger logging.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Engine runs negotiations.
type Engine struct {
	store     core.NegotiationStore
	oracle    core.ReasoningOracle
	teams     TeamLookup
	publisher Publisher
	logger    logging.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = memstore.New()
	}

	return &Engine{
		store:     opts.Store,
		oracle:    opts.Oracle,
		teams:     opts.Teams,
		publisher: opts.Publisher,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
	}
}

// TurnEvent is the payload of the negotiation_turn message published for
// every appended turn.
type TurnEvent struct {
	NegotiationID string `json:"negotiation_id"`
	TeamID        string `json:"team_id"`
	Agent         string `json:"agent"`
	Message       string `json:"message"`
	Position      any    `json:"position,omitempty"`
}

// StartNegotiation opens an in-progress negotiation with an empty
// conversation.
func (e *Engine) StartNegotiation(ctx context.Context, teamID, topic string, initialPositions map[string]any, workspaceID string) (*core.Negotiation, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if e.teams != nil {
		t, err := e.teams.GetTeam(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("lookup team %s: %w", teamID, err)
		}
		if t == nil {
			return nil, fmt.Errorf("team %s: %w", teamID, core.ErrNotFound)
		}
		if !t.Active {
			return nil, fmt.Errorf("team %s: %w", teamID, core.ErrTeamDissolved)
		}
	}

	positions := make(map[string]any, len(initialPositions))
	for k, v := range initialPositions {
		positions[k] = v
	}

	n := core.Negotiation{
		ID:               core.NewID(),
		TeamID:           teamID,
		WorkspaceID:      workspaceID,
		Topic:            topic,
		InitialPositions: positions,
		Conversation:     []core.Turn{},
		Status:           core.NegotiationInProgress,
		CreatedAt:        e.now().UTC(),
	}
	if err := e.store.CreateNegotiation(ctx, n); err != nil {
		return nil, fmt.Errorf("create negotiation: %w", err)
	}

	e.logger.Info("Negotiation started", "negotiation_id", n.ID, "team_id", teamID, "topic", topic)
	return &n, nil
}

// AddNegotiationTurn atomically appends a turn. Terminal negotiations are
// refused with core.ErrNegotiationResolved.
func (e *Engine) AddNegotiationTurn(ctx context.Context, negotiationID, agent, message string, position any) (*core.Turn, error) {
	turn := core.Turn{
		Agent:     agent,
		Message:   message,
		Position:  position,
		Timestamp: e.now().UTC(),
	}
	if err := e.store.AppendTurn(ctx, negotiationID, turn); err != nil {
		return nil, fmt.Errorf("append turn to %s: %w", negotiationID, err)
	}

	if e.publisher != nil {
		e.announce(ctx, negotiationID, turn)
	}
	return &turn, nil
}

// announce publishes the turn on the bus. The turn is already committed, so
// failures are logged only.
func (e *Engine) announce(ctx context.Context, negotiationID string, turn core.Turn) {
	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		e.logger.Warn("Turn announcement skipped", "negotiation_id", negotiationID, "error", err.Error())
		return
	}
	event := TurnEvent{
		NegotiationID: negotiationID,
		TeamID:        n.TeamID,
		Agent:         turn.Agent,
		Message:       turn.Message,
		Position:      turn.Position,
	}
	if _, _, err := e.publisher.Publish(ctx, turn.Agent, "", core.MessageNegotiationTurn, event, n.WorkspaceID); err != nil {
		e.logger.Warn("Turn announcement failed", "negotiation_id", negotiationID, "error", err.Error())
	}
}

// ConvergeToConsensus asks the oracle whether the negotiation converged.
// A converged verdict persists the outcome and closes the negotiation. A
// non-converged verdict persists nothing. Oracle failures are reported as
// non-converged verdicts; storage failures are returned as errors.
func (e *Engine) ConvergeToConsensus(ctx context.Context, negotiationID string) (core.Verdict, error) {
	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return core.Verdict{}, fmt.Errorf("load negotiation %s: %w", negotiationID, err)
	}
	if n.Status.Terminal() {
		return core.Verdict{}, fmt.Errorf("negotiation %s is %s: %w", negotiationID, n.Status, core.ErrNegotiationResolved)
	}

	if e.oracle == nil {
		return core.Verdict{Converged: false, Reasoning: "no reasoning oracle configured"}, nil
	}

	verdict, err := e.oracle.Negotiate(ctx, core.NegotiationBrief{
		NegotiationID:    n.ID,
		Topic:            n.Topic,
		InitialPositions: n.InitialPositions,
		Conversation:     n.Conversation,
	})
	if err != nil {
		e.logger.Warn("Convergence check failed", "negotiation_id", negotiationID, "error", err.Error())
		return core.Verdict{Converged: false, Reasoning: fmt.Sprintf("oracle failed: %v", err)}, nil
	}
	if !verdict.Converged {
		return verdict, nil
	}
	if isEmptyOutcome(verdict.Outcome) {
		return core.Verdict{
			Converged: false,
			Reasoning: "oracle reported convergence without an outcome: " + verdict.Reasoning,
			Blockers:  verdict.Blockers,
		}, nil
	}

	err = e.store.ResolveNegotiation(ctx, negotiationID, core.Resolution{
		Status:      core.NegotiationConverged,
		Outcome:     verdict.Outcome,
		ResolvedAt:  e.now().UTC(),
		RequireOpen: true,
	})
	if err != nil {
		return core.Verdict{}, fmt.Errorf("resolve negotiation %s: %w", negotiationID, err)
	}

	e.logger.Info("Negotiation converged", "negotiation_id", negotiationID, "turns", len(n.Conversation))
	return verdict, nil
}

func isEmptyOutcome(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type escalation struct {
	Escalated bool   `json:"escalated"`
	Reason    string `json:"reason"`
}

// EscalateNegotiation marks the negotiation escalated with the given
// reason. It succeeds regardless of the current status; the latest call
// wins.
func (e *Engine) EscalateNegotiation(ctx context.Context, negotiationID, reason string) error {
	outcome, err := json.Marshal(escalation{Escalated: true, Reason: reason})
	if err != nil {
		return err
	}
	err = e.store.ResolveNegotiation(ctx, negotiationID, core.Resolution{
		Status:     core.NegotiationEscalated,
		Outcome:    outcome,
		ResolvedAt: e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("escalate negotiation %s: %w", negotiationID, err)
	}
	e.logger.Warn("Negotiation escalated", "negotiation_id", negotiationID, "reason", reason)
	return nil
}

// GetNegotiation returns the negotiation, or nil when missing.
func (e *Engine) GetNegotiation(ctx context.Context, negotiationID string) (*core.Negotiation, error) {
	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get negotiation %s: %w", negotiationID, err)
	}
	return n, nil
}

// ListWorkspaceNegotiations returns the workspace's negotiations newest
// first. A non-positive limit returns all of them.
func (e *Engine) ListWorkspaceNegotiations(ctx context.Context, workspaceID string, limit int) ([]core.Negotiation, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	ns, err := e.store.ListWorkspaceNegotiations(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list negotiations for workspace %s: %w", workspaceID, err)
	}
	return ns, nil
}

// ListNegotiations returns the team's negotiations, oldest first.
func (e *Engine) ListNegotiations(ctx context.Context, teamID string) ([]core.Negotiation, error) {
	ns, err := e.store.ListNegotiations(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list negotiations for team %s: %w", teamID, err)
	}
	return ns, nil
}
