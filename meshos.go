// Package meshos wires the mesh components into a single Mesh: a registry of
// specialist agents, their memory, a message bus, micro-teams with
// negotiation, the mesh reasoner and the guardrail-gated action router.
//
// Typical use:
//  1. Create a Mesh via New(), optionally supplying a durable Repository,
//     an oracle and collaborator sources
//  2. Seed the built-in agents with Registry.InitializeBuiltInAgents
//  3. Call RunCycle periodically and ResolveConflict for reported conflicts
//
// Every component remains reachable through the Mesh fields for callers that
// need finer control.
package meshos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/meshos/bus"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/guardrail"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/memory"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/negotiation"
	"github.com/hupe1980/meshos/reasoner"
	"github.com/hupe1980/meshos/registry"
	"github.com/hupe1980/meshos/router"
	"github.com/hupe1980/meshos/store/memstore"
	"github.com/hupe1980/meshos/team"
)

// ReasonerAgent is the source agent recorded on recommendations that do not
// name one.
const ReasonerAgent = "mesh_reasoner"

// Options configures a Mesh.
type Options struct {
	// Repository backs every durable component. Defaults to an in-memory store.
	Repository core.Repository

	// Oracle drives negotiation convergence and reasoning cycles. Without
	// one negotiations never converge and RunCycle fails.
	Oracle core.ReasoningOracle

	// Sources maps collaborator systems to their state accessors.
	// Unconfigured systems contribute placeholder snapshots.
	Sources map[core.System]reasoner.Source

	// SourceTimeout bounds each collaborator fetch. Zero means no bound.
	SourceTimeout time.Duration

	// MaxTeamSize bounds micro-team membership.
	MaxTeamSize int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Metrics is optional; nil records nothing.
	Metrics *metrics.Metrics

	// Now overrides the clock of every component (tests).
	Now func() time.Time
}

// Mesh aggregates the mesh components over one repository.
type Mesh struct {
	Registry     *registry.Registry
	Memory       *memory.Store
	Bus          *bus.Bus
	Teams        *team.Engine
	Negotiations *negotiation.Engine
	Reasoner     *reasoner.Reasoner
	Guard        *guardrail.Guard
	Router       *router.Router

	logger logging.Logger
}

// New creates a Mesh. Any unset dependency is replaced by an in-memory or
// no-op implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MaxTeamSize: team.DefaultMaxTeamSize,
		Logger:      logging.NoOpLogger{},
		Now:         time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Repository == nil {
		opts.Repository = memstore.New()
	}
	logger := logging.OrNoOp(opts.Logger)

	reg := registry.New(func(o *registry.Options) {
		o.Store = opts.Repository
		o.Logger = logger
		o.Now = opts.Now
	})
	mem := memory.New(func(o *memory.Options) {
		o.Backend = opts.Repository
		o.Logger = logger
		o.Now = opts.Now
	})
	b := bus.New(func(o *bus.Options) {
		o.Store = opts.Repository
		o.Logger = logger
		o.Metrics = opts.Metrics
		o.Now = opts.Now
	})
	teams := team.New(func(o *team.Options) {
		o.Store = opts.Repository
		o.Agents = reg
		o.MaxTeamSize = opts.MaxTeamSize
		o.Logger = logger
		o.Now = opts.Now
	})
	negotiations := negotiation.New(func(o *negotiation.Options) {
		o.Store = opts.Repository
		o.Oracle = opts.Oracle
		o.Teams = teams
		o.Publisher = b
		o.Logger = logger
		o.Now = opts.Now
	})
	rsn := reasoner.New(func(o *reasoner.Options) {
		o.Oracle = opts.Oracle
		o.Logs = opts.Repository
		o.Sources = opts.Sources
		o.SourceTimeout = opts.SourceTimeout
		o.Logger = logger
		o.Metrics = opts.Metrics
		o.Now = opts.Now
	})
	guard := guardrail.New(func(o *guardrail.Options) {
		o.Logger = logger
		o.Metrics = opts.Metrics
	})
	rtr := router.New(func(o *router.Options) {
		o.Memory = mem
		o.Guard = guard
		o.Logger = logger
		o.Metrics = opts.Metrics
		o.Now = opts.Now
	})

	return &Mesh{
		Registry:     reg,
		Memory:       mem,
		Bus:          b,
		Teams:        teams,
		Negotiations: negotiations,
		Reasoner:     rsn,
		Guard:        guard,
		Router:       rtr,
		logger:       logger,
	}
}

// Rejection is a recommendation the router refused.
type Rejection struct {
	Recommendation core.Recommendation
	// Violations is empty when the recommendation could not be converted
	// into an action at all, for example when it names no target system.
	Violations []string
	Err        error
}

// CycleReport summarizes one end-to-end cycle.
type CycleReport struct {
	Context  core.MeshContext
	Result   core.CycleResult
	Routed   []core.RoutedRecommendation
	Rejected []Rejection
	// Warnings holds non-blocking guardrail findings keyed by recommendation key.
	Warnings map[string][]string
}

// RunCycle builds the mesh context, runs a reasoning cycle over it and routes
// every resulting recommendation through the guardrails. Rejected
// recommendations are reported, not returned as errors. Routed
// recommendations are announced on the bus.
func (m *Mesh) RunCycle(ctx context.Context, workspaceID string, cycleType core.CycleType) (*CycleReport, error) {
	mc, err := m.Reasoner.BuildMeshContext(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	res, err := m.Reasoner.RunReasoningCycle(ctx, mc, cycleType)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{
		Context:  mc,
		Result:   *res,
		Routed:   []core.RoutedRecommendation{},
		Rejected: []Rejection{},
		Warnings: map[string][]string{},
	}

	for _, rec := range res.Recommendations {
		if rec.SourceAgent == "" {
			rec.SourceAgent = ReasonerAgent
		}

		action, err := rec.ToAction()
		if err != nil {
			report.Rejected = append(report.Rejected, Rejection{Recommendation: rec, Err: err})
			continue
		}

		routed, check, err := m.Router.RouteAction(ctx, action, workspaceID)
		if err != nil {
			var vErr *guardrail.ViolationError
			if errors.As(err, &vErr) {
				report.Rejected = append(report.Rejected, Rejection{Recommendation: rec, Violations: vErr.Violations, Err: err})
				continue
			}
			if errors.Is(err, core.ErrMissingTarget) {
				report.Rejected = append(report.Rejected, Rejection{Recommendation: rec, Err: err})
				continue
			}
			return report, fmt.Errorf("route recommendation %q: %w", rec.Type, err)
		}

		report.Routed = append(report.Routed, *routed)
		if len(check.Warnings) > 0 {
			report.Warnings[routed.Key] = check.Warnings
		}

		if _, delivery, err := m.Bus.Broadcast(ctx, action.SourceAgent, core.MessageRecommendation, routed, workspaceID); err != nil {
			m.logger.Warn("Recommendation announcement failed", "key", routed.Key, "error", err.Error())
		} else if !delivery.OK() {
			m.logger.Warn("Recommendation announcement partially delivered", "key", routed.Key, "failures", len(delivery.Failures))
		}
	}

	m.logger.Info("Mesh cycle completed",
		"workspace_id", workspaceID, "cycle_type", string(cycleType),
		"routed", len(report.Routed), "rejected", len(report.Rejected))
	return report, nil
}

// Resolution is the outcome of ResolveConflict.
type Resolution struct {
	Team        *core.Team
	Negotiation *core.Negotiation
	Verdict     core.Verdict
}

// ResolveConflict forms a micro-team from the conflicting agents, opens a
// negotiation seeded with their positions and asks for consensus. A
// negotiation that does not converge is escalated. The team is dissolved
// before returning, also when a later step fails.
func (m *Mesh) ResolveConflict(ctx context.Context, conflict core.Conflict, workspaceID string) (res *Resolution, err error) {
	t, err := m.Teams.FormTeam(ctx, team.FormRequest{
		Name:        "conflict: " + conflict.Type,
		Purpose:     fmt.Sprintf("resolve %s conflict (severity %s)", conflict.Type, conflict.Severity),
		AgentNames:  conflict.Agents,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("form conflict team: %w", err)
	}
	defer func() {
		if dErr := m.Teams.DissolveTeam(ctx, t.ID); dErr != nil {
			m.logger.Error("Conflict team dissolution failed", "team_id", t.ID, "error", dErr.Error())
			res = nil
			err = errors.Join(err, fmt.Errorf("dissolve conflict team: %w", dErr))
			return
		}
		if res != nil {
			dissolved, gErr := m.Teams.GetTeam(ctx, t.ID)
			if gErr != nil {
				res, err = nil, gErr
				return
			}
			res.Team = dissolved
		}
	}()

	n, err := m.Negotiations.StartNegotiation(ctx, t.ID, conflict.Type, conflict.Positions, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("start conflict negotiation: %w", err)
	}

	for _, agent := range t.AgentNames {
		pos, ok := conflict.Positions[agent]
		if !ok {
			continue
		}
		if _, err := m.Negotiations.AddNegotiationTurn(ctx, n.ID, agent, "opening position", pos); err != nil {
			return nil, fmt.Errorf("add opening position: %w", err)
		}
	}

	verdict, err := m.Negotiations.ConvergeToConsensus(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("converge conflict negotiation: %w", err)
	}

	if !verdict.Converged {
		reason := verdict.Reasoning
		if len(verdict.Blockers) > 0 {
			reason = "blocked by: " + strings.Join(verdict.Blockers, ", ")
		}
		if err := m.Negotiations.EscalateNegotiation(ctx, n.ID, reason); err != nil {
			return nil, fmt.Errorf("escalate conflict negotiation: %w", err)
		}
	}

	final, err := m.Negotiations.GetNegotiation(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	return &Resolution{Team: t, Negotiation: final, Verdict: verdict}, nil
}
