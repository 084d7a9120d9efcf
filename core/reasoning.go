package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CycleType selects the focus of a reasoning cycle.
type CycleType string

const (
	CycleOpportunity CycleType = "opportunity"
	CycleConflict    CycleType = "conflict"
	CycleRoutine     CycleType = "routine"
)

// Valid reports whether c is a known cycle type.
func (c CycleType) Valid() bool {
	return c == CycleOpportunity || c == CycleConflict || c == CycleRoutine
}

// Severity grades a conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Opportunity is an analysis artifact describing something worth acting on.
type Opportunity struct {
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Confidence      float64        `json:"confidence"`
	Description     string         `json:"description"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// Conflict is an analysis artifact describing disagreeing agent positions.
type Conflict struct {
	Type      string         `json:"type"`
	Agents    []string       `json:"agents"`
	Positions map[string]any `json:"positions,omitempty"`
	Severity  Severity       `json:"severity"`
}

// Recommendation is a proposed action emitted by a reasoning cycle.
type Recommendation struct {
	Type         string          `json:"type"`
	TargetSystem TargetSystem    `json:"target_system"`
	Priority     Priority        `json:"priority"`
	Binding      bool            `json:"binding,omitempty"`
	Description  string          `json:"description,omitempty"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	SourceAgent  string          `json:"source_agent,omitempty"`
}

// ToAction converts the recommendation into an Action. When no payload is
// supplied one is synthesized from the description and reasoning. A
// recommendation without a target system returns ErrMissingTarget.
func (r Recommendation) ToAction() (Action, error) {
	if r.TargetSystem == "" {
		return Action{}, fmt.Errorf("recommendation %q: %w", r.Type, ErrMissingTarget)
	}
	payload, err := DecodePayload(r.TargetSystem, r.Payload)
	if err != nil {
		return Action{}, err
	}
	if payload == nil {
		payload = NewPayload(r.TargetSystem, r.Description, r.Reasoning)
	}
	priority := r.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return Action{
		Type:         r.Type,
		TargetSystem: r.TargetSystem,
		Priority:     priority,
		Binding:      r.Binding,
		Payload:      payload,
		SourceAgent:  r.SourceAgent,
	}, nil
}

// NewPayload builds the payload variant for target from free text.
func NewPayload(target TargetSystem, description, reasoning string) ActionPayload {
	switch target {
	case TargetCampaigns:
		return CampaignPayload{Summary: description, Reasoning: reasoning}
	case TargetCreative:
		return CreativePayload{Brief: description, Reasoning: reasoning}
	case TargetCoaching:
		return CoachingPayload{Suggestion: description, Reasoning: reasoning}
	default:
		fields := map[string]any{}
		if description != "" {
			fields["description"] = description
		}
		if reasoning != "" {
			fields["reasoning"] = reasoning
		}
		return PassthroughPayload{Fields: fields}
	}
}

// CycleResult is the structured output of a reasoning cycle.
type CycleResult struct {
	Opportunities   []Opportunity    `json:"opportunities"`
	Conflicts       []Conflict       `json:"conflicts"`
	Recommendations []Recommendation `json:"recommendations"`
	Reasoning       string           `json:"reasoning"`
}

// Normalize replaces nil slices with empty ones so encoded output is stable.
func (r *CycleResult) Normalize() {
	if r.Opportunities == nil {
		r.Opportunities = []Opportunity{}
	}
	if r.Conflicts == nil {
		r.Conflicts = []Conflict{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []Recommendation{}
	}
}

// Validate checks value ranges of the analysis artifacts.
func (r CycleResult) Validate() error {
	for i, o := range r.Opportunities {
		if o.Confidence < 0 || o.Confidence > 1 {
			return fmt.Errorf("opportunity %d: confidence %v outside [0,1]", i, o.Confidence)
		}
	}
	for i, c := range r.Conflicts {
		switch c.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			return fmt.Errorf("conflict %d: unknown severity %q", i, c.Severity)
		}
	}
	return nil
}

// ReasoningLog is the audit record of one reasoning cycle.
type ReasoningLog struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	CycleType   CycleType       `json:"cycle_type"`
	Inputs      json.RawMessage `json:"inputs"`
	Reasoning   string          `json:"reasoning"`
	Outputs     json.RawMessage `json:"outputs"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ReasoningLogStore persists reasoning cycle logs; List is newest first.
type ReasoningLogStore interface {
	AppendReasoningLog(ctx context.Context, log ReasoningLog) error
	ListReasoningLogs(ctx context.Context, workspaceID string, limit int) ([]ReasoningLog, error)
}

// System names a collaborator subsystem feeding the mesh context.
type System string

const (
	SystemFusion      System = "fusion"
	SystemCampaigns   System = "campaigns"
	SystemScenes      System = "scenes"
	SystemIdentity    System = "identity"
	SystemAwareness   System = "awareness"
	SystemCoaching    System = "coaching"
	SystemAutomations System = "automations"
	SystemANR         System = "anr"
	SystemGraph       System = "graph"
)

// Systems lists the collaborator systems included in every context snapshot.
var Systems = []System{
	SystemFusion, SystemCampaigns, SystemScenes, SystemIdentity, SystemAwareness,
	SystemCoaching, SystemAutomations, SystemANR, SystemGraph,
}

// SnapshotStatus records how a collaborator snapshot was obtained.
type SnapshotStatus string

const (
	SnapshotOK          SnapshotStatus = "ok"
	SnapshotDegraded    SnapshotStatus = "degraded"
	SnapshotPlaceholder SnapshotStatus = "placeholder"
)

// CollaboratorSnapshot is one collaborator's state at context build time.
type CollaboratorSnapshot struct {
	System    System          `json:"system"`
	Status    SnapshotStatus  `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// MeshContext is the snapshot of collaborator state handed to the oracle.
type MeshContext struct {
	WorkspaceID string                          `json:"workspace_id"`
	BuiltAt     time.Time                       `json:"built_at"`
	Systems     map[System]CollaboratorSnapshot `json:"systems"`
}

// Degraded returns the systems whose snapshot did not load cleanly.
func (m MeshContext) Degraded() []System {
	var out []System
	for _, s := range Systems {
		if snap, ok := m.Systems[s]; ok && snap.Status == SnapshotDegraded {
			out = append(out, s)
		}
	}
	return out
}
