package reasoner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/store/memstore"
)

// DefaultHistoryLimit is used by GetReasoningHistory when limit <= 0.
const DefaultHistoryLimit = 20

// ErrInvalidCycleType is returned for cycle types outside the closed set.
var ErrInvalidCycleType = errors.New("invalid cycle type")

// Options configures a Reasoner.
type Options struct {
	// Oracle interprets the context. Required for RunReasoningCycle.
	Oracle core.ReasoningOracle
	// Logs persists the audit trail. Defaults to an in-memory store.
	Logs core.ReasoningLogStore
	// Sources maps collaborator systems to their state accessors.
	Sources map[core.System]Source
	// SourceTimeout bounds each source fetch. Zero means no bound.
	SourceTimeout time.Duration
	Logger        logging.Logger
	Metrics       *metrics.Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Reasoner runs reasoning cycles.
type Reasoner struct {
	oracle        core.ReasoningOracle
	logs          core.ReasoningLogStore
	sources       map[core.System]Source
	sourceTimeout time.Duration
	logger        logging.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New creates a Reasoner.
func New(optFns ...func(o *Options)) *Reasoner {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logs == nil {
		opts.Logs = memstore.New()
	}

	sources := make(map[core.System]Source, len(opts.Sources))
	for k, v := range opts.Sources {
		if v != nil {
			sources[k] = v
		}
	}

	return &Reasoner{
		oracle:        opts.Oracle,
		logs:          opts.Logs,
		sources:       sources,
		sourceTimeout: opts.SourceTimeout,
		logger:        logging.OrNoOp(opts.Logger),
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
}

// BuildMeshContext fetches every collaborator snapshot concurrently. It
// never fails because of a collaborator; only a missing workspace is an
// error.
func (r *Reasoner) BuildMeshContext(ctx context.Context, workspaceID string) (core.MeshContext, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return core.MeshContext{}, err
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		snaps = make(map[core.System]core.CollaboratorSnapshot, len(core.Systems))
	)
	for _, system := range core.Systems {
		wg.Add(1)
		go func(system core.System) {
			defer wg.Done()
			snap := r.snapshot(ctx, system, workspaceID)
			mu.Lock()
			snaps[system] = snap
			mu.Unlock()
		}(system)
	}
	wg.Wait()

	mc := core.MeshContext{
		WorkspaceID: workspaceID,
		BuiltAt:     r.now().UTC(),
		Systems:     snaps,
	}
	if degraded := mc.Degraded(); len(degraded) > 0 {
		r.logger.Warn("Mesh context degraded", "workspace_id", workspaceID, "systems", degraded)
	}
	return mc, nil
}

func (r *Reasoner) snapshot(ctx context.Context, system core.System, workspaceID string) (snap core.CollaboratorSnapshot) {
	snap = core.CollaboratorSnapshot{System: system}

	src, ok := r.sources[system]
	if !ok {
		raw, _ := json.Marshal(placeholderData)
		snap.Status = core.SnapshotPlaceholder
		snap.Data = raw
		snap.FetchedAt = r.now().UTC()
		return snap
	}

	degrade := func(err error) core.CollaboratorSnapshot {
		r.metrics.CollaboratorDegraded(string(system))
		r.logger.Warn("Collaborator fetch failed", "system", string(system), "workspace_id", workspaceID, "error", err.Error())
		return core.CollaboratorSnapshot{
			System:    system,
			Status:    core.SnapshotDegraded,
			Error:     err.Error(),
			FetchedAt: r.now().UTC(),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			snap = degrade(fmt.Errorf("source panic: %v", rec))
		}
	}()

	if r.sourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sourceTimeout)
		defer cancel()
	}

	v, err := src.Fetch(ctx, workspaceID)
	if err != nil {
		return degrade(err)
	}
	raw, err := encode(v)
	if err != nil {
		return degrade(err)
	}

	snap.Status = core.SnapshotOK
	snap.Data = raw
	snap.FetchedAt = r.now().UTC()
	return snap
}

func encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("source returned invalid JSON")
		}
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

type cycleInputs struct {
	CycleType core.CycleType   `json:"cycle_type"`
	Context   core.MeshContext `json:"context"`
}

// RunReasoningCycle asks the oracle to interpret mc and logs the cycle.
// Oracle failures are returned as errors; no log entry is written for them.
func (r *Reasoner) RunReasoningCycle(ctx context.Context, mc core.MeshContext, cycleType core.CycleType) (*core.CycleResult, error) {
	if !cycleType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCycleType, cycleType)
	}
	if err := core.RequireWorkspace(mc.WorkspaceID); err != nil {
		return nil, err
	}
	if r.oracle == nil {
		return nil, errors.New("reasoning cycle: no oracle configured")
	}

	res, err := r.oracle.Reason(ctx, core.ReasoningBrief{CycleType: cycleType, Context: mc})
	if err != nil {
		r.metrics.ReasoningCycle(string(cycleType), "error")
		r.logger.Error("Reasoning cycle failed", "cycle_type", string(cycleType), "workspace_id", mc.WorkspaceID, "error", err.Error())
		return nil, fmt.Errorf("reasoning cycle %s: %w", cycleType, err)
	}
	res.Normalize()

	inputs, err := json.Marshal(cycleInputs{CycleType: cycleType, Context: mc})
	if err != nil {
		return nil, fmt.Errorf("encode cycle inputs: %w", err)
	}
	outputs, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode cycle outputs: %w", err)
	}

	entry := core.ReasoningLog{
		ID:          core.NewID(),
		WorkspaceID: mc.WorkspaceID,
		CycleType:   cycleType,
		Inputs:      inputs,
		Reasoning:   res.Reasoning,
		Outputs:     outputs,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.logs.AppendReasoningLog(ctx, entry); err != nil {
		r.metrics.ReasoningCycle(string(cycleType), "error")
		return nil, fmt.Errorf("log reasoning cycle: %w", err)
	}

	r.metrics.ReasoningCycle(string(cycleType), "success")
	r.logger.Info("Reasoning cycle completed",
		"cycle_type", string(cycleType), "workspace_id", mc.WorkspaceID,
		"opportunities", len(res.Opportunities), "conflicts", len(res.Conflicts),
		"recommendations", len(res.Recommendations))
	return &res, nil
}

// GetReasoningHistory returns the workspace's cycle logs, newest first.
// limit <= 0 selects DefaultHistoryLimit.
func (r *Reasoner) GetReasoningHistory(ctx context.Context, workspaceID string, limit int) ([]core.ReasoningLog, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	logs, err := r.logs.ListReasoningLogs(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reasoning history: %w", err)
	}
	return logs, nil
}
