package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/guardrail"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/memory"
	"github.com/hupe1980/meshos/metrics"
)

const (
	// KeyPrefix starts every recommendation key.
	KeyPrefix = "recommendation:"
	// AckSuffix ends every acknowledgement key.
	AckSuffix = ":ack"

	// maxKeyAttempts bounds the retries when another writer already holds
	// the candidate key.
	maxKeyAttempts = 32
)

// SharedMemory is the shared memory surface the router writes to;
// *memory.Store satisfies it.
type SharedMemory interface {
	CreateShared(ctx context.Context, key string, value any, sourceAgent, workspaceID string) (bool, error)
	WriteShared(ctx context.Context, key string, value any, sourceAgent, workspaceID string) error
	GetSharedRecord(ctx context.Context, key, workspaceID string) (*core.SharedRecord, error)
	GetAllShared(ctx context.Context, workspaceID string) ([]core.SharedRecord, error)
}

// Options configures a Router.
type Options struct {
	// Memory stores recommendations. Defaults to an in-memory memory.Store.
	Memory SharedMemory
	// Guard validates actions. Defaults to a guard sharing Logger and Metrics.
	Guard   *guardrail.Guard
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Router routes actions to shared memory.
type Router struct {
	memory  SharedMemory
	guard   *guardrail.Guard
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	lastMillis int64
}

// New creates a Router.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Memory == nil {
		opts.Memory = memory.New()
	}
	if opts.Guard == nil {
		opts.Guard = guardrail.New(func(o *guardrail.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}

	return &Router{
		memory:  opts.Memory,
		guard:   opts.Guard,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// RecommendationKey builds the shared memory key of a recommendation.
func RecommendationKey(target core.TargetSystem, millis int64) string {
	return KeyPrefix + string(target) + ":" + strconv.FormatInt(millis, 10)
}

// ParseKey splits a recommendation key into target system and timestamp.
func ParseKey(key string) (core.TargetSystem, int64, bool) {
	if !strings.HasPrefix(key, KeyPrefix) || strings.HasSuffix(key, AckSuffix) {
		return "", 0, false
	}
	rest := strings.TrimPrefix(key, KeyPrefix)
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, false
	}
	millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return core.TargetSystem(rest[:i]), millis, true
}

// nextMillis returns a timestamp strictly greater than any previously
// issued by this router. Keys written by other processes are detected by
// the create-only write in RouteAction.
func (r *Router) nextMillis(now time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= r.lastMillis {
		ms = r.lastMillis + 1
	}
	r.lastMillis = ms
	return ms
}

// RouteAction validates the action and, when it passes, stores it as a
// recommendation under a key no other writer holds. A failed check returns
// a *guardrail.ViolationError and an action without a target system returns
// core.ErrMissingTarget; neither writes anything.
func (r *Router) RouteAction(ctx context.Context, action core.Action, workspaceID string) (*core.RoutedRecommendation, guardrail.Result, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, guardrail.Result{}, err
	}
	if action.TargetSystem == "" {
		return nil, guardrail.Result{}, fmt.Errorf("route %q: %w", action.Type, core.ErrMissingTarget)
	}

	res, err := r.guard.Validate(action)
	if err != nil {
		return nil, res, err
	}

	now := r.now().UTC()
	rec := core.RoutedRecommendation{
		Action:   action,
		RoutedAt: now,
	}
	for attempt := 0; ; attempt++ {
		if attempt == maxKeyAttempts {
			return nil, res, fmt.Errorf("route %q: no free recommendation key after %d attempts", action.Type, maxKeyAttempts)
		}
		rec.Key = RecommendationKey(action.TargetSystem, r.nextMillis(now))
		created, err := r.memory.CreateShared(ctx, rec.Key, rec, action.SourceAgent, workspaceID)
		if err != nil {
			return nil, res, fmt.Errorf("route %q: %w", action.Type, err)
		}
		if created {
			break
		}
		r.logger.Debug("Recommendation key taken, retrying", "key", rec.Key)
	}

	r.metrics.RecommendationRouted(string(action.TargetSystem))
	r.logger.Info("Recommendation routed", "key", rec.Key, "action_type", action.Type,
		"target_system", string(action.TargetSystem), "workspace_id", workspaceID)
	return &rec, res, nil
}

// AcknowledgeRecommendation records a collaborator's response under
// "{key}:ack", replacing any earlier acknowledgement.
func (r *Router) AcknowledgeRecommendation(ctx context.Context, key, workspaceID string, response core.AckResponse) (*core.Acknowledgement, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if !response.Valid() {
		return nil, fmt.Errorf("%w: unknown response %q", core.ErrInvalidAcknowledgement, response)
	}
	target, _, ok := ParseKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a recommendation key", core.ErrInvalidAcknowledgement, key)
	}

	existing, err := r.memory.GetSharedRecord(ctx, key, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("acknowledge %s: %w", key, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("acknowledge %s: %w", key, core.ErrNotFound)
	}

	ack := core.Acknowledgement{
		Key:            key,
		TargetSystem:   target,
		Response:       response,
		AcknowledgedAt: r.now().UTC(),
	}
	if err := r.memory.WriteShared(ctx, key+AckSuffix, ack, string(target), workspaceID); err != nil {
		return nil, fmt.Errorf("acknowledge %s: %w", key, err)
	}

	r.metrics.Acknowledged(string(response))
	r.logger.Info("Recommendation acknowledged", "key", key, "response", string(response), "workspace_id", workspaceID)
	return &ack, nil
}

// GetPendingRecommendations returns the target's recommendations that have
// no acknowledgement or whose acknowledgement is deferred, oldest first.
func (r *Router) GetPendingRecommendations(ctx context.Context, target core.TargetSystem, workspaceID string) ([]core.RoutedRecommendation, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	records, err := r.memory.GetAllShared(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}

	acks := make(map[string]core.AckResponse)
	for _, rec := range records {
		if !strings.HasSuffix(rec.Key, AckSuffix) {
			continue
		}
		var ack core.Acknowledgement
		if err := json.Unmarshal(rec.Value, &ack); err != nil {
			r.logger.Warn("Skipping malformed acknowledgement", "key", rec.Key, "error", err.Error())
			continue
		}
		acks[strings.TrimSuffix(rec.Key, AckSuffix)] = ack.Response
	}

	out := make([]core.RoutedRecommendation, 0)
	for _, rec := range records {
		ts, _, ok := ParseKey(rec.Key)
		if !ok || ts != target {
			continue
		}
		if resp, acked := acks[rec.Key]; acked && resp != core.AckDeferred {
			continue
		}
		var routed core.RoutedRecommendation
		if err := json.Unmarshal(rec.Value, &routed); err != nil {
			r.logger.Warn("Skipping malformed recommendation", "key", rec.Key, "error", err.Error())
			continue
		}
		routed.Key = rec.Key
		out = append(out, routed)
	}

	sort.SliceStable(out, func(i, j int) bool {
		_, mi, _ := ParseKey(out[i].Key)
		_, mj, _ := ParseKey(out[j].Key)
		return mi < mj
	})
	return out, nil
}
