package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/store/memstore"
)

// DefaultEpisodeLimit is used by GetEpisodicEvents when limit <= 0.
const DefaultEpisodeLimit = 50

// Backend is the subset of core.Repository the memory store needs.
type Backend interface {
	core.LongTermStore
	core.EpisodicStore
	core.SharedStore
}

// Options configures a Store.
type Options struct {
	// Backend persists long-term, episodic and shared memory. Defaults to
	// an in-memory store.
	Backend Backend
	// Logger receives memory events.
	Logger logging.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store is the mesh memory facade. Durable operations require a workspace
// id and return storage errors unchanged apart from wrapping; absence is
// reported as a nil value, never as an error.
type Store struct {
	backend Backend
	logger  logging.Logger
	now     func() time.Time
	working *workingMemory
}

// New creates a memory Store.
func New(optFns ...func(o *Options)) *Store {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Backend == nil {
		opts.Backend = memstore.New()
	}

	return &Store{
		backend: opts.Backend,
		logger:  logging.OrNoOp(opts.Logger),
		now:     opts.Now,
		working: newWorkingMemory(),
	}
}

func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("value is not valid JSON")
		}
		return raw, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

// --- long-term ---

// Remember upserts a private long-term value for agent in workspace.
func (s *Store) Remember(ctx context.Context, agent, key string, value any, workspaceID string) error {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.backend.PutLongTerm(ctx, agent, workspaceID, key, raw); err != nil {
		return fmt.Errorf("remember %s/%s: %w", agent, key, err)
	}
	return nil
}

// Recall returns the long-term value, or nil when nothing is stored.
func (s *Store) Recall(ctx context.Context, agent, key, workspaceID string) (json.RawMessage, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	raw, err := s.backend.GetLongTerm(ctx, agent, workspaceID, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recall %s/%s: %w", agent, key, err)
	}
	return raw, nil
}

// --- episodic ---

// ObserveEpisodic appends an event to the agent's episodic log.
func (s *Store) ObserveEpisodic(ctx context.Context, agent, eventType string, payload any, workspaceID string) (*core.Episode, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	raw, err := encode(payload)
	if err != nil {
		return nil, err
	}
	ep := core.Episode{
		ID:          core.NewID(),
		AgentName:   agent,
		WorkspaceID: workspaceID,
		EventType:   eventType,
		Payload:     raw,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.backend.AppendEpisode(ctx, ep); err != nil {
		return nil, fmt.Errorf("observe %s for %s: %w", eventType, agent, err)
	}
	return &ep, nil
}

// GetEpisodicEvents returns the agent's most recent events, newest first.
// limit <= 0 selects DefaultEpisodeLimit.
func (s *Store) GetEpisodicEvents(ctx context.Context, agent, workspaceID string, limit int) ([]core.Episode, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEpisodeLimit
	}
	eps, err := s.backend.ListEpisodes(ctx, agent, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodes for %s: %w", agent, err)
	}
	return eps, nil
}

// --- shared ---

// WriteShared upserts a workspace-wide value attributed to sourceAgent.
func (s *Store) WriteShared(ctx context.Context, key string, value any, sourceAgent, workspaceID string) error {
	rec, err := s.sharedRecord(key, value, sourceAgent, workspaceID)
	if err != nil {
		return err
	}
	if err := s.backend.PutShared(ctx, rec); err != nil {
		return fmt.Errorf("write shared %s: %w", key, err)
	}
	s.logger.Debug("Shared memory written", "key", key, "source_agent", sourceAgent, "workspace_id", workspaceID)
	return nil
}

// CreateShared writes a workspace-wide value only when key is absent and
// reports whether it did.
func (s *Store) CreateShared(ctx context.Context, key string, value any, sourceAgent, workspaceID string) (bool, error) {
	rec, err := s.sharedRecord(key, value, sourceAgent, workspaceID)
	if err != nil {
		return false, err
	}
	created, err := s.backend.CreateShared(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("create shared %s: %w", key, err)
	}
	if created {
		s.logger.Debug("Shared memory created", "key", key, "source_agent", sourceAgent, "workspace_id", workspaceID)
	}
	return created, nil
}

func (s *Store) sharedRecord(key string, value any, sourceAgent, workspaceID string) (core.SharedRecord, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return core.SharedRecord{}, err
	}
	raw, err := encode(value)
	if err != nil {
		return core.SharedRecord{}, err
	}
	now := s.now().UTC()
	return core.SharedRecord{
		Key:         key,
		WorkspaceID: workspaceID,
		Value:       raw,
		SourceAgent: sourceAgent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ReadShared returns the shared value, or nil when the key is absent.
func (s *Store) ReadShared(ctx context.Context, key, workspaceID string) (json.RawMessage, error) {
	rec, err := s.GetSharedRecord(ctx, key, workspaceID)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Value, nil
}

// GetSharedRecord returns the full shared record including attribution,
// or nil when the key is absent.
func (s *Store) GetSharedRecord(ctx context.Context, key, workspaceID string) (*core.SharedRecord, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	rec, err := s.backend.GetShared(ctx, workspaceID, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shared %s: %w", key, err)
	}
	return rec, nil
}

// GetAllShared returns every shared record of the workspace, most recently
// updated first.
func (s *Store) GetAllShared(ctx context.Context, workspaceID string) ([]core.SharedRecord, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	recs, err := s.backend.ListShared(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list shared: %w", err)
	}
	return recs, nil
}

// --- working ---

// SetWorking stores a process-local value for agent.
func (s *Store) SetWorking(agent, key string, value any) {
	s.working.set(agent, key, value, s.now())
}

// GetWorking returns the agent's working item and whether it exists.
func (s *Store) GetWorking(agent, key string) (WorkingItem, bool) {
	return s.working.get(agent, key)
}

// ForgetWorking removes one working item.
func (s *Store) ForgetWorking(agent, key string) {
	s.working.forget(agent, key)
}

// ClearWorking drops the agent's entire working memory.
func (s *Store) ClearWorking(agent string) {
	s.working.clear(agent)
}

// WorkingSnapshot returns a copy of the agent's working memory.
func (s *Store) WorkingSnapshot(agent string) map[string]WorkingItem {
	return s.working.snapshot(agent)
}
