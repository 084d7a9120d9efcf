package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/util"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/store/memstore"
)

// Options configures a Registry.
type Options struct {
	// Store persists the global catalog. Defaults to an in-memory store.
	Store core.AgentStore
	// Logger receives registration events.
	Logger logging.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// WorkspaceOverride adjusts the catalog seen by a single workspace.
// Disabled hides global agents by name; Profiles adds or shadows agents
// for that workspace only.
type WorkspaceOverride struct {
	Disabled []string
	Profiles []core.AgentProfile
}

// Registry is the two-tier agent catalog. Methods are safe for concurrent use.
type Registry struct {
	store  core.AgentStore
	logger logging.Logger
	now    func() time.Time

	mu        sync.RWMutex
	overrides map[string]WorkspaceOverride
}

// New creates a Registry.
func New(optFns ...func(o *Options)) *Registry {
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

	return &Registry{
		store:     opts.Store,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
		overrides: make(map[string]WorkspaceOverride),
	}
}

// ValidateProfile rejects profiles without a name or with a role outside
// the closed role set. The returned error matches core.ErrInvalidProfile.
func ValidateProfile(p core.AgentProfile) error {
	if p.Name == "" {
		return fmt.Errorf("%w: %w", core.ErrInvalidProfile, &util.ValidationError{Field: "name", Value: p.Name, Message: "must not be empty"})
	}
	if p.Name == core.AllAgents {
		return fmt.Errorf("%w: %w", core.ErrInvalidProfile, &util.ValidationError{Field: "name", Value: p.Name, Message: "is reserved"})
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: %w", core.ErrInvalidProfile, &util.ValidationError{Field: "role", Value: p.Role, Message: "unknown role"})
	}
	return nil
}

// RegisterAgent upserts the agent by name. The stored profile is replaced
// entirely; profile.Name is forced to name.
func (r *Registry) RegisterAgent(ctx context.Context, name string, profile core.AgentProfile) (*core.RegisteredAgent, error) {
	profile = profile.Clone()
	profile.Name = name
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	agent, err := r.store.UpsertAgent(ctx, core.RegisteredAgent{
		ID:        core.NewID(),
		Name:      name,
		Type:      profile.Role,
		Profile:   profile,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("register agent %q: %w", name, err)
	}

	r.logger.Debug("Agent registered", "agent", name, "role", string(profile.Role))
	return agent, nil
}

// GetAgent returns nil, nil when the agent is not registered.
func (r *Registry) GetAgent(ctx context.Context, name string) (*core.RegisteredAgent, error) {
	agent, err := r.store.GetAgent(ctx, name)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q: %w", name, err)
	}
	return agent, nil
}

// ListAgents returns the global catalog ordered by name.
func (r *Registry) ListAgents(ctx context.Context) ([]core.RegisteredAgent, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sortByName(agents)
	return agents, nil
}

// GetAgentsByType returns the agents with the given role, ordered by name.
func (r *Registry) GetAgentsByType(ctx context.Context, role core.Role) ([]core.RegisteredAgent, error) {
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.RegisteredAgent, 0, len(agents))
	for _, a := range agents {
		if a.Type == role {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetCompatibleAgents returns every other registered agent that name may
// team up with. Agents in name's Avoids list are always excluded, as is
// name itself. Unless PairsWellWith contains core.AllAgents, only agents it
// lists qualify. Unknown names yield an empty result.
func (r *Registry) GetCompatibleAgents(ctx context.Context, name string) ([]core.RegisteredAgent, error) {
	agents, err := r.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return compatible(name, agents), nil
}

// InitializeBuiltInAgents upserts every built-in profile. Calling it again
// is harmless.
func (r *Registry) InitializeBuiltInAgents(ctx context.Context) error {
	for _, p := range BuiltInProfiles() {
		if _, err := r.RegisterAgent(ctx, p.Name, p); err != nil {
			return err
		}
	}
	r.logger.Info("Built-in agents initialized", "count", len(BuiltInProfiles()))
	return nil
}

// SetWorkspaceOverride replaces the override of a workspace. Override
// profiles are validated; an empty override removes it.
func (r *Registry) SetWorkspaceOverride(workspaceID string, o WorkspaceOverride) error {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return err
	}
	for _, p := range o.Profiles {
		if err := ValidateProfile(p); err != nil {
			return err
		}
	}

	cp := WorkspaceOverride{Disabled: append([]string(nil), o.Disabled...)}
	for _, p := range o.Profiles {
		cp.Profiles = append(cp.Profiles, p.Clone())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(cp.Disabled) == 0 && len(cp.Profiles) == 0 {
		delete(r.overrides, workspaceID)
		return nil
	}
	r.overrides[workspaceID] = cp
	return nil
}

// ListWorkspaceAgents returns the catalog as seen by a workspace: the
// global agents minus disabled ones, with override profiles added or
// shadowing global entries of the same name. Ordered by name.
func (r *Registry) ListWorkspaceAgents(ctx context.Context, workspaceID string) ([]core.RegisteredAgent, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	global, err := r.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	o, ok := r.overrides[workspaceID]
	r.mu.RUnlock()
	if !ok {
		return global, nil
	}

	disabled := toSet(o.Disabled)
	byName := make(map[string]core.RegisteredAgent, len(global)+len(o.Profiles))
	for _, a := range global {
		if !disabled[a.Name] {
			byName[a.Name] = a
		}
	}
	for _, p := range o.Profiles {
		a := core.RegisteredAgent{Name: p.Name, Type: p.Role, Profile: p.Clone()}
		if existing, ok := byName[p.Name]; ok {
			a.ID, a.CreatedAt, a.UpdatedAt = existing.ID, existing.CreatedAt, existing.UpdatedAt
		}
		byName[p.Name] = a
	}

	out := make([]core.RegisteredAgent, 0, len(byName))
	for _, a := range byName {
		out = append(out, a)
	}
	sortByName(out)
	return out, nil
}

// GetCompatibleAgentsInWorkspace applies the compatibility rules of
// GetCompatibleAgents to the workspace view of the catalog.
func (r *Registry) GetCompatibleAgentsInWorkspace(ctx context.Context, name, workspaceID string) ([]core.RegisteredAgent, error) {
	agents, err := r.ListWorkspaceAgents(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return compatible(name, agents), nil
}

func compatible(name string, agents []core.RegisteredAgent) []core.RegisteredAgent {
	var self *core.RegisteredAgent
	for i := range agents {
		if agents[i].Name == name {
			self = &agents[i]
			break
		}
	}
	out := make([]core.RegisteredAgent, 0)
	if self == nil {
		return out
	}

	prefs := self.Profile.Collaboration
	avoids := toSet(prefs.Avoids)
	all := prefs.PairsWithAll()
	pairs := toSet(prefs.PairsWellWith)

	for _, a := range agents {
		if a.Name == name || avoids[a.Name] {
			continue
		}
		if !all && !pairs[a.Name] {
			continue
		}
		out = append(out, a)
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func sortByName(agents []core.RegisteredAgent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
}
