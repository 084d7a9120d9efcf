package core

import (
	"context"
	"encoding/json"
	"time"
)

// Episode is one entry of an agent's append-only episodic log.
type Episode struct {
	ID          string          `json:"id"`
	AgentName   string          `json:"agent_name"`
	WorkspaceID string          `json:"workspace_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// SharedRecord is a workspace-wide key/value entry visible to every agent.
type SharedRecord struct {
	Key         string          `json:"key"`
	WorkspaceID string          `json:"workspace_id"`
	Value       json.RawMessage `json:"value"`
	SourceAgent string          `json:"source_agent"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LongTermStore persists private per-agent knowledge keyed by
// (agent, workspace, key). Get returns ErrNotFound when absent.
type LongTermStore interface {
	PutLongTerm(ctx context.Context, agent, workspaceID, key string, value json.RawMessage) error
	GetLongTerm(ctx context.Context, agent, workspaceID, key string) (json.RawMessage, error)
}

// EpisodicStore persists the append-only "what happened" log. List returns
// the newest episodes first.
type EpisodicStore interface {
	AppendEpisode(ctx context.Context, ep Episode) error
	ListEpisodes(ctx context.Context, agent, workspaceID string, limit int) ([]Episode, error)
}

// SharedStore persists workspace-wide shared memory. Put upserts by
// (workspace, key) preserving CreatedAt of an existing record. Create writes
// only when the key is absent and reports whether it did. List returns
// records most recently updated first. Get returns ErrNotFound when absent.
type SharedStore interface {
	PutShared(ctx context.Context, rec SharedRecord) error
	CreateShared(ctx context.Context, rec SharedRecord) (bool, error)
	GetShared(ctx context.Context, workspaceID, key string) (*SharedRecord, error)
	ListShared(ctx context.Context, workspaceID string) ([]SharedRecord, error)
}
