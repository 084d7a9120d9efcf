package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hupe1980/meshos/core"
)

// Interface compliance (compile-time assertion)
var _ core.Repository = (*FailingRepository)(nil)

// ErrStoreDown is the error returned by FailingRepository by default.
var ErrStoreDown = errors.New("store unreachable")

// FailingRepository is a core.Repository whose every operation fails.
// It simulates an unreachable persistence layer.
type FailingRepository struct {
	Err error
}

func (f FailingRepository) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrStoreDown
}

func (f FailingRepository) UpsertAgent(context.Context, core.RegisteredAgent) (*core.RegisteredAgent, error) {
	return nil, f.err()
}

func (f FailingRepository) GetAgent(context.Context, string) (*core.RegisteredAgent, error) {
	return nil, f.err()
}

func (f FailingRepository) ListAgents(context.Context) ([]core.RegisteredAgent, error) {
	return nil, f.err()
}

func (f FailingRepository) PutLongTerm(context.Context, string, string, string, json.RawMessage) error {
	return f.err()
}

func (f FailingRepository) GetLongTerm(context.Context, string, string, string) (json.RawMessage, error) {
	return nil, f.err()
}

func (f FailingRepository) AppendEpisode(context.Context, core.Episode) error { return f.err() }

func (f FailingRepository) ListEpisodes(context.Context, string, string, int) ([]core.Episode, error) {
	return nil, f.err()
}

func (f FailingRepository) PutShared(context.Context, core.SharedRecord) error { return f.err() }

func (f FailingRepository) CreateShared(context.Context, core.SharedRecord) (bool, error) {
	return false, f.err()
}

func (f FailingRepository) GetShared(context.Context, string, string) (*core.SharedRecord, error) {
	return nil, f.err()
}

func (f FailingRepository) ListShared(context.Context, string) ([]core.SharedRecord, error) {
	return nil, f.err()
}

func (f FailingRepository) AppendMessage(context.Context, core.MeshMessage) error { return f.err() }

func (f FailingRepository) ListInbox(context.Context, string, string, int) ([]core.MeshMessage, error) {
	return nil, f.err()
}

func (f FailingRepository) ListMessages(context.Context, string, int) ([]core.MeshMessage, error) {
	return nil, f.err()
}

func (f FailingRepository) CreateTeam(context.Context, core.Team) error { return f.err() }

func (f FailingRepository) GetTeam(context.Context, string) (*core.Team, error) {
	return nil, f.err()
}

func (f FailingRepository) UpdateTeamState(context.Context, string, map[string]any) error {
	return f.err()
}

func (f FailingRepository) DeactivateTeam(context.Context, string, time.Time) error { return f.err() }

func (f FailingRepository) ListActiveTeams(context.Context, string) ([]core.Team, error) {
	return nil, f.err()
}

func (f FailingRepository) CreateNegotiation(context.Context, core.Negotiation) error {
	return f.err()
}

func (f FailingRepository) GetNegotiation(context.Context, string) (*core.Negotiation, error) {
	return nil, f.err()
}

func (f FailingRepository) AppendTurn(context.Context, string, core.Turn) error { return f.err() }

func (f FailingRepository) ResolveNegotiation(context.Context, string, core.Resolution) error {
	return f.err()
}

func (f FailingRepository) ListNegotiations(context.Context, string) ([]core.Negotiation, error) {
	return nil, f.err()
}

func (f FailingRepository) ListWorkspaceNegotiations(context.Context, string, int) ([]core.Negotiation, error) {
	return nil, f.err()
}

func (f FailingRepository) AppendReasoningLog(context.Context, core.ReasoningLog) error {
	return f.err()
}

func (f FailingRepository) ListReasoningLogs(context.Context, string, int) ([]core.ReasoningLog, error) {
	return nil, f.err()
}
