package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
)

// Interface compliance (compile-time assertion)
var _ core.Repository = (*Store)(nil)

// maxTxRetries bounds optimistic WATCH retries before giving up.
const maxTxRetries = 32

// Options configures a Store.
type Options struct {
	Logger logging.Logger
}

// Store provides instance-scoped Redis persistence for the mesh.
// It is safe for concurrent use.
type Store struct {
	rdb      *redis.Client
	instance string
	logger   logging.Logger
}

// New creates a store connected with redisOpts. instanceName namespaces every
// key and must not be empty.
func New(redisOpts *redis.Options, instanceName string, optFns ...func(o *Options)) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return NewFromClient(redis.NewClient(redisOpts), instanceName, optFns...)
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client, instanceName string, optFns ...func(o *Options)) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{rdb: rdb, instance: instanceName, logger: logging.OrNoOp(opts.Logger)}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// watch runs fn in an optimistic transaction over keys, retrying when a
// watched key changed underneath it.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction on %v: retries exhausted", keys)
}

func stop(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

func decodeList[T any](items []string) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// --- agents ---

// UpsertAgent inserts or fully replaces the agent, keeping the original ID
// and CreatedAt.
func (s *Store) UpsertAgent(ctx context.Context, agent core.RegisteredAgent) (*core.RegisteredAgent, error) {
	key := AgentsKey(s.instance)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, agent.Name).Result()
		switch {
		case err == nil:
			var existing core.RegisteredAgent
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to deserialize agent: %w", err)
			}
			agent.ID = existing.ID
			agent.CreatedAt = existing.CreatedAt
		case !errors.Is(err, redis.Nil):
			return err
		}
		data, err := json.Marshal(agent)
		if err != nil {
			return fmt.Errorf("failed to serialize agent: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, agent.Name, data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert agent %q: %w", agent.Name, err)
	}
	return &agent, nil
}

func (s *Store) GetAgent(ctx context.Context, name string) (*core.RegisteredAgent, error) {
	raw, err := s.rdb.HGet(ctx, AgentsKey(s.instance), name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent from Redis: %w", err)
	}
	var a core.RegisteredAgent
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to deserialize agent: %w", err)
	}
	return &a, nil
}

// ListAgents returns every agent ordered by name.
func (s *Store) ListAgents(ctx context.Context) ([]core.RegisteredAgent, error) {
	all, err := s.rdb.HGetAll(ctx, AgentsKey(s.instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agents from Redis: %w", err)
	}
	out := make([]core.RegisteredAgent, 0, len(all))
	for _, raw := range all {
		var a core.RegisteredAgent
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to deserialize agent: %w", err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- long-term memory ---

func (s *Store) PutLongTerm(ctx context.Context, agent, workspaceID, key string, value json.RawMessage) error {
	if err := s.rdb.HSet(ctx, LongTermKey(s.instance, workspaceID, agent), key, []byte(value)).Err(); err != nil {
		return fmt.Errorf("failed to write long-term memory: %w", err)
	}
	return nil
}

func (s *Store) GetLongTerm(ctx context.Context, agent, workspaceID, key string) (json.RawMessage, error) {
	raw, err := s.rdb.HGet(ctx, LongTermKey(s.instance, workspaceID, agent), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read long-term memory: %w", err)
	}
	return json.RawMessage(raw), nil
}

// --- episodic memory ---

func (s *Store) AppendEpisode(ctx context.Context, ep core.Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to serialize episode: %w", err)
	}
	if err := s.rdb.LPush(ctx, EpisodesKey(s.instance, ep.WorkspaceID, ep.AgentName), data).Err(); err != nil {
		return fmt.Errorf("failed to append episode: %w", err)
	}
	return nil
}

// ListEpisodes returns the newest episodes first.
func (s *Store) ListEpisodes(ctx context.Context, agent, workspaceID string, limit int) ([]core.Episode, error) {
	items, err := s.rdb.LRange(ctx, EpisodesKey(s.instance, workspaceID, agent), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read episodes: %w", err)
	}
	eps, err := decodeList[core.Episode](items)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize episode: %w", err)
	}
	return eps, nil
}

// --- shared memory ---

// PutShared upserts the record and re-scores it in the update index.
func (s *Store) PutShared(ctx context.Context, rec core.SharedRecord) error {
	hkey := SharedKey(s.instance, rec.WorkspaceID)
	zkey := SharedIndexKey(s.instance, rec.WorkspaceID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, hkey, rec.Key).Result()
		switch {
		case err == nil:
			var existing core.SharedRecord
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to deserialize shared record: %w", err)
			}
			rec.CreatedAt = existing.CreatedAt
		case !errors.Is(err, redis.Nil):
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize shared record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hkey, rec.Key, data)
			pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(rec.UpdatedAt.UnixMicro()), Member: rec.Key})
			return nil
		})
		return err
	}, hkey)
	if err != nil {
		return fmt.Errorf("failed to write shared record %q: %w", rec.Key, err)
	}
	return nil
}

// CreateShared sets the hash field with HSETNX and indexes it only when the
// field was new.
func (s *Store) CreateShared(ctx context.Context, rec core.SharedRecord) (bool, error) {
	hkey := SharedKey(s.instance, rec.WorkspaceID)
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to serialize shared record: %w", err)
	}
	created, err := s.rdb.HSetNX(ctx, hkey, rec.Key, data).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create shared record %q: %w", rec.Key, err)
	}
	if !created {
		return false, nil
	}
	zkey := SharedIndexKey(s.instance, rec.WorkspaceID)
	if err := s.rdb.ZAdd(ctx, zkey, redis.Z{Score: float64(rec.UpdatedAt.UnixMicro()), Member: rec.Key}).Err(); err != nil {
		return true, fmt.Errorf("failed to index shared record %q: %w", rec.Key, err)
	}
	return true, nil
}

func (s *Store) GetShared(ctx context.Context, workspaceID, key string) (*core.SharedRecord, error) {
	raw, err := s.rdb.HGet(ctx, SharedKey(s.instance, workspaceID), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shared record: %w", err)
	}
	var rec core.SharedRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize shared record: %w", err)
	}
	return &rec, nil
}

// ListShared returns records most recently updated first.
func (s *Store) ListShared(ctx context.Context, workspaceID string) ([]core.SharedRecord, error) {
	keys, err := s.rdb.ZRevRange(ctx, SharedIndexKey(s.instance, workspaceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read shared index: %w", err)
	}
	out := make([]core.SharedRecord, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.rdb.HMGet(ctx, SharedKey(s.instance, workspaceID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read shared records: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec core.SharedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to deserialize shared record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- messages ---

// storedMessage pairs a message with a store-wide sequence number so the
// direct and broadcast lists can be merged in append order.
type storedMessage struct {
	Seq     int64            `json:"seq"`
	Message core.MeshMessage `json:"message"`
}

// AppendMessage persists the message in the workspace log and the recipient
// index, then publishes it on the workspace event channel.
func (s *Store) AppendMessage(ctx context.Context, msg core.MeshMessage) error {
	seq, err := s.rdb.Incr(ctx, MessageSeqKey(s.instance)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate message sequence: %w", err)
	}
	data, err := json.Marshal(storedMessage{Seq: seq, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	indexKey := BroadcastsKey(s.instance, msg.WorkspaceID)
	if !msg.IsBroadcast() {
		indexKey = InboxKey(s.instance, msg.WorkspaceID, msg.To)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, MessagesKey(s.instance, msg.WorkspaceID), data)
		pipe.LPush(ctx, indexKey, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Redis: %w", err)
	}

	event, err := json.Marshal(msg)
	if err == nil {
		err = s.rdb.Publish(ctx, MessageEventsChannel(s.instance, msg.WorkspaceID), event).Err()
	}
	if err != nil {
		s.logger.Warn("failed to publish message event", "message_id", msg.ID, "error", err)
	}
	return nil
}

// ListInbox merges the agent's direct messages with broadcasts, newest first.
func (s *Store) ListInbox(ctx context.Context, agent, workspaceID string, limit int) ([]core.MeshMessage, error) {
	direct, err := s.rdb.LRange(ctx, InboxKey(s.instance, workspaceID, agent), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	broadcast, err := s.rdb.LRange(ctx, BroadcastsKey(s.instance, workspaceID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read broadcasts: %w", err)
	}
	stored, err := decodeList[storedMessage](append(direct, broadcast...))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq > stored[j].Seq })
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	out := make([]core.MeshMessage, len(stored))
	for i, sm := range stored {
		out[i] = sm.Message
	}
	return out, nil
}

// ListMessages returns all workspace messages, newest first.
func (s *Store) ListMessages(ctx context.Context, workspaceID string, limit int) ([]core.MeshMessage, error) {
	items, err := s.rdb.LRange(ctx, MessagesKey(s.instance, workspaceID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	stored, err := decodeList[storedMessage](items)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	out := make([]core.MeshMessage, len(stored))
	for i, sm := range stored {
		out[i] = sm.Message
	}
	return out, nil
}

// SubscribeMessages streams messages appended to the workspace by any
// process sharing this Redis instance. The returned close func ends the
// subscription and closes the channel.
func (s *Store) SubscribeMessages(ctx context.Context, workspaceID string) (<-chan core.MeshMessage, func() error, error) {
	sub := s.rdb.Subscribe(ctx, MessageEventsChannel(s.instance, workspaceID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to message events: %w", err)
	}

	out := make(chan core.MeshMessage, 16)
	go func() {
		defer close(out)
		for m := range sub.Channel() {
			var msg core.MeshMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.logger.Warn("dropping malformed message event", "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close, nil
}

// --- teams ---

func (s *Store) CreateTeam(ctx context.Context, team core.Team) error {
	data, err := json.Marshal(team)
	if err != nil {
		return fmt.Errorf("failed to serialize team: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TeamKey(s.instance, team.ID), data, 0)
		if team.Active {
			pipe.ZAdd(ctx, ActiveTeamsKey(s.instance, team.WorkspaceID), redis.Z{
				Score: float64(team.CreatedAt.UnixMicro()), Member: team.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write team to Redis: %w", err)
	}
	return nil
}

func getTeam(ctx context.Context, c redis.Cmdable, key string) (*core.Team, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read team from Redis: %w", err)
	}
	var t core.Team
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to deserialize team: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (*core.Team, error) {
	return getTeam(ctx, s.rdb, TeamKey(s.instance, id))
}

// UpdateTeamState replaces the state of an active team under WATCH.
func (s *Store) UpdateTeamState(ctx context.Context, id string, state map[string]any) error {
	key := TeamKey(s.instance, id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		t, err := getTeam(ctx, tx, key)
		if err != nil {
			return err
		}
		if !t.Active {
			return core.ErrTeamDissolved
		}
		t.State = state
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to serialize team: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// DeactivateTeam marks the team inactive and drops it from the active index.
// Already inactive teams are left untouched.
func (s *Store) DeactivateTeam(ctx context.Context, id string, at time.Time) error {
	key := TeamKey(s.instance, id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		t, err := getTeam(ctx, tx, key)
		if err != nil {
			return err
		}
		if !t.Active {
			return nil
		}
		t.Active = false
		t.DissolvedAt = &at
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to serialize team: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZRem(ctx, ActiveTeamsKey(s.instance, t.WorkspaceID), t.ID)
			return nil
		})
		return err
	}, key)
}

// ListActiveTeams returns the workspace's active teams, newest first.
func (s *Store) ListActiveTeams(ctx context.Context, workspaceID string) ([]core.Team, error) {
	ids, err := s.rdb.ZRevRange(ctx, ActiveTeamsKey(s.instance, workspaceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active teams: %w", err)
	}
	out := make([]core.Team, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = TeamKey(s.instance, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read teams: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t core.Team
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to deserialize team: %w", err)
		}
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- negotiations ---

func getNegotiationHeader(ctx context.Context, c redis.Cmdable, key string) (*core.Negotiation, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation from Redis: %w", err)
	}
	var n core.Negotiation
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("failed to deserialize negotiation: %w", err)
	}
	return &n, nil
}

// CreateNegotiation stores the header and any initial turns.
func (s *Store) CreateNegotiation(ctx context.Context, n core.Negotiation) error {
	turns := n.Conversation
	n.Conversation = nil
	header, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize negotiation: %w", err)
	}
	encoded := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to serialize turn: %w", err)
		}
		encoded = append(encoded, data)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, NegotiationKey(s.instance, n.ID), header, 0)
		pipe.Del(ctx, TurnsKey(s.instance, n.ID))
		if len(encoded) > 0 {
			pipe.RPush(ctx, TurnsKey(s.instance, n.ID), encoded...)
		}
		pipe.RPush(ctx, TeamNegotiationsKey(s.instance, n.TeamID), n.ID)
		pipe.LPush(ctx, WorkspaceNegotiationsKey(s.instance, n.WorkspaceID), n.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write negotiation to Redis: %w", err)
	}
	return nil
}

func (s *Store) GetNegotiation(ctx context.Context, id string) (*core.Negotiation, error) {
	n, err := getNegotiationHeader(ctx, s.rdb, NegotiationKey(s.instance, id))
	if err != nil {
		return nil, err
	}
	items, err := s.rdb.LRange(ctx, TurnsKey(s.instance, id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation turns: %w", err)
	}
	turns, err := decodeList[core.Turn](items)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize turn: %w", err)
	}
	n.Conversation = turns
	return n, nil
}

// AppendTurn pushes the turn with RPUSH while watching the header, so a
// concurrent resolution aborts the append instead of racing it.
func (s *Store) AppendTurn(ctx context.Context, negotiationID string, turn core.Turn) error {
	key := NegotiationKey(s.instance, negotiationID)
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to serialize turn: %w", err)
	}
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := getNegotiationHeader(ctx, tx, key)
		if err != nil {
			return err
		}
		if n.Status.Terminal() {
			return core.ErrNegotiationResolved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, TurnsKey(s.instance, negotiationID), data)
			return nil
		})
		return err
	}, key)
}

func (s *Store) ResolveNegotiation(ctx context.Context, negotiationID string, res core.Resolution) error {
	key := NegotiationKey(s.instance, negotiationID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := getNegotiationHeader(ctx, tx, key)
		if err != nil {
			return err
		}
		if res.RequireOpen && n.Status.Terminal() {
			return core.ErrNegotiationResolved
		}
		n.Status = res.Status
		n.Outcome = res.Outcome
		at := res.ResolvedAt
		n.ResolvedAt = &at
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to serialize negotiation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// ListNegotiations returns the team's negotiations oldest first.
func (s *Store) ListNegotiations(ctx context.Context, teamID string) ([]core.Negotiation, error) {
	ids, err := s.rdb.LRange(ctx, TeamNegotiationsKey(s.instance, teamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read team negotiations: %w", err)
	}
	return s.negotiations(ctx, ids)
}

// ListWorkspaceNegotiations returns the workspace's negotiations newest first.
func (s *Store) ListWorkspaceNegotiations(ctx context.Context, workspaceID string, limit int) ([]core.Negotiation, error) {
	ids, err := s.rdb.LRange(ctx, WorkspaceNegotiationsKey(s.instance, workspaceID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace negotiations: %w", err)
	}
	return s.negotiations(ctx, ids)
}

func (s *Store) negotiations(ctx context.Context, ids []string) ([]core.Negotiation, error) {
	out := make([]core.Negotiation, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNegotiation(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// --- reasoning logs ---

func (s *Store) AppendReasoningLog(ctx context.Context, log core.ReasoningLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to serialize reasoning log: %w", err)
	}
	if err := s.rdb.LPush(ctx, ReasoningLogsKey(s.instance, log.WorkspaceID), data).Err(); err != nil {
		return fmt.Errorf("failed to append reasoning log: %w", err)
	}
	return nil
}

// ListReasoningLogs returns the newest logs first.
func (s *Store) ListReasoningLogs(ctx context.Context, workspaceID string, limit int) ([]core.ReasoningLog, error) {
	items, err := s.rdb.LRange(ctx, ReasoningLogsKey(s.instance, workspaceID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read reasoning logs: %w", err)
	}
	logs, err := decodeList[core.ReasoningLog](items)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize reasoning log: %w", err)
	}
	return logs, nil
}
