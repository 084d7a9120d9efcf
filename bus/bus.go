package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/store/memstore"
)

const (
	// DefaultInboxLimit is used by GetMessages when limit <= 0.
	DefaultInboxLimit = 50
	// DefaultHistoryLimit is used by GetAllMessages when limit <= 0.
	DefaultHistoryLimit = 100
)

// Handler receives a delivered message. A returned error is logged and
// reported; it never affects other subscribers.
type Handler func(ctx context.Context, msg core.MeshMessage) error

// Options configures a Bus.
type Options struct {
	// Store persists messages. Defaults to an in-memory store.
	Store core.MessageStore
	// Logger receives delivery failures.
	Logger logging.Logger
	// Metrics records publish and delivery counters. Optional.
	Metrics *metrics.Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// DeliveryFailure describes one subscriber that could not handle a message.
type DeliveryFailure struct {
	Agent  string
	Err    error
	Panics bool
}

// DeliveryReport summarizes the fan-out of a published message.
type DeliveryReport struct {
	Delivered int
	Failures  []DeliveryFailure
}

// OK reports whether every matching subscriber handled the message.
func (r DeliveryReport) OK() bool { return len(r.Failures) == 0 }

type subscription struct {
	id      uint64
	agent   string
	types   map[core.MessageType]bool
	handler Handler
}

func (s *subscription) matches(msg core.MeshMessage) bool {
	if len(s.types) > 0 && !s.types[msg.Type] {
		return false
	}
	return msg.IsBroadcast() || msg.To == s.agent
}

// Bus is the mesh message bus. Methods are safe for concurrent use.
type Bus struct {
	store   core.MessageStore
	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription
}

// New creates a Bus.
func New(optFns ...func(o *Options)) *Bus {
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

	return &Bus{
		store:   opts.Store,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Publish persists a message and then delivers it to matching subscribers.
// An empty to broadcasts the message to every subscriber of msgType. If
// persistence fails no subscriber is invoked and the error is returned.
func (b *Bus) Publish(ctx context.Context, from, to string, msgType core.MessageType, payload any, workspaceID string) (*core.MeshMessage, DeliveryReport, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, DeliveryReport{}, err
	}
	if !msgType.Valid() {
		return nil, DeliveryReport{}, fmt.Errorf("%w: %q", core.ErrUnknownMessageType, msgType)
	}

	var raw json.RawMessage
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return nil, DeliveryReport{}, fmt.Errorf("encode payload: %w", err)
		}
	}

	msg := core.MeshMessage{
		ID:          core.NewID(),
		From:        from,
		To:          to,
		Type:        msgType,
		Payload:     raw,
		WorkspaceID: workspaceID,
		CreatedAt:   b.now().UTC(),
	}
	if err := b.store.AppendMessage(ctx, msg); err != nil {
		return nil, DeliveryReport{}, fmt.Errorf("persist message: %w", err)
	}
	b.metrics.MessagePublished(string(msgType))

	report := b.deliver(ctx, msg)
	return &msg, report, nil
}

// Broadcast publishes a message without a recipient.
func (b *Bus) Broadcast(ctx context.Context, from string, msgType core.MessageType, payload any, workspaceID string) (*core.MeshMessage, DeliveryReport, error) {
	return b.Publish(ctx, from, "", msgType, payload, workspaceID)
}

// Subscribe registers handler for messages addressed to agent, or broadcast,
// whose type is in types. An empty types list matches every type. The
// returned function removes exactly this registration and may be called
// more than once.
func (b *Bus) Subscribe(agent string, types []core.MessageType, handler Handler) func() {
	set := make(map[core.MessageType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, agent: agent, types: set, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of live registrations.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) matching(msg core.MeshMessage) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscription
	for _, s := range b.subs {
		if s.matches(msg) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) deliver(ctx context.Context, msg core.MeshMessage) DeliveryReport {
	var report DeliveryReport
	for _, sub := range b.matching(msg) {
		if f := b.invoke(ctx, sub, msg); f != nil {
			report.Failures = append(report.Failures, *f)
			continue
		}
		report.Delivered++
	}
	return report
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, msg core.MeshMessage) (failure *DeliveryFailure) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				"agent", sub.agent, "message_id", msg.ID, "message_type", string(msg.Type),
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			b.metrics.DeliveryFailed(string(msg.Type), "panic")
			failure = &DeliveryFailure{Agent: sub.agent, Err: fmt.Errorf("subscriber panic: %v", r), Panics: true}
		}
	}()

	if err := sub.handler(ctx, msg); err != nil {
		b.logger.Warn("Subscriber failed",
			"agent", sub.agent, "message_id", msg.ID, "message_type", string(msg.Type), "error", err.Error())
		b.metrics.DeliveryFailed(string(msg.Type), "error")
		return &DeliveryFailure{Agent: sub.agent, Err: err}
	}
	return nil
}

// GetMessages returns messages addressed to agent or broadcast in the
// workspace, newest first. limit <= 0 selects DefaultInboxLimit.
func (b *Bus) GetMessages(ctx context.Context, agent, workspaceID string, limit int) ([]core.MeshMessage, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	msgs, err := b.store.ListInbox(ctx, agent, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbox for %s: %w", agent, err)
	}
	return msgs, nil
}

// GetAllMessages returns every workspace message, newest first. limit <= 0
// selects DefaultHistoryLimit.
func (b *Bus) GetAllMessages(ctx context.Context, workspaceID string, limit int) ([]core.MeshMessage, error) {
	if err := core.RequireWorkspace(workspaceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := b.store.ListMessages(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
