package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/meshos/core"
)

// Interface compliance (compile-time assertion)
var _ core.ReasoningOracle = (*StubOracle)(nil)

// StubOracle is a scriptable core.ReasoningOracle. Zero value answers every
// negotiation with a non-converged verdict and every cycle with empty results.
type StubOracle struct {
	mu sync.Mutex

	NegotiateFn func(ctx context.Context, brief core.NegotiationBrief) (core.Verdict, error)
	ReasonFn    func(ctx context.Context, brief core.ReasoningBrief) (core.CycleResult, error)

	negotiations []core.NegotiationBrief
	cycles       []core.ReasoningBrief
}

// Negotiate records the brief and delegates to NegotiateFn.
func (o *StubOracle) Negotiate(ctx context.Context, brief core.NegotiationBrief) (core.Verdict, error) {
	o.mu.Lock()
	o.negotiations = append(o.negotiations, brief)
	fn := o.NegotiateFn
	o.mu.Unlock()
	if fn == nil {
		return core.Verdict{Converged: false, Reasoning: "no verdict scripted"}, nil
	}
	return fn(ctx, brief)
}

// Reason records the brief and delegates to ReasonFn.
func (o *StubOracle) Reason(ctx context.Context, brief core.ReasoningBrief) (core.CycleResult, error) {
	o.mu.Lock()
	o.cycles = append(o.cycles, brief)
	fn := o.ReasonFn
	o.mu.Unlock()
	if fn == nil {
		return core.CycleResult{}, nil
	}
	return fn(ctx, brief)
}

// NegotiationBriefs returns every negotiation brief received.
func (o *StubOracle) NegotiationBriefs() []core.NegotiationBrief {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.NegotiationBrief(nil), o.negotiations...)
}

// ReasoningBriefs returns every reasoning brief received.
func (o *StubOracle) ReasoningBriefs() []core.ReasoningBrief {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.ReasoningBrief(nil), o.cycles...)
}
