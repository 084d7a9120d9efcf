package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/util"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/model"
)

// Interface compliance (compile-time assertion)
var _ core.ReasoningOracle = (*Oracle)(nil)

// Operation names used in logs, metrics and errors.
const (
	OpNegotiate = "negotiate"
	OpReason    = "reason"
)

const snippetLen = 200

// ParseError reports a model reply that could not be decoded.
type ParseError struct {
	Op      string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("oracle %s: unparseable response %q: %v", e.Op, e.Snippet, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options configures an Oracle.
type Options struct {
	// Instructions is the system prompt.
	Instructions string
	// NegotiationPrompt and ReasoningPrompt are text/template sources.
	NegotiationPrompt string
	ReasoningPrompt   string
	// Timeout bounds each model call. Zero leaves the caller's context alone.
	Timeout time.Duration
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Oracle implements core.ReasoningOracle on top of a model.Model.
type Oracle struct {
	model             model.Model
	instructions      string
	negotiationPrompt string
	reasoningPrompt   string
	timeout           time.Duration
	logger            logging.Logger
	metrics           *metrics.Metrics
}

// New creates an Oracle backed by m.
func New(m model.Model, optFns ...func(o *Options)) *Oracle {
	opts := Options{
		Instructions:      DefaultInstructions,
		NegotiationPrompt: DefaultNegotiationPrompt,
		ReasoningPrompt:   DefaultReasoningPrompt,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Oracle{
		model:             m,
		instructions:      opts.Instructions,
		negotiationPrompt: opts.NegotiationPrompt,
		reasoningPrompt:   opts.ReasoningPrompt,
		timeout:           opts.Timeout,
		logger:            logging.OrNoOp(opts.Logger),
		metrics:           opts.Metrics,
	}
}

type verdictWire struct {
	Converged bool            `json:"converged"`
	Outcome   json.RawMessage `json:"outcome"`
	Reasoning string          `json:"reasoning"`
	Blockers  []string        `json:"blockers"`
}

// Negotiate asks the model whether the negotiation converged.
func (o *Oracle) Negotiate(ctx context.Context, brief core.NegotiationBrief) (core.Verdict, error) {
	prompt, err := util.RenderTemplate(o.negotiationPrompt, map[string]any{
		"Topic":            brief.Topic,
		"InitialPositions": brief.InitialPositions,
		"Conversation":     brief.Conversation,
	})
	if err != nil {
		return core.Verdict{}, fmt.Errorf("oracle %s: %w", OpNegotiate, err)
	}

	var w verdictWire
	if err := o.call(ctx, OpNegotiate, prompt, &w); err != nil {
		return core.Verdict{}, err
	}

	v := core.Verdict{
		Converged: w.Converged,
		Reasoning: w.Reasoning,
		Blockers:  w.Blockers,
	}
	if len(w.Outcome) > 0 && string(w.Outcome) != "null" {
		v.Outcome = w.Outcome
	}
	return v, nil
}

// Reason runs one reasoning cycle over the brief's context.
func (o *Oracle) Reason(ctx context.Context, brief core.ReasoningBrief) (core.CycleResult, error) {
	prompt, err := util.RenderTemplate(o.reasoningPrompt, map[string]any{
		"CycleType": string(brief.CycleType),
		"Context":   brief.Context,
	})
	if err != nil {
		return core.CycleResult{}, fmt.Errorf("oracle %s: %w", OpReason, err)
	}

	var res core.CycleResult
	if err := o.call(ctx, OpReason, prompt, &res); err != nil {
		return core.CycleResult{}, err
	}
	if err := res.Validate(); err != nil {
		return core.CycleResult{}, &ParseError{Op: OpReason, Snippet: util.Snippet(res.Reasoning, snippetLen), Err: err}
	}
	res.Normalize()
	return res, nil
}

type oracleLogger interface {
	LogOracleCall(op, model string, dur time.Duration, err error)
}

func (o *Oracle) call(ctx context.Context, op, prompt string, out any) (err error) {
	if o.model == nil {
		return fmt.Errorf("oracle %s: no model configured", op)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	outcome := "success"
	defer func() {
		d := time.Since(start)
		o.metrics.OracleCall(op, outcome, d)
		if ol, ok := o.logger.(oracleLogger); ok {
			ol.LogOracleCall(op, o.model.Info().Name, d, err)
		}
	}()

	text, usage, err := model.Collect(ctx, o.model, model.UserRequest(o.instructions, prompt))
	if err != nil {
		outcome = "error"
		return fmt.Errorf("oracle %s: %w", op, err)
	}
	if usage != nil {
		o.logger.Debug("Oracle token usage", "operation", op, "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	}

	obj, err := util.ExtractJSONObject(text)
	if err != nil {
		outcome = "parse_error"
		return &ParseError{Op: op, Snippet: util.Snippet(text, snippetLen), Err: err}
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		outcome = "parse_error"
		return &ParseError{Op: op, Snippet: util.Snippet(obj, snippetLen), Err: err}
	}
	return nil
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
