package guardrail

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/metrics"
)

// Rule names reported in Result.Violations and Result.Warnings.
const (
	RuleBindingAction     = "binding_action"
	RuleEmailDispatch     = "email_dispatch"
	RuleContactMutation   = "contact_mutation"
	RuleCampaignExecution = "campaign_execution"
	RuleMissingReasoning  = "missing_reasoning"
)

var descriptions = map[string]string{
	RuleBindingAction:     "binding actions are not allowed; recommendations must be advisory",
	RuleEmailDispatch:     "direct email dispatch is not allowed",
	RuleContactMutation:   "contact or segment mutation is not allowed",
	RuleCampaignExecution: "direct campaign or automation execution is not allowed",
	RuleMissingReasoning:  "high or urgent priority without payload reasoning",
}

// Describe returns the human readable description of a rule.
func Describe(rule string) string {
	if d, ok := descriptions[rule]; ok {
		return d
	}
	return rule
}

// vocabulary pairs verbs with the nouns they act on. An action type matches
// when it holds a verb and a noun in either order, or a single token that
// concatenates the two.
type vocabulary struct {
	verbs map[string]bool
	nouns map[string]bool
}

func newVocabulary(verbs, nouns []string) vocabulary {
	v := vocabulary{verbs: map[string]bool{}, nouns: map[string]bool{}}
	for _, w := range verbs {
		v.verbs[w] = true
	}
	for _, w := range nouns {
		v.nouns[w] = true
	}
	return v
}

func (v vocabulary) matches(tokens []string) bool {
	var verb, noun bool
	for _, tok := range tokens {
		verb = verb || v.verbs[tok]
		noun = noun || v.nouns[tok]
		if v.compound(tok) {
			return true
		}
	}
	return verb && noun
}

func (v vocabulary) compound(tok string) bool {
	for i := 1; i < len(tok); i++ {
		head, tail := tok[:i], tok[i:]
		if (v.verbs[head] && v.nouns[tail]) || (v.nouns[head] && v.verbs[tail]) {
			return true
		}
	}
	return false
}

var (
	emailDispatch = newVocabulary(
		[]string{"send", "sends", "sending", "dispatch", "dispatches", "dispatching", "blast", "batch", "bulk", "mass", "deliver", "delivery"},
		[]string{"email", "emails", "mail", "mails", "mailer", "mailout", "newsletter", "newsletters"},
	)
	contactMutation = newVocabulary(
		[]string{"update", "updating", "delete", "deleting", "remove", "removing", "modify", "mutate", "create", "creating", "add", "adding",
			"merge", "merging", "import", "importing", "edit", "change", "patch", "upsert", "insert", "overwrite", "purge", "unsubscribe", "tag", "untag"},
		[]string{"contact", "contacts", "segment", "segments", "subscriber", "subscribers", "list", "lists", "audience", "audiences", "recipient", "recipients"},
	)
	campaignExecution = newVocabulary(
		[]string{"execute", "executing", "launch", "launching", "start", "starting", "run", "running", "send", "sending", "trigger", "triggering",
			"activate", "activating", "fire", "deploy", "kickoff", "publish", "resume", "enable"},
		[]string{"campaign", "campaigns", "automation", "automations", "sequence", "sequences", "flow", "flows", "journey", "journeys", "drip", "workflow", "workflows"},
	)
)

// tokenize normalises an action type into lowercase words. Camel case,
// spaces, dots, dashes and underscores all separate words.
func tokenize(actionType string) []string {
	var b strings.Builder
	runes := []rune(actionType)
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte(' ')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

type rule struct {
	name  string
	match func(a core.Action, tokens []string) bool
}

var hardRules = []rule{
	{RuleBindingAction, func(a core.Action, _ []string) bool { return a.Binding }},
	{RuleEmailDispatch, func(a core.Action, tokens []string) bool {
		return emailDispatch.matches(tokens) || (a.Payload != nil && a.Payload.DispatchesEmail())
	}},
	{RuleContactMutation, func(_ core.Action, tokens []string) bool { return contactMutation.matches(tokens) }},
	{RuleCampaignExecution, func(_ core.Action, tokens []string) bool { return campaignExecution.matches(tokens) }},
}

// Result is the outcome of a guardrail check.
type Result struct {
	Action     core.Action
	Passed     bool
	Violations []string
	Warnings   []string
}

// Check evaluates every rule against the action. Passed is false when any
// hard rule is violated; warnings never block.
func Check(action core.Action) Result {
	tokens := tokenize(action.Type)
	res := Result{
		Action:     action,
		Violations: []string{},
		Warnings:   []string{},
	}
	for _, r := range hardRules {
		if r.match(action, tokens) {
			res.Violations = append(res.Violations, r.name)
		}
	}
	if action.Priority.Elevated() && (action.Payload == nil || strings.TrimSpace(action.Payload.ReasoningText()) == "") {
		res.Warnings = append(res.Warnings, RuleMissingReasoning)
	}
	res.Passed = len(res.Violations) == 0
	return res
}

// ViolationError is returned by Validate when an action breaks a hard rule.
type ViolationError struct {
	Action     core.Action
	Violations []string
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s (%s)", v, Describe(v)))
	}
	return fmt.Sprintf("guardrail rejected action %q for %s: %s", e.Action.Type, e.Action.TargetSystem, strings.Join(parts, "; "))
}

// Has reports whether the rule is among the violations.
func (e *ViolationError) Has(rule string) bool {
	for _, v := range e.Violations {
		if v == rule {
			return true
		}
	}
	return false
}

// Options configures a Guard.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Guard runs checks with logging and metrics attached.
type Guard struct {
	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a Guard.
func New(optFns ...func(o *Options)) *Guard {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Guard{
		logger:  logging.OrNoOp(opts.Logger),
		metrics: opts.Metrics,
	}
}

type guardrailLogger interface {
	LogGuardrailCheck(actionType string, passed bool, violations, warnings []string)
}

// Check evaluates the action and records the outcome.
func (g *Guard) Check(action core.Action) Result {
	res := Check(action)
	g.metrics.GuardrailChecked(res.Passed, res.Violations)
	if gl, ok := g.logger.(guardrailLogger); ok {
		gl.LogGuardrailCheck(action.Type, res.Passed, res.Violations, res.Warnings)
	}
	return res
}

// Validate returns a *ViolationError when the action fails the check.
// Warnings are logged and do not fail validation.
func (g *Guard) Validate(action core.Action) (Result, error) {
	res := g.Check(action)
	for _, w := range res.Warnings {
		g.logger.Warn("Guardrail warning", "action_type", action.Type, "rule", w, "detail", Describe(w))
	}
	if !res.Passed {
		return res, &ViolationError{Action: action, Violations: res.Violations}
	}
	return res, nil
}

// Validate checks the action without logging or metrics.
func Validate(action core.Action) error {
	res := Check(action)
	if !res.Passed {
		return &ViolationError{Action: action, Violations: res.Violations}
	}
	return nil
}
