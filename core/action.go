package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Priority ranks the urgency of an action.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Elevated reports whether the priority is high or urgent.
func (p Priority) Elevated() bool { return p == PriorityHigh || p == PriorityUrgent }

// TargetSystem names the collaborator system an action is addressed to.
// Systems without a dedicated payload variant use PassthroughPayload.
type TargetSystem string

const (
	TargetCampaigns TargetSystem = "campaigns"
	TargetCreative  TargetSystem = "creative"
	TargetCoaching  TargetSystem = "coaching"
)

// ActionPayload is the tagged payload carried by an Action. The concrete
// variant is selected by the action's TargetSystem.
type ActionPayload interface {
	// ReasoningText returns the justification attached to the payload.
	ReasoningText() string
	// DispatchesEmail reports whether the payload asks for direct email delivery.
	DispatchesEmail() bool
	isActionPayload()
}

// CampaignPayload is the payload variant for the campaigns system.
type CampaignPayload struct {
	CampaignID string   `json:"campaign_id,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	SendEmail  bool     `json:"send_email,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	// Extra holds keys without a dedicated field.
	Extra map[string]any `json:"-"`
}

type campaignFields CampaignPayload

func (p CampaignPayload) ReasoningText() string { return p.Reasoning }

func (p CampaignPayload) DispatchesEmail() bool {
	return p.SendEmail || (p.Channel == "email" && len(p.Recipients) > 0) || emailFlagSet(p.Extra)
}

func (CampaignPayload) isActionPayload() {}

// MarshalJSON encodes the fields and Extra as one object.
func (p CampaignPayload) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(campaignFields(p), p.Extra)
}

// UnmarshalJSON decodes the fields and collects unknown keys into Extra.
func (p *CampaignPayload) UnmarshalJSON(data []byte) error {
	var f campaignFields
	extra, err := unmarshalWithExtra(data, &f)
	if err != nil {
		return err
	}
	*p = CampaignPayload(f)
	p.Extra = extra
	return nil
}

// CreativePayload is the payload variant for the creative studio.
type CreativePayload struct {
	AssetType string         `json:"asset_type,omitempty"`
	Brief     string         `json:"brief,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Extra     map[string]any `json:"-"`
}

type creativeFields CreativePayload

func (p CreativePayload) ReasoningText() string { return p.Reasoning }
func (p CreativePayload) DispatchesEmail() bool { return emailFlagSet(p.Extra) }
func (CreativePayload) isActionPayload()        {}

func (p CreativePayload) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(creativeFields(p), p.Extra)
}

func (p *CreativePayload) UnmarshalJSON(data []byte) error {
	var f creativeFields
	extra, err := unmarshalWithExtra(data, &f)
	if err != nil {
		return err
	}
	*p = CreativePayload(f)
	p.Extra = extra
	return nil
}

// CoachingPayload is the payload variant for the coaching engine.
type CoachingPayload struct {
	Topic      string         `json:"topic,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Extra      map[string]any `json:"-"`
}

type coachingFields CoachingPayload

func (p CoachingPayload) ReasoningText() string { return p.Reasoning }
func (p CoachingPayload) DispatchesEmail() bool { return emailFlagSet(p.Extra) }
func (CoachingPayload) isActionPayload()        {}

func (p CoachingPayload) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(coachingFields(p), p.Extra)
}

func (p *CoachingPayload) UnmarshalJSON(data []byte) error {
	var f coachingFields
	extra, err := unmarshalWithExtra(data, &f)
	if err != nil {
		return err
	}
	*p = CoachingPayload(f)
	p.Extra = extra
	return nil
}

// PassthroughPayload carries an untyped payload for systems without a
// dedicated variant.
type PassthroughPayload struct {
	Fields map[string]any
}

func (p PassthroughPayload) ReasoningText() string {
	s, _ := p.Fields["reasoning"].(string)
	return s
}

func (p PassthroughPayload) DispatchesEmail() bool { return emailFlagSet(p.Fields) }

func (PassthroughPayload) isActionPayload() {}

// MarshalJSON encodes the fields as a plain JSON object.
func (p PassthroughPayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// UnmarshalJSON decodes a plain JSON object into Fields.
func (p *PassthroughPayload) UnmarshalJSON(data []byte) error {
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Fields = fields
	return nil
}

// EmailDispatchKeys are the payload flags that request direct email delivery
// on any payload variant.
var EmailDispatchKeys = []string{"send_email", "dispatch_email", "email_dispatch"}

func emailFlagSet(fields map[string]any) bool {
	for _, k := range EmailDispatchKeys {
		if b, ok := fields[k].(bool); ok && b {
			return true
		}
	}
	return false
}

// marshalWithExtra encodes v and merges in extra keys that v does not set.
func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return raw, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

// unmarshalWithExtra decodes data into v and returns the keys v did not
// retain, or nil when there are none.
func unmarshalWithExtra(data []byte, v any) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	all := map[string]any{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	known, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	kept := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &kept); err != nil {
		return nil, err
	}
	for k := range kept {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// DecodePayload decodes raw into the payload variant registered for target.
// Empty or null input yields a nil payload.
func DecodePayload(target TargetSystem, raw json.RawMessage) (ActionPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch target {
	case TargetCampaigns:
		var p CampaignPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", target, err)
		}
		return p, nil
	case TargetCreative:
		var p CreativePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", target, err)
		}
		return p, nil
	case TargetCoaching:
		var p CoachingPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", target, err)
		}
		return p, nil
	default:
		var p PassthroughPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", target, err)
		}
		return p, nil
	}
}

// Action is the unit handled by the router. The guardrail layer refuses
// every action with Binding set.
type Action struct {
	Type         string
	TargetSystem TargetSystem
	Priority     Priority
	Binding      bool
	Payload      ActionPayload
	SourceAgent  string
}

type actionWire struct {
	Type         string          `json:"type"`
	TargetSystem TargetSystem    `json:"target_system"`
	Priority     Priority        `json:"priority"`
	Binding      bool            `json:"binding"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	SourceAgent  string          `json:"source_agent,omitempty"`
	RoutedAt     *time.Time      `json:"routed_at,omitempty"`
}

func (a Action) wire() (actionWire, error) {
	w := actionWire{
		Type:         a.Type,
		TargetSystem: a.TargetSystem,
		Priority:     a.Priority,
		Binding:      a.Binding,
		SourceAgent:  a.SourceAgent,
	}
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return w, fmt.Errorf("encode payload: %w", err)
		}
		w.Payload = raw
	}
	return w, nil
}

func (w actionWire) action() (Action, error) {
	payload, err := DecodePayload(w.TargetSystem, w.Payload)
	if err != nil {
		return Action{}, err
	}
	return Action{
		Type:         w.Type,
		TargetSystem: w.TargetSystem,
		Priority:     w.Priority,
		Binding:      w.Binding,
		Payload:      payload,
		SourceAgent:  w.SourceAgent,
	}, nil
}

// MarshalJSON encodes the action with its payload inlined.
func (a Action) MarshalJSON() ([]byte, error) {
	w, err := a.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the action selecting the payload variant from
// target_system.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := w.action()
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// RoutedRecommendation is an Action persisted to shared memory as an
// advisory recommendation. Its JSON form is the action plus routed_at.
type RoutedRecommendation struct {
	Key      string
	Action   Action
	RoutedAt time.Time
}

// MarshalJSON encodes the action fields plus routed_at. Key is not encoded;
// it is the shared memory key the value is stored under.
func (r RoutedRecommendation) MarshalJSON() ([]byte, error) {
	w, err := r.Action.wire()
	if err != nil {
		return nil, err
	}
	routedAt := r.RoutedAt
	w.RoutedAt = &routedAt
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored recommendation value.
func (r *RoutedRecommendation) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a, err := w.action()
	if err != nil {
		return err
	}
	r.Action = a
	if w.RoutedAt != nil {
		r.RoutedAt = *w.RoutedAt
	}
	return nil
}

// AckResponse is a collaborator's disposition of a recommendation.
type AckResponse string

const (
	AckAccepted AckResponse = "accepted"
	AckRejected AckResponse = "rejected"
	AckDeferred AckResponse = "deferred"
)

// Valid reports whether r is a known response.
func (r AckResponse) Valid() bool {
	return r == AckAccepted || r == AckRejected || r == AckDeferred
}

// Acknowledgement is the companion record written under "{key}:ack".
type Acknowledgement struct {
	Key            string       `json:"key"`
	TargetSystem   TargetSystem `json:"target_system,omitempty"`
	Response       AckResponse  `json:"response"`
	AcknowledgedAt time.Time    `json:"acknowledged_at"`
}
