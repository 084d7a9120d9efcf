package core

import (
	"context"
	"encoding/json"
	"time"
)

// MessageType is the closed set of message kinds exchanged on the bus.
type MessageType string

const (
	MessageInsight         MessageType = "insight"
	MessageRequest         MessageType = "request"
	MessageResponse        MessageType = "response"
	MessageProposal        MessageType = "proposal"
	MessageNegotiationTurn MessageType = "negotiation_turn"
	MessageAlert           MessageType = "alert"
	MessageRecommendation  MessageType = "recommendation"
	MessageStatusUpdate    MessageType = "status_update"
	MessageCoordination    MessageType = "coordination"
)

// MessageTypes lists every valid MessageType.
var MessageTypes = []MessageType{
	MessageInsight, MessageRequest, MessageResponse, MessageProposal, MessageNegotiationTurn,
	MessageAlert, MessageRecommendation, MessageStatusUpdate, MessageCoordination,
}

// Valid reports whether t belongs to the closed message type set.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MeshMessage is an immutable, durably persisted bus message. An empty To
// marks a broadcast.
type MeshMessage struct {
	ID          string          `json:"id"`
	From        string          `json:"agent_from"`
	To          string          `json:"agent_to,omitempty"`
	Type        MessageType     `json:"message_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	WorkspaceID string          `json:"workspace_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsBroadcast reports whether the message has no explicit recipient.
func (m MeshMessage) IsBroadcast() bool { return m.To == "" }

// DecodePayload unmarshals the payload into out.
func (m MeshMessage) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, out)
}

// MessageStore persists bus messages.
//
// ListInbox returns messages addressed to agent or broadcast, newest first.
// ListMessages returns all workspace messages, newest first.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg MeshMessage) error
	ListInbox(ctx context.Context, agent, workspaceID string, limit int) ([]MeshMessage, error)
	ListMessages(ctx context.Context, workspaceID string, limit int) ([]MeshMessage, error)
}
