package redisstore

import "fmt"

// Redis key pattern helpers
//
// Key pattern: meshos:{instance}:{entity}[:{id}]
// Workspace scoped: meshos:{instance}:ws:{workspace}:{entity}[:{id}]
// Channel pattern: meshos:{instance}:ws:{workspace}:message_events

// AgentsKey returns the hash holding the agent catalog (field = agent name).
func AgentsKey(instance string) string {
	return fmt.Sprintf("meshos:%s:agents", instance)
}

// LongTermKey returns the hash of an agent's long-term memory in a workspace.
func LongTermKey(instance, workspaceID, agent string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:ltm:%s", instance, workspaceID, agent)
}

// EpisodesKey returns the list of an agent's episodes, newest at the head.
func EpisodesKey(instance, workspaceID, agent string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:episodes:%s", instance, workspaceID, agent)
}

// SharedKey returns the hash of shared memory records (field = record key).
func SharedKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:shared", instance, workspaceID)
}

// SharedIndexKey returns the ZSET ordering shared records by update time.
func SharedIndexKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:shared_index", instance, workspaceID)
}

// MessagesKey returns the list of every workspace message, newest at the head.
func MessagesKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:messages", instance, workspaceID)
}

// InboxKey returns the list of messages sent directly to agent.
func InboxKey(instance, workspaceID, agent string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:inbox:%s", instance, workspaceID, agent)
}

// BroadcastsKey returns the list of broadcast messages.
func BroadcastsKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:broadcasts", instance, workspaceID)
}

// MessageSeqKey returns the counter used to order messages across lists.
func MessageSeqKey(instance string) string {
	return fmt.Sprintf("meshos:%s:message_seq", instance)
}

// MessageEventsChannel returns the Pub/Sub channel carrying appended messages.
func MessageEventsChannel(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:message_events", instance, workspaceID)
}

// TeamKey returns the key of a serialized team.
func TeamKey(instance, teamID string) string {
	return fmt.Sprintf("meshos:%s:team:%s", instance, teamID)
}

// ActiveTeamsKey returns the ZSET of active team ids scored by creation time.
func ActiveTeamsKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:active_teams", instance, workspaceID)
}

// NegotiationKey returns the key of a negotiation header (everything but turns).
func NegotiationKey(instance, negotiationID string) string {
	return fmt.Sprintf("meshos:%s:negotiation:%s", instance, negotiationID)
}

// TurnsKey returns the list of a negotiation's turns in append order.
func TurnsKey(instance, negotiationID string) string {
	return fmt.Sprintf("meshos:%s:negotiation:%s:turns", instance, negotiationID)
}

// TeamNegotiationsKey returns the list of negotiation ids started for a team.
func TeamNegotiationsKey(instance, teamID string) string {
	return fmt.Sprintf("meshos:%s:team:%s:negotiations", instance, teamID)
}

// WorkspaceNegotiationsKey returns the list of negotiation ids started in a
// workspace, newest at the head.
func WorkspaceNegotiationsKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:negotiations", instance, workspaceID)
}

// ReasoningLogsKey returns the list of reasoning logs, newest at the head.
func ReasoningLogsKey(instance, workspaceID string) string {
	return fmt.Sprintf("meshos:%s:ws:%s:reasoning_logs", instance, workspaceID)
}
