package core

// Repository aggregates every store a mesh needs. Each backend package
// (memstore, redisstore, sqlite) provides one implementation.
type Repository interface {
	AgentStore
	LongTermStore
	EpisodicStore
	SharedStore
	MessageStore
	TeamStore
	NegotiationStore
	ReasoningLogStore
}
