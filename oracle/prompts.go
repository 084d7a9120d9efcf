package oracle

// DefaultInstructions is the system prompt sent with every oracle request.
const DefaultInstructions = `You are the reasoning oracle of an agent mesh that coordinates marketing and coaching systems for independent music teams.
You never take actions yourself. You only judge and recommend.
Reply with a single JSON object and nothing else.`

// DefaultNegotiationPrompt renders a negotiation brief. Available fields:
// .Topic, .InitialPositions, .Conversation.
const DefaultNegotiationPrompt = `Decide whether the following negotiation has converged.

Topic: {{.Topic}}

Initial positions:
{{json .InitialPositions}}

Conversation (oldest first):
{{range .Conversation}}- {{.Agent}}: {{.Message}}{{if .Position}} (position: {{json .Position}}){{end}}
{{else}}(no turns yet)
{{end}}
Respond with JSON:
{"converged": true|false, "outcome": <consensus position when converged, otherwise null>, "reasoning": "<why>", "blockers": ["<open issue>", ...]}`

// DefaultReasoningPrompt renders a reasoning brief. Available fields:
// .CycleType, .Context.
const DefaultReasoningPrompt = `Run a reasoning cycle of type {{.CycleType}} over the current state of the collaborator systems.
{{if eq .CycleType "opportunity"}}Focus on opportunities worth acting on.{{else if eq .CycleType "conflict"}}Focus on conflicts between agents or systems.{{else}}Give a routine health check across all systems.{{end}}

Context snapshot:
{{json .Context}}

Systems marked "degraded" or "placeholder" have no reliable data; do not infer from them.
Every recommendation must be advisory (binding=false) and must not send email, mutate contacts or segments, or start campaigns or automations.

Respond with JSON:
{"opportunities": [{"type": "", "source": "", "confidence": 0.0, "description": "", "recommendations": [""], "context": {}}],
 "conflicts": [{"type": "", "agents": [""], "positions": {}, "severity": "low|medium|high"}],
 "recommendations": [{"type": "", "target_system": "", "priority": "low|medium|high|urgent", "description": "", "reasoning": "", "source_agent": ""}],
 "reasoning": "<summary>"}`
