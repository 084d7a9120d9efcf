// Package router turns validated actions into advisory recommendations.
//
// RouteAction always runs the guardrails before writing anything. Accepted
// actions are stored in shared memory under
// "recommendation:{target_system}:{unix_millis}" for collaborator systems to
// poll. Collaborators answer through AcknowledgeRecommendation, which
// writes a companion "{key}:ack" record. Nothing in this package calls a
// collaborator system directly.
package router
