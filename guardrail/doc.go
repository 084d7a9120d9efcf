// Package guardrail implements the hard veto layer in front of the action
// router. The mesh only ever emits advisory recommendations, so any action
// that is binding, dispatches email, mutates contacts or segments, or
// starts a campaign or automation is rejected outright. Elevated priority
// without a stated reason produces a warning but still passes.
package guardrail
