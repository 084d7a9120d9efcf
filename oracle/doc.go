// Package oracle provides an LLM-backed core.ReasoningOracle.
//
// The oracle renders a prompt template, sends it to a model.Model, pulls
// the first JSON object out of the reply and decodes it into a verdict or a
// cycle result. Malformed replies produce a *ParseError carrying a snippet
// of the offending text. The oracle itself never decides how failures are
// handled; the negotiation engine degrades them and the reasoner returns
// them.
package oracle
