// Package metrics defines the Prometheus collectors shared by mesh
// components. A nil *Metrics is valid and records nothing, so components
// take metrics as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshos"

// Metrics bundles every mesh collector.
type Metrics struct {
	messagesPublished     *prometheus.CounterVec
	deliveryFailures      *prometheus.CounterVec
	guardrailChecks       *prometheus.CounterVec
	guardrailViolations   *prometheus.CounterVec
	recommendationsRouted *prometheus.CounterVec
	acknowledgements      *prometheus.CounterVec
	oracleCalls           *prometheus.CounterVec
	oracleLatency         *prometheus.HistogramVec
	reasoningCycles       *prometheus.CounterVec
	collaboratorDegraded  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration (collectors still count, useful in tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "messages_published_total",
			Help: "Messages persisted and fanned out, by message type.",
		}, []string{"type"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivery_failures_total",
			Help: "Subscriber callbacks that returned an error or panicked.",
		}, []string{"type", "reason"}),
		guardrailChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "guardrail", Name: "checks_total",
			Help: "Guardrail evaluations by result.",
		}, []string{"result"}),
		guardrailViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "guardrail", Name: "violations_total",
			Help: "Hard guardrail rule violations by rule.",
		}, []string{"rule"}),
		recommendationsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "recommendations_routed_total",
			Help: "Recommendations written to shared memory by target system.",
		}, []string{"target_system"}),
		acknowledgements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "acknowledgements_total",
			Help: "Recommendation acknowledgements by response.",
		}, []string{"response"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oracle", Name: "calls_total",
			Help: "Oracle invocations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "oracle", Name: "call_duration_seconds",
			Help:    "Oracle call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		reasoningCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reasoner", Name: "cycles_total",
			Help: "Reasoning cycles by cycle type and outcome.",
		}, []string{"cycle_type", "outcome"}),
		collaboratorDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reasoner", Name: "collaborator_degraded_total",
			Help: "Collaborator snapshots that failed to load while building the mesh context.",
		}, []string{"system"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesPublished, m.deliveryFailures, m.guardrailChecks, m.guardrailViolations,
			m.recommendationsRouted, m.acknowledgements, m.oracleCalls, m.oracleLatency,
			m.reasoningCycles, m.collaboratorDegraded,
		)
	}
	return m
}

// MessagePublished counts a persisted bus message.
func (m *Metrics) MessagePublished(msgType string) {
	if m == nil {
		return
	}
	m.messagesPublished.WithLabelValues(msgType).Inc()
}

// DeliveryFailed counts a failed subscriber callback; reason is "error" or "panic".
func (m *Metrics) DeliveryFailed(msgType, reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(msgType, reason).Inc()
}

// GuardrailChecked counts an evaluation and each violated rule.
func (m *Metrics) GuardrailChecked(passed bool, violations []string) {
	if m == nil {
		return
	}
	result := "passed"
	if !passed {
		result = "rejected"
	}
	m.guardrailChecks.WithLabelValues(result).Inc()
	for _, rule := range violations {
		m.guardrailViolations.WithLabelValues(rule).Inc()
	}
}

// RecommendationRouted counts a routed recommendation.
func (m *Metrics) RecommendationRouted(targetSystem string) {
	if m == nil {
		return
	}
	m.recommendationsRouted.WithLabelValues(targetSystem).Inc()
}

// Acknowledged counts a recommendation acknowledgement.
func (m *Metrics) Acknowledged(response string) {
	if m == nil {
		return
	}
	m.acknowledgements.WithLabelValues(response).Inc()
}

// OracleCall records an oracle round trip; outcome is "success", "error" or "parse_error".
func (m *Metrics) OracleCall(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(operation, outcome).Inc()
	m.oracleLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// ReasoningCycle counts a completed or failed reasoning cycle.
func (m *Metrics) ReasoningCycle(cycleType, outcome string) {
	if m == nil {
		return
	}
	m.reasoningCycles.WithLabelValues(cycleType, outcome).Inc()
}

// CollaboratorDegraded counts a collaborator snapshot that failed to load.
func (m *Metrics) CollaboratorDegraded(system string) {
	if m == nil {
		return
	}
	m.collaboratorDegraded.WithLabelValues(system).Inc()
}
