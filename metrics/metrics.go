// Package metrics exposes Prometheus instrumentation for the rules engine.
//
// All methods are safe on a nil *Metrics so packages can be constructed
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PolicyTransitions  *prometheus.CounterVec
	ClaimTransitions   *prometheus.CounterVec
	FraudFlags         *prometheus.CounterVec
	CoverageRejections *prometheus.CounterVec
	AllocationOutcomes *prometheus.CounterVec
	AllocationLatency  prometheus.Histogram
	SweepDuration      prometheus.Histogram
	AuditEvents        *prometheus.CounterVec
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PolicyTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_policy_transitions_total",
			Help: "Policy lifecycle operations by action",
		}, []string{"action"}),

		ClaimTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_claim_transitions_total",
			Help: "Claim status changes by target status",
		}, []string{"status"}),

		FraudFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_fraud_flags_total",
			Help: "Advisory fraud flags raised at claim intake",
		}, []string{"flag"}),

		CoverageRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_coverage_rejections_total",
			Help: "Claims refused by the coverage check, by reason",
		}, []string{"reason"}),

		AllocationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_allocation_outcomes_total",
			Help: "Risk allocation calculations by outcome",
		}, []string{"outcome"}), // outcome: allocated, not_applicable, error

		AllocationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "underwriting_allocation_duration_seconds",
			Help:    "Duration of a single risk allocation calculation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "underwriting_allocation_sweep_duration_seconds",
			Help:    "Duration of a full allocation sweep over active policies",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),

		AuditEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "underwriting_audit_events_total",
			Help: "Audit events by result",
		}, []string{"result"}), // result: persisted, dropped, failed
	}
}

func (m *Metrics) IncPolicyTransition(action string) {
	if m != nil {
		m.PolicyTransitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncClaimTransition(status string) {
	if m != nil {
		m.ClaimTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncFraudFlag(flag string) {
	if m != nil {
		m.FraudFlags.WithLabelValues(flag).Inc()
	}
}

func (m *Metrics) IncCoverageRejection(reason string) {
	if m != nil {
		m.CoverageRejections.WithLabelValues(reason).Inc()
	}
}

// ObserveAllocation records the outcome and latency of one calculation.
func (m *Metrics) ObserveAllocation(outcome string, d time.Duration) {
	if m != nil {
		m.AllocationOutcomes.WithLabelValues(outcome).Inc()
		m.AllocationLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncAudit(result string) {
	if m != nil {
		m.AuditEvents.WithLabelValues(result).Inc()
	}
}
