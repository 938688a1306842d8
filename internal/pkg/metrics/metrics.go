// Package metrics holds the Prometheus collectors shared by the application services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guard"

type Metrics struct {
	tokenConsume    *prometheus.CounterVec
	tokenIssue      *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	auditDeliveries *prometheus.CounterVec
	auditQueueDepth prometheus.Gauge
	insights        *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tokenConsume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_consume_total",
			Help:      "Verification token consumption attempts by outcome.",
		}, []string{"outcome"}),
		tokenIssue: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_issue_total",
			Help:      "Verification token issuance attempts by outcome.",
		}, []string{"outcome"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_gate_decisions_total",
			Help:      "Rate gate checks by action and decision.",
		}, []string{"action", "decision"}),
		auditDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_deliveries_total",
			Help:      "Audit entry delivery results.",
		}, []string{"result"}),
		auditQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Audit entries buffered and awaiting delivery.",
		}),
		insights: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_total",
			Help:      "Insights processed by final status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) TokenConsumed(outcome string) {
	if m == nil {
		return
	}
	m.tokenConsume.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenIssued(outcome string) {
	if m == nil {
		return
	}
	m.tokenIssue.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GateDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.gateDecisions.WithLabelValues(action, decision).Inc()
}

// AuditDelivery records one of "written", "retried", "requeued", "lost".
func (m *Metrics) AuditDelivery(result string) {
	if m == nil {
		return
	}
	m.auditDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.auditQueueDepth.Set(float64(n))
}

func (m *Metrics) Insight(status string) {
	if m == nil {
		return
	}
	m.insights.WithLabelValues(status).Inc()
}
