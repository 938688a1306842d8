package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenConsumed("applied")
		m.GateDecision("insight-refresh", true)
		m.AuditDelivery("written")
		m.AuditQueueDepth(3)
		m.Insight("COMPLETED")
	})
}

func TestMetrics_Counts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.GateDecision("insight-refresh", true)
	m.GateDecision("insight-refresh", false)
	m.GateDecision("insight-refresh", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("insight-refresh", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("insight-refresh", "denied")))
}
