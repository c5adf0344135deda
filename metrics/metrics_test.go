package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/reinsurance-engine/metrics"
)

func TestMetrics_Counters(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.IncFraudFlag("HIGH_AMOUNT")
	m.IncFraudFlag("HIGH_AMOUNT")
	m.ObserveAllocation("allocated", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FraudFlags.WithLabelValues("HIGH_AMOUNT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationOutcomes.WithLabelValues("allocated")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.IncPolicyTransition("APPROVE")
		m.IncClaimTransition("SETTLED")
		m.ObserveAllocation("error", time.Second)
		m.ObserveSweep(time.Second)
		m.IncAudit("dropped")
	})
}
