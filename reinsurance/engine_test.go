package reinsurance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/insurance/store"
	"github.com/warp/reinsurance-engine/metrics"
	"github.com/warp/reinsurance-engine/reinsurance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

var manager = insurance.Actor{ID: "rm-1", Role: insurance.RoleReinsuranceManager}

type recordingSink struct {
	mu     sync.Mutex
	events []insurance.AuditEvent
}

func (r *recordingSink) Record(_ context.Context, e insurance.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Events() []insurance.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]insurance.AuditEvent(nil), r.events...)
}

func amt(s string) insurance.Amount { return insurance.MustParseAmount(s) }

func amtPtr(s string) *insurance.Amount {
	a := amt(s)
	return &a
}

func seedPolicy(t *testing.T, mem *store.Memory, id string, sumInsured string, lob insurance.LineOfBusiness) *insurance.Policy {
	t.Helper()
	p := &insurance.Policy{
		ID:             insurance.PolicyID(id),
		PolicyNumber:   "POL" + id,
		InsuredName:    "Acme Holdings",
		InsuredType:    insurance.InsuredCorporate,
		LineOfBusiness: lob,
		SumInsured:     amt(sumInsured),
		Premium:        amt("25000"),
		Status:         insurance.PolicyActive,
		CreatedBy:      "uw-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, mem.InsertPolicy(context.Background(), p))
	return p
}

func seedReinsurer(t *testing.T, mem *store.Memory, id, code string) {
	t.Helper()
	require.NoError(t, mem.InsertReinsurer(context.Background(), &insurance.Reinsurer{
		ID:     insurance.ReinsurerID(id),
		Name:   "Re " + code,
		Code:   code,
		Rating: insurance.RatingAA,
		Status: insurance.ReinsurerActive,
	}))
}

type treatyOpt func(*insurance.Treaty)

func withLimit(s string) treatyOpt {
	return func(t *insurance.Treaty) { t.TreatyLimit = amtPtr(s) }
}

func withLines(lines ...insurance.LineOfBusiness) treatyOpt {
	return func(t *insurance.Treaty) { t.ApplicableLOBs = lines }
}

func withWindow(from, to time.Time) treatyOpt {
	return func(t *insurance.Treaty) { t.EffectiveFrom, t.EffectiveTo = from, to }
}

func withStatus(s insurance.TreatyStatus) treatyOpt {
	return func(t *insurance.Treaty) { t.Status = s }
}

func seedTreaty(t *testing.T, mem *store.Memory, id, reinsurer string, share string, opts ...treatyOpt) {
	t.Helper()
	tr := &insurance.Treaty{
		ID:              insurance.TreatyID(id),
		TreatyName:      "Treaty " + id,
		TreatyType:      insurance.TreatyQuotaShare,
		ReinsurerID:     insurance.ReinsurerID(reinsurer),
		SharePercentage: decimal.RequireFromString(share),
		ApplicableLOBs:  []insurance.LineOfBusiness{insurance.LineHealth},
		EffectiveFrom:   now.AddDate(-1, 0, 0),
		EffectiveTo:     now.AddDate(1, 0, 0),
		Status:          insurance.TreatyActive,
	}
	for _, opt := range opts {
		opt(tr)
	}
	require.NoError(t, mem.InsertTreaty(context.Background(), tr))
}

func newEngine(mem *store.Memory, opts ...reinsurance.Option) *reinsurance.Engine {
	opts = append([]reinsurance.Option{reinsurance.WithClock(func() time.Time { return now })}, opts...)
	return reinsurance.NewEngine(mem, opts...)
}

func requireNoAllocation(t *testing.T, mem *store.Memory, id string) {
	t.Helper()
	_, err := mem.GetAllocation(context.Background(), insurance.PolicyID(id))
	require.Error(t, err)
	assert.True(t, insurance.IsNotFound(err))
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestCalculate_SingleFullShareTreaty(t *testing.T) {
	// GIVEN: A 10M HEALTH policy and one ACTIVE 100% treaty in force
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "10000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "100")

	// WHEN
	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	// THEN: Everything is ceded to that treaty
	require.NoError(t, err)
	require.True(t, out.Applicable)
	require.Len(t, out.Allocation.Allocations, 1)

	line := out.Allocation.Allocations[0]
	assert.Equal(t, insurance.TreatyID("t1"), line.TreatyID)
	assert.Equal(t, insurance.ReinsurerID("r1"), line.ReinsurerID)
	assert.True(t, line.AllocatedAmount.Equal(amt("10000000")), "ceded %s", line.AllocatedAmount)
	assert.True(t, line.AllocatedPercentage.Equal(decimal.NewFromInt(100)))
	assert.True(t, out.Allocation.RetainedAmount.IsZero())
	assert.Equal(t, now, out.Allocation.CalculatedAt)
	assert.Equal(t, manager.ID, out.Allocation.CalculatedBy)

	stored, err := mem.GetAllocation(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, stored.Allocations, 1)
}

func TestCalculate_BelowThresholdClearsAllocation(t *testing.T) {
	// GIVEN: A stale allocation on a policy below the threshold
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "4999999.99", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "50")
	require.NoError(t, mem.UpsertAllocation(context.Background(), &insurance.RiskAllocation{
		PolicyID: "p1", RetainedAmount: amt("1"), CalculatedAt: now,
	}))

	// WHEN
	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	// THEN
	require.NoError(t, err)
	assert.False(t, out.Applicable)
	assert.Equal(t, reinsurance.ReasonBelowThreshold, out.Reason)
	assert.Nil(t, out.Allocation)
	requireNoAllocation(t, mem, "p1")
}

func TestCalculate_ThresholdIsInclusive(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "5000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "40")

	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	require.NoError(t, err)
	assert.True(t, out.Applicable)
	assert.True(t, out.Allocation.Allocations[0].AllocatedAmount.Equal(amt("2000000")))
	assert.True(t, out.Allocation.RetainedAmount.Equal(amt("3000000")))
}

func TestCalculate_NoTreatyInForce(t *testing.T) {
	tests := []struct {
		name string
		opts []treatyOpt
	}{
		{"other line of business", []treatyOpt{withLines(insurance.LineMotor)}},
		{"expired status", []treatyOpt{withStatus(insurance.TreatyExpired)}},
		{"window in the future", []treatyOpt{withWindow(now.Add(time.Second), now.AddDate(1, 0, 0))}},
		{"window in the past", []treatyOpt{withWindow(now.AddDate(-1, 0, 0), now.Add(-time.Second))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			seedReinsurer(t, mem, "r1", "SWISS")
			seedPolicy(t, mem, "p1", "8000000", insurance.LineHealth)
			seedTreaty(t, mem, "t1", "r1", "30", tt.opts...)

			out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

			require.NoError(t, err)
			assert.False(t, out.Applicable)
			assert.Equal(t, reinsurance.ReasonNoTreaties, out.Reason)
			requireNoAllocation(t, mem, "p1")
		})
	}
}

func TestCalculate_WindowBoundsAreInclusive(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "8000000", insurance.LineHealth)
	seedTreaty(t, mem, "starts", "r1", "10", withWindow(now, now.AddDate(0, 6, 0)))
	seedTreaty(t, mem, "ends", "r1", "20", withWindow(now.AddDate(0, -6, 0), now))

	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	require.NoError(t, err)
	require.True(t, out.Applicable)
	assert.Len(t, out.Allocation.Allocations, 2)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCalculate_CededPlusRetainedEqualsSumInsured(t *testing.T) {
	shares := [][]string{
		{"100"},
		{"50", "50"},
		{"12.5", "37.5", "20"},
		{"33.33", "33.33", "33.33"},
		{"0.01"},
	}

	for _, set := range shares {
		mem := store.NewMemory()
		seedReinsurer(t, mem, "r1", "SWISS")
		seedPolicy(t, mem, "p1", "7654321.09", insurance.LineHealth)
		for i, share := range set {
			seedTreaty(t, mem, string(rune('a'+i)), "r1", share)
		}

		out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)
		require.NoError(t, err)
		require.True(t, out.Applicable)

		total := out.Allocation.TotalCeded().Add(out.Allocation.RetainedAmount)
		assert.True(t, total.Equal(amt("7654321.09")), "shares %v: ceded+retained = %s", set, total)
	}
}

func TestCalculate_TreatyLimitClipsCededAmount(t *testing.T) {
	// GIVEN: 60% of 10M would be 6M but the treaty caps at 2.5M
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedReinsurer(t, mem, "r2", "MUNICH")
	seedPolicy(t, mem, "p1", "10000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "60", withLimit("2500000"))
	seedTreaty(t, mem, "t2", "r2", "30")

	// WHEN
	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	// THEN: The clipped excess is retained
	require.NoError(t, err)
	lines := out.Allocation.Allocations
	require.Len(t, lines, 2)
	assert.True(t, lines[0].AllocatedAmount.Equal(amt("2500000")))
	assert.True(t, lines[0].AllocatedPercentage.Equal(decimal.NewFromInt(60)))
	assert.True(t, lines[1].AllocatedAmount.Equal(amt("3000000")))
	assert.True(t, out.Allocation.RetainedAmount.Equal(amt("4500000")))
}

func TestCalculate_ZeroTreatyLimitMeansUnlimited(t *testing.T) {
	// GIVEN: A 40% treaty whose limit is stored as 0
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "10000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "40", withLimit("0"))

	// WHEN
	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	// THEN: The full share is ceded
	require.NoError(t, err)
	require.Len(t, out.Allocation.Allocations, 1)
	assert.True(t, out.Allocation.Allocations[0].AllocatedAmount.Equal(amt("4000000")))
	assert.True(t, out.Allocation.RetainedAmount.Equal(amt("6000000")))
}

func TestCalculate_OrderFollowsTreatyID(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "9000000", insurance.LineHealth)
	seedTreaty(t, mem, "t-c", "r1", "10")
	seedTreaty(t, mem, "t-a", "r1", "10")
	seedTreaty(t, mem, "t-b", "r1", "10")

	engine := newEngine(mem)
	first, err := engine.Calculate(context.Background(), "p1", manager)
	require.NoError(t, err)
	second, err := engine.Calculate(context.Background(), "p1", manager)
	require.NoError(t, err)

	var ids []insurance.TreatyID
	for _, a := range first.Allocation.Allocations {
		ids = append(ids, a.TreatyID)
	}
	assert.Equal(t, []insurance.TreatyID{"t-a", "t-b", "t-c"}, ids)
	assert.Equal(t, first.Allocation, second.Allocation)
}

// =============================================================================
// TOTAL SHARE EDGE CASES
// =============================================================================

func TestCalculate_ZeroTotalShareClearsAllocation(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "9000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "0")
	require.NoError(t, mem.UpsertAllocation(context.Background(), &insurance.RiskAllocation{PolicyID: "p1"}))

	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	require.NoError(t, err)
	assert.False(t, out.Applicable)
	assert.Equal(t, reinsurance.ReasonNoShare, out.Reason)
	requireNoAllocation(t, mem, "p1")
}

func TestCalculate_OverCededIsConfigurationError(t *testing.T) {
	// GIVEN: Two treaties on the same line adding up to 120%
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "9000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "70")
	seedTreaty(t, mem, "t2", "r1", "50")
	require.NoError(t, mem.UpsertAllocation(context.Background(), &insurance.RiskAllocation{PolicyID: "p1"}))

	// WHEN
	out, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	// THEN: Limit error, and the stale allocation is gone
	assert.Nil(t, out)
	var limitErr *insurance.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, limitErr.Requested.Equal(amt("120")))
	requireNoAllocation(t, mem, "p1")
}

// =============================================================================
// ERRORS, AUDIT, METRICS
// =============================================================================

func TestCalculate_UnknownPolicy(t *testing.T) {
	_, err := newEngine(store.NewMemory()).Calculate(context.Background(), "missing", manager)
	assert.True(t, insurance.IsNotFound(err))
}

func TestCalculate_StoreOutage(t *testing.T) {
	mem := store.NewMemory()
	mem.Fail = errors.New("disk I/O error")

	_, err := newEngine(mem).Calculate(context.Background(), "p1", manager)

	assert.ErrorIs(t, err, insurance.ErrStoreUnavailable)
	assert.True(t, insurance.IsRetryable(err))
}

func TestCalculate_AuditsChangesOnly(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "big", "9000000", insurance.LineHealth)
	seedPolicy(t, mem, "small", "100000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "25")
	sink := &recordingSink{}
	engine := newEngine(mem, reinsurance.WithAuditSink(sink))

	_, err := engine.Calculate(context.Background(), "big", manager)
	require.NoError(t, err)
	_, err = engine.Calculate(context.Background(), "small", manager)
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1, "clearing nothing is not audited")
	assert.Equal(t, insurance.EntityRiskAllocation, events[0].EntityType)
	assert.Equal(t, "big", events[0].EntityID)
	assert.Equal(t, insurance.ActionRecalculate, events[0].Action)
	assert.Equal(t, manager.ID, events[0].PerformedBy)
}

func TestCalculate_CountsOutcomes(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "big", "9000000", insurance.LineHealth)
	seedPolicy(t, mem, "small", "100000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "25")
	m := metrics.New(prometheus.NewRegistry())
	engine := newEngine(mem, reinsurance.WithMetrics(m))

	_, _ = engine.Calculate(context.Background(), "big", manager)
	_, _ = engine.Calculate(context.Background(), "small", manager)
	_, _ = engine.Calculate(context.Background(), "missing", manager)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationOutcomes.WithLabelValues("allocated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationOutcomes.WithLabelValues("not_applicable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocationOutcomes.WithLabelValues("error")))
}

func TestCalculate_ConcurrentRecalculationsLastWriterWins(t *testing.T) {
	mem := store.NewMemory()
	seedReinsurer(t, mem, "r1", "SWISS")
	seedPolicy(t, mem, "p1", "9000000", insurance.LineHealth)
	seedTreaty(t, mem, "t1", "r1", "25")
	engine := newEngine(mem)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Calculate(context.Background(), "p1", manager)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := mem.GetAllocation(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, stored.Allocations, 1)
	assert.True(t, stored.RetainedAmount.Equal(amt("6750000")))
}
