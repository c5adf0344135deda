package reporting_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/insurance/store"
	"github.com/warp/reinsurance-engine/reporting"
)

var now = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

type book struct {
	t   *testing.T
	mem *store.Memory
	seq int
	ctx context.Context
}

func newBook(t *testing.T) *book {
	return &book{t: t, mem: store.NewMemory(), ctx: context.Background()}
}

func (b *book) policy(lob insurance.LineOfBusiness, status insurance.PolicyStatus, sum, premium int64) insurance.PolicyID {
	b.seq++
	p := &insurance.Policy{
		ID:             insurance.PolicyID(fmt.Sprintf("p-%d", b.seq)),
		PolicyNumber:   fmt.Sprintf("POL%08d", b.seq),
		InsuredName:    "Insured",
		InsuredType:    insurance.InsuredCorporate,
		LineOfBusiness: lob,
		SumInsured:     insurance.NewAmount(sum),
		Premium:        insurance.NewAmount(premium),
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(b.t, b.mem.InsertPolicy(b.ctx, p))
	return p.ID
}

func (b *book) claim(policyID insurance.PolicyID, status insurance.ClaimStatus, approved int64, created time.Time) {
	b.seq++
	c := &insurance.Claim{
		ID:           insurance.ClaimID(fmt.Sprintf("c-%d", b.seq)),
		ClaimNumber:  fmt.Sprintf("CLM%08d", b.seq),
		PolicyID:     policyID,
		ClaimAmount:  insurance.NewAmount(approved),
		Status:       status,
		IncidentDate: created,
		ReportedDate: created,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if status.Pays() {
		amt := insurance.NewAmount(approved)
		c.ApprovedAmount = &amt
	}
	require.NoError(b.t, b.mem.InsertClaim(b.ctx, c))
}

func TestExposureByLine_OnlyActivePoliciesLargestFirst(t *testing.T) {
	b := newBook(t)
	b.policy(insurance.LineMotor, insurance.PolicyActive, 1_000_000, 10_000)
	b.policy(insurance.LineProperty, insurance.PolicyActive, 8_000_000, 50_000)
	b.policy(insurance.LineMotor, insurance.PolicyActive, 2_000_000, 20_000)
	b.policy(insurance.LineProperty, insurance.PolicyDraft, 99_000_000, 1)

	got, err := reporting.NewService(b.mem).ExposureByLine(b.ctx)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, insurance.LineProperty, got[0].LineOfBusiness)
	assert.True(t, got[0].TotalExposure.Equal(insurance.NewAmount(8_000_000)))
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, insurance.LineMotor, got[1].LineOfBusiness)
	assert.True(t, got[1].TotalExposure.Equal(insurance.NewAmount(3_000_000)))
	assert.True(t, got[1].TotalPremium.Equal(insurance.NewAmount(30_000)))
	assert.Equal(t, 2, got[1].Count)
}

func TestClaimsRatio(t *testing.T) {
	// GIVEN: 300k of ACTIVE premium and 100k approved plus settled
	b := newBook(t)
	p1 := b.policy(insurance.LineHealth, insurance.PolicyActive, 1_000_000, 200_000)
	b.policy(insurance.LineHealth, insurance.PolicyActive, 1_000_000, 100_000)
	b.policy(insurance.LineHealth, insurance.PolicySuspended, 1_000_000, 500_000)
	b.claim(p1, insurance.ClaimApproved, 60_000, now)
	b.claim(p1, insurance.ClaimSettled, 40_000, now)
	b.claim(p1, insurance.ClaimSubmitted, 900_000, now)
	b.claim(p1, insurance.ClaimRejected, 900_000, now)

	// WHEN: The ratio is computed
	got, err := reporting.NewService(b.mem).ClaimsRatio(b.ctx)

	// THEN: 100k / 300k = 33.33%
	require.NoError(t, err)
	assert.True(t, got.TotalPremium.Equal(insurance.NewAmount(300_000)))
	assert.True(t, got.TotalClaimsApproved.Equal(insurance.NewAmount(100_000)))
	assert.True(t, got.RatioPercent.Equal(decimal.RequireFromString("33.33")), got.RatioPercent.String())
}

func TestClaimsRatio_NoPremium(t *testing.T) {
	b := newBook(t)
	p := b.policy(insurance.LineHealth, insurance.PolicyDraft, 1_000_000, 200_000)
	b.claim(p, insurance.ClaimApproved, 60_000, now)

	got, err := reporting.NewService(b.mem).ClaimsRatio(b.ctx)

	require.NoError(t, err)
	assert.True(t, got.TotalPremium.IsZero())
	assert.True(t, got.RatioPercent.IsZero())
}

func TestClaimsRatio_StoreUnavailable(t *testing.T) {
	b := newBook(t)
	b.mem.Fail = errors.New("disk gone")

	_, err := reporting.NewService(b.mem).ClaimsRatio(b.ctx)

	assert.ErrorIs(t, err, insurance.ErrStoreUnavailable)
}

func TestReinsurerDistribution(t *testing.T) {
	b := newBook(t)
	for _, r := range []insurance.Reinsurer{
		{ID: "r-1", Name: "Munich Re", Code: "MUNRE", Status: insurance.ReinsurerActive},
		{ID: "r-2", Name: "Swiss Re", Code: "SWISSRE", Status: insurance.ReinsurerActive},
	} {
		require.NoError(t, b.mem.InsertReinsurer(b.ctx, &r))
	}
	for i, split := range [][2]int64{{2_000_000, 1_000_000}, {500_000, 3_000_000}} {
		require.NoError(t, b.mem.UpsertAllocation(b.ctx, &insurance.RiskAllocation{
			PolicyID: insurance.PolicyID(fmt.Sprintf("p-%d", i)),
			Allocations: []insurance.TreatyAllocation{
				{ReinsurerID: "r-1", TreatyID: "t-1", AllocatedAmount: insurance.NewAmount(split[0])},
				{ReinsurerID: "r-2", TreatyID: "t-2", AllocatedAmount: insurance.NewAmount(split[1])},
			},
			RetainedAmount: insurance.ZeroAmount(),
			CalculatedAt:   now,
		}))
	}

	got, err := reporting.NewService(b.mem).ReinsurerDistribution(b.ctx)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SWISSRE", got[0].ReinsurerCode)
	assert.True(t, got[0].TotalAllocated.Equal(insurance.NewAmount(4_000_000)))
	assert.Equal(t, 2, got[0].PolicyCount)
	assert.Equal(t, "Munich Re", got[1].ReinsurerName)
	assert.True(t, got[1].TotalAllocated.Equal(insurance.NewAmount(2_500_000)))
}

func TestLossRatioTrend_WindowAndOrder(t *testing.T) {
	// GIVEN: Paying claims across several months, one outside the window
	b := newBook(t)
	p := b.policy(insurance.LineMotor, insurance.PolicyActive, 1_000_000, 1_000)
	b.claim(p, insurance.ClaimApproved, 100, time.Date(2024, time.May, 3, 0, 0, 0, 0, time.UTC))
	b.claim(p, insurance.ClaimSettled, 250, time.Date(2024, time.May, 20, 0, 0, 0, 0, time.UTC))
	b.claim(p, insurance.ClaimApproved, 70, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	b.claim(p, insurance.ClaimApproved, 999, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC))
	b.claim(p, insurance.ClaimInReview, 999, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	svc := reporting.NewService(b.mem).WithClock(func() time.Time { return now })

	// WHEN: The trend over six months is requested
	got, err := svc.LossRatioTrend(b.ctx, 6)

	// THEN: Months are grouped oldest first
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.March, got[0].Month)
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, time.May, got[1].Month)
	assert.Equal(t, 2024, got[1].Year)
	assert.Equal(t, 2, got[1].Count)
	assert.True(t, got[1].TotalApproved.Equal(insurance.NewAmount(350)))

	all, err := svc.LossRatioTrend(b.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "default window is twelve months")
}
