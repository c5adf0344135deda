/*
reporting.go - Portfolio dashboards

PURPOSE:
  Read-only aggregates over the book for the back-office dashboard:
  exposure per line of business, claims ratio, how much risk each reinsurer
  carries, and the monthly trend of approved claims.

  All sums are decimal. The claims ratio is the only derived figure and is
  rounded to two places.

SEE ALSO:
  - insurance/store.go: ReportStore aggregates
  - api/dashboard.go: HTTP endpoints
*/
package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/reinsurance-engine/insurance"
)

// DefaultTrendMonths is the loss-ratio trend window when none is given.
const DefaultTrendMonths = 12

var hundred = decimal.NewFromInt(100)

// ClaimsRatio compares approved claims with the premium of ACTIVE policies.
type ClaimsRatio struct {
	TotalPremium        insurance.Amount
	TotalClaimsApproved insurance.Amount
	RatioPercent        decimal.Decimal
}

type Service struct {
	store insurance.ReportStore
	now   func() time.Time
}

func NewService(store insurance.ReportStore) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the clock used for the trend window.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) ExposureByLine(ctx context.Context) ([]insurance.LineExposure, error) {
	return s.store.ExposureByLine(ctx)
}

// ClaimsRatio is approved+settled claims over ACTIVE premium, as a
// percentage. Zero premium gives a zero ratio.
func (s *Service) ClaimsRatio(ctx context.Context) (*ClaimsRatio, error) {
	var premium, claims insurance.Amount

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		premium, err = s.store.PremiumTotal(gctx, insurance.PolicyActive)
		return err
	})
	g.Go(func() error {
		var err error
		claims, err = s.store.ApprovedClaimsTotal(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ratio := decimal.Zero
	if premium.IsPositive() {
		ratio = claims.Value.Div(premium.Value).Mul(hundred).Round(2)
	}
	return &ClaimsRatio{
		TotalPremium:        premium,
		TotalClaimsApproved: claims,
		RatioPercent:        ratio,
	}, nil
}

func (s *Service) ReinsurerDistribution(ctx context.Context) ([]insurance.ReinsurerExposure, error) {
	return s.store.AllocatedByReinsurer(ctx)
}

// LossRatioTrend groups approved and settled claims created in the last
// months by calendar month, oldest first. months <= 0 uses DefaultTrendMonths.
func (s *Service) LossRatioTrend(ctx context.Context, months int) ([]insurance.MonthlyClaims, error) {
	if months <= 0 {
		months = DefaultTrendMonths
	}
	since := s.now().UTC().AddDate(0, -months, 0)
	return s.store.ApprovedClaimsByMonth(ctx, since)
}
