/*
sweeper.go - Periodic allocation recalculation

PURPOSE:
  Treaty selection depends on "now": a treaty whose window opens or closes
  changes the allocation of every policy in its lines of business without
  any policy being touched. The Sweeper recalculates all ACTIVE policies on
  a fixed interval so stored allocations follow the treaty calendar.

DESIGN:
  - Runs in the caller's goroutine (Run blocks until ctx is cancelled)
  - Sweeps once immediately on start, then every Interval
  - A failing policy is logged and skipped; the sweep continues
  - Calculations run as SystemActor

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether Run sweeps at all (default: true)

SEE ALSO:
  - engine.go: Calculate
  - cmd/server/main.go: Started under the errgroup
*/
package reinsurance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/metrics"
)

// PolicyLister lists policies for the sweep.
type PolicyLister interface {
	ListPolicies(ctx context.Context, filter insurance.PolicyFilter) ([]insurance.Policy, error)
}

// Calculator recalculates one policy. Implemented by *Engine.
type Calculator interface {
	Calculate(ctx context.Context, policyID insurance.PolicyID, actor insurance.Actor) (*Outcome, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Allocated     int
	NotApplicable int
	Failed        int
}

// Sweeper recalculates the allocations of ACTIVE policies.
type Sweeper struct {
	Policies PolicyLister
	Engine   Calculator
	Interval time.Duration
	Enabled  bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewSweeper(policies PolicyLister, engine Calculator, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		Policies: policies,
		Engine:   engine,
		Interval: time.Hour,
		Enabled:  true,
		logger:   logging.OrNop(logger),
		metrics:  m,
	}
}

// Run sweeps until ctx is cancelled. It always returns nil.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled {
		s.logger.Info("allocation sweeper disabled")
		return nil
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info("allocation sweeper started", zap.Duration("interval", s.Interval))

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			s.logger.Info("allocation sweeper stopped")
			return nil
		}
	}
}

// RunNow performs a single sweep.
func (s *Sweeper) RunNow(ctx context.Context) SweepResult {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	var result SweepResult

	active := insurance.PolicyActive
	policies, err := s.Policies.ListPolicies(ctx, insurance.PolicyFilter{Status: &active})
	if err != nil {
		s.logger.Error("sweep: listing active policies", zap.Error(err))
		return result
	}

	for _, p := range policies {
		if ctx.Err() != nil {
			break
		}
		out, err := s.Engine.Calculate(ctx, p.ID, insurance.SystemActor)
		switch {
		case err != nil:
			result.Failed++
			s.logger.Warn("sweep: allocation failed",
				zap.String("policy_id", string(p.ID)), zap.Error(err))
		case out.Applicable:
			result.Allocated++
		default:
			result.NotApplicable++
		}
	}

	if len(policies) > 0 {
		s.logger.Info("sweep completed",
			zap.Int("policies", len(policies)),
			zap.Int("allocated", result.Allocated),
			zap.Int("not_applicable", result.NotApplicable),
			zap.Int("failed", result.Failed),
			zap.Duration("took", time.Since(start)))
	}
	return result
}
