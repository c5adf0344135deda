/*
Package reinsurance computes how much of a policy's exposure is ceded to
reinsurers under the treaties in force.

PURPOSE:
  Engine.Calculate is a full replace: it reads the policy and the treaty
  snapshot, derives the allocation and upserts it (or clears it when no
  treaty applies). Calling it twice with the same inputs yields the same
  allocation, so it is safe to invoke from every policy mutation, from the
  recalculate endpoint and from the Sweeper.

ALGORITHM:
  1. sumInsured < Threshold               → clear, not applicable
  2. treaties ACTIVE ∧ LOB ∧ window ∋ now → none: clear, not applicable
  3. Σ share ≤ 0                          → clear, not applicable
     Σ share > 100                        → clear, LimitExceededError
  4. per treaty (ordered by ID):
       ceded = min(sumInsured × share / 100, treatyLimit)
  5. retained = max(0, sumInsured − Σ ceded)

CONCURRENCY:
  No lock. The store upserts per policy atomically and the last writer wins.

SEE ALSO:
  - treaties.go, reinsurers.go: Maintenance of the inputs
  - sweeper.go: Periodic recalculation
  - policy/manager.go: Triggers Calculate as a side effect
*/
package reinsurance

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/metrics"
)

const tracerName = "github.com/warp/reinsurance-engine/reinsurance"

// Threshold is the sum insured from which a policy is ceded.
var Threshold = insurance.NewAmount(5_000_000)

var hundred = decimal.NewFromInt(100)

// Reasons reported on a not-applicable Outcome.
const (
	ReasonBelowThreshold = "sum insured below reinsurance threshold"
	ReasonNoTreaties     = "no active treaty covers the policy"
	ReasonNoShare        = "total treaty share is zero"
)

// Outcome is the result of one calculation. Allocation is nil when not applicable.
type Outcome struct {
	Applicable bool
	Reason     string
	Allocation *insurance.RiskAllocation
}

// Store is the subset of insurance.Store the engine reads and writes.
type Store interface {
	GetPolicy(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error)
	ListTreaties(ctx context.Context, filter insurance.TreatyFilter) ([]insurance.Treaty, error)
	GetAllocation(ctx context.Context, policyID insurance.PolicyID) (*insurance.RiskAllocation, error)
	UpsertAllocation(ctx context.Context, a *insurance.RiskAllocation) error
	DeleteAllocation(ctx context.Context, policyID insurance.PolicyID) error
}

// Engine is the reinsurance allocation engine.
type Engine struct {
	store   Store
	audit   insurance.AuditSink
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Engine)

func WithAuditSink(sink insurance.AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the instant used for treaty selection and calculatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		audit:  insurance.NopAuditSink{},
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calculate recomputes and persists the allocation of one policy.
func (e *Engine) Calculate(ctx context.Context, policyID insurance.PolicyID, actor insurance.Actor) (out *Outcome, err error) {
	ctx, span := e.tracer.Start(ctx, "reinsurance.Calculate",
		trace.WithAttributes(attribute.String("policy.id", string(policyID))))
	start := time.Now()
	defer func() {
		outcome := "error"
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case out.Applicable:
			outcome = "allocated"
		default:
			outcome = "not_applicable"
			span.SetAttributes(attribute.String("reason", out.Reason))
		}
		e.metrics.ObserveAllocation(outcome, time.Since(start))
		span.End()
	}()

	policy, err := e.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()

	if policy.SumInsured.LessThan(Threshold) {
		return e.clear(ctx, policy.ID, actor, now, ReasonBelowThreshold)
	}

	treaties, err := e.treatiesInForce(ctx, policy.LineOfBusiness, now)
	if err != nil {
		return nil, err
	}
	if len(treaties) == 0 {
		return e.clear(ctx, policy.ID, actor, now, ReasonNoTreaties)
	}

	totalShare := decimal.Zero
	for _, t := range treaties {
		totalShare = totalShare.Add(t.SharePercentage)
	}
	if !totalShare.IsPositive() {
		return e.clear(ctx, policy.ID, actor, now, ReasonNoShare)
	}
	if totalShare.GreaterThan(hundred) {
		if _, err := e.clear(ctx, policy.ID, actor, now, ""); err != nil {
			return nil, err
		}
		return nil, &insurance.LimitExceededError{
			Subject:   "total treaty share for " + string(policy.LineOfBusiness),
			Requested: insurance.NewAmountFromDecimal(totalShare),
			Limit:     insurance.NewAmountFromDecimal(hundred),
		}
	}

	alloc := Allocate(policy, treaties)
	alloc.CalculatedAt = now
	alloc.CalculatedBy = actor.ID

	prior, err := e.prior(ctx, policy.ID)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpsertAllocation(ctx, alloc); err != nil {
		return nil, err
	}

	e.audit.Record(ctx, actor.Event(insurance.EntityRiskAllocation, string(policy.ID),
		insurance.ActionRecalculate, prior, alloc, now))
	e.logger.Debug("allocation calculated",
		zap.String("policy_id", string(policy.ID)),
		zap.Int("treaties", len(alloc.Allocations)),
		zap.String("ceded", alloc.TotalCeded().String()),
		zap.String("retained", alloc.RetainedAmount.String()))

	return &Outcome{Applicable: true, Allocation: alloc}, nil
}

// Allocate derives the ceded and retained amounts for a policy. Treaties
// are taken in the given order; the caller sorts them.
func Allocate(policy *insurance.Policy, treaties []insurance.Treaty) *insurance.RiskAllocation {
	alloc := &insurance.RiskAllocation{
		PolicyID:    policy.ID,
		Allocations: make([]insurance.TreatyAllocation, 0, len(treaties)),
	}

	for _, t := range treaties {
		ceded := policy.SumInsured.Percent(t.SharePercentage)
		// A zero limit means no limit.
		if t.TreatyLimit != nil && t.TreatyLimit.IsPositive() {
			ceded = ceded.Min(*t.TreatyLimit)
		}
		alloc.Allocations = append(alloc.Allocations, insurance.TreatyAllocation{
			ReinsurerID:         t.ReinsurerID,
			TreatyID:            t.ID,
			AllocatedAmount:     ceded,
			AllocatedPercentage: t.SharePercentage,
		})
	}

	alloc.RetainedAmount = policy.SumInsured.Sub(alloc.TotalCeded()).Max(insurance.ZeroAmount())
	return alloc
}

func (e *Engine) treatiesInForce(ctx context.Context, lob insurance.LineOfBusiness, now time.Time) ([]insurance.Treaty, error) {
	status := insurance.TreatyActive
	treaties, err := e.store.ListTreaties(ctx, insurance.TreatyFilter{
		Status:         &status,
		LineOfBusiness: &lob,
		InForceAt:      &now,
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(treaties, func(a, b insurance.Treaty) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return treaties, nil
}

func (e *Engine) prior(ctx context.Context, policyID insurance.PolicyID) (*insurance.RiskAllocation, error) {
	prior, err := e.store.GetAllocation(ctx, policyID)
	if errors.Is(err, insurance.ErrNotFound) {
		return nil, nil
	}
	return prior, err
}

// clear removes any allocation of the policy. The audit event is only
// emitted when there was something to remove.
func (e *Engine) clear(ctx context.Context, policyID insurance.PolicyID, actor insurance.Actor, now time.Time, reason string) (*Outcome, error) {
	prior, err := e.prior(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteAllocation(ctx, policyID); err != nil {
		return nil, err
	}
	if prior != nil {
		e.audit.Record(ctx, actor.Event(insurance.EntityRiskAllocation, string(policyID),
			insurance.ActionRecalculate, prior, nil, now))
	}
	return &Outcome{Reason: reason}, nil
}
