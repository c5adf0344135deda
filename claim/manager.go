/*
Package claim manages claim intake and adjudication.

PURPOSE:
  Manager.Create runs the coverage check against the policy, assigns the
  next claim number and computes advisory fraud flags. Manager.Transition
  walks the claim state machine and fixes the approved amount.

CLAIM LIFECYCLE:

  SUBMITTED ──▶ IN_REVIEW ──▶ APPROVED ──▶ SETTLED
                    │
                    └──▶ REJECTED

  Entering APPROVED or SETTLED resolves the approved amount (requested
  amount, else the claim amount) and refuses it above the policy's sum
  insured with LimitExceededError.

CONCURRENCY:
  Writes are compare-and-set on the status read at the start of the
  transition; a concurrent change yields ErrConcurrentModification.

SEE ALSO:
  - coverage.go: CheckCoverage, FraudFlags
  - insurance/lifecycle.go: ClaimStatus transitions
*/
package claim

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/metrics"
)

// Store is the subset of insurance.Store used by Manager.
type Store interface {
	insurance.ClaimStore
	GetPolicy(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error)
}

// CreateInput holds a new claim. Zero dates default to now.
type CreateInput struct {
	PolicyID     insurance.PolicyID
	ClaimAmount  insurance.Amount
	IncidentDate time.Time
	ReportedDate time.Time
	Remarks      string
}

// Intake is the result of Create. FraudFlags are advisory and not stored.
type Intake struct {
	Claim      *insurance.Claim
	FraudFlags []FraudFlag
}

// TransitionInput requests a status change. ApprovedAmount only matters
// when entering APPROVED or SETTLED; nil Remarks leaves them unchanged.
type TransitionInput struct {
	Status         insurance.ClaimStatus
	ApprovedAmount *insurance.Amount
	Remarks        *string
}

type Manager struct {
	store   Store
	audit   insurance.AuditSink
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Manager)

func WithAuditSink(sink insurance.AuditSink) Option {
	return func(m *Manager) { m.audit = sink }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		audit:  insurance.NopAuditSink{},
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/warp/reinsurance-engine/claim"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create files a claim against an ACTIVE policy.
func (m *Manager) Create(ctx context.Context, actor insurance.Actor, in CreateInput) (_ *Intake, err error) {
	ctx, span := m.tracer.Start(ctx, "claim.Create",
		trace.WithAttributes(attribute.String("policy.id", string(in.PolicyID))))
	defer func() { end(span, err) }()

	if in.PolicyID == "" {
		return nil, &insurance.ValidationError{Field: "policyId", Message: "is required"}
	}
	if !in.ClaimAmount.IsPositive() {
		return nil, &insurance.ValidationError{Field: "claimAmount", Message: "must be greater than zero"}
	}

	now := m.now().UTC()
	incident, reported := in.IncidentDate.UTC(), in.ReportedDate.UTC()
	if in.IncidentDate.IsZero() {
		incident = now
	}
	if in.ReportedDate.IsZero() {
		reported = now
	}

	policy, err := m.store.GetPolicy(ctx, in.PolicyID)
	if err != nil && !insurance.IsNotFound(err) {
		return nil, err
	}
	if err := CheckCoverage(policy, in.ClaimAmount, incident); err != nil {
		var covErr *insurance.CoverageError
		if errors.As(err, &covErr) {
			m.metrics.IncCoverageRejection(covErr.Reason)
		}
		m.logger.Info("claim refused by coverage check",
			zap.String("policy_id", string(in.PolicyID)), zap.Error(err))
		return nil, err
	}

	c := &insurance.Claim{
		ID:           insurance.ClaimID(uuid.NewString()),
		PolicyID:     policy.ID,
		ClaimAmount:  in.ClaimAmount,
		Status:       insurance.ClaimSubmitted,
		IncidentDate: incident,
		ReportedDate: reported,
		Remarks:      in.Remarks,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = insurance.AssignNumber(ctx, insurance.ClaimNumberPrefix, m.store.LastClaimNumber,
		func(ctx context.Context, number string) error {
			c.ClaimNumber = number
			return m.store.InsertClaim(ctx, c)
		})
	if err != nil {
		return nil, err
	}

	flags := FraudFlags(c, policy)
	for _, f := range flags {
		m.metrics.IncFraudFlag(string(f))
	}

	m.audit.Record(ctx, actor.Event(insurance.EntityClaim, string(c.ID), insurance.ActionCreate, nil, c, now))
	m.metrics.IncClaimTransition(string(c.Status))
	m.logger.Info("claim submitted",
		zap.String("claim_id", string(c.ID)),
		zap.String("claim_number", c.ClaimNumber),
		zap.String("policy_id", string(c.PolicyID)),
		zap.Any("fraud_flags", flags))

	return &Intake{Claim: c, FraudFlags: flags}, nil
}

// Transition moves a claim along its lifecycle.
func (m *Manager) Transition(ctx context.Context, actor insurance.Actor, id insurance.ClaimID, in TransitionInput) (_ *insurance.Claim, err error) {
	ctx, span := m.tracer.Start(ctx, "claim.Transition", trace.WithAttributes(
		attribute.String("claim.id", string(id)),
		attribute.String("claim.status", string(in.Status))))
	defer func() { end(span, err) }()

	current, err := m.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(in.Status) {
		return nil, &insurance.InvalidTransitionError{
			Entity:    "claim",
			Current:   string(current.Status),
			Requested: string(in.Status),
		}
	}

	now := m.now().UTC()
	updated := *current
	updated.Status = in.Status
	handler := actor.ID
	updated.HandledBy = &handler
	updated.UpdatedAt = now
	if in.Remarks != nil {
		updated.Remarks = *in.Remarks
	}

	if in.Status.Pays() {
		amount := current.ClaimAmount
		if in.ApprovedAmount != nil {
			amount = *in.ApprovedAmount
		}
		if amount.IsNegative() {
			return nil, &insurance.ValidationError{Field: "approvedAmount", Message: "must not be negative"}
		}

		policy, err := m.store.GetPolicy(ctx, current.PolicyID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(policy.SumInsured) {
			return nil, &insurance.LimitExceededError{
				Subject:   "approved amount",
				Requested: amount,
				Limit:     policy.SumInsured,
			}
		}
		updated.ApprovedAmount = &amount
	}

	if err := m.store.UpdateClaim(ctx, &updated, current.Status); err != nil {
		return nil, err
	}

	m.audit.Record(ctx, actor.Event(insurance.EntityClaim, string(id), insurance.ActionTransition, current, &updated, now))
	m.metrics.IncClaimTransition(string(updated.Status))
	m.logger.Info("claim status changed",
		zap.String("claim_id", string(id)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor", string(actor.ID)))

	return &updated, nil
}

func (m *Manager) Get(ctx context.Context, id insurance.ClaimID) (*insurance.Claim, error) {
	return m.store.GetClaim(ctx, id)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
