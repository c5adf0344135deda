/*
Package policy manages the underwriting lifecycle of policies.

PURPOSE:
  Manager validates and applies policy mutations, assigns sequential
  policy numbers, emits audit events and triggers reinsurance
  recalculation.

LIFECYCLE:
  Create  → DRAFT                       recalculates
  Update  DRAFT only                    recalculates
  Approve DRAFT → ACTIVE                recalculates
  Reject  DRAFT → EXPIRED
  Suspend ACTIVE → SUSPENDED

ALLOCATION SIDE EFFECT:
  Recalculation runs after the policy write has committed. Its failure
  never fails or rolls back the mutation: it is logged at Warn and
  reported on Mutation.AllocationErr.

CONCURRENCY:
  Writes are compare-and-set on the status read at the start of the
  operation. A status change in between yields ErrConcurrentModification.

SEE ALSO:
  - insurance/lifecycle.go: PolicyStatus transitions
  - reinsurance/engine.go: Calculate
*/
package policy

import (
	"context"
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
	"github.com/warp/reinsurance-engine/reinsurance"
)

// Allocator recalculates the reinsurance allocation of a policy.
type Allocator interface {
	Calculate(ctx context.Context, policyID insurance.PolicyID, actor insurance.Actor) (*reinsurance.Outcome, error)
}

// Mutation is the result of a policy operation. Allocation and
// AllocationErr are only set by operations that recalculate.
type Mutation struct {
	Policy        *insurance.Policy
	Allocation    *reinsurance.Outcome
	AllocationErr error
}

// CreateInput holds the fields of a new policy.
type CreateInput struct {
	InsuredName    string
	InsuredType    insurance.InsuredType
	LineOfBusiness insurance.LineOfBusiness
	SumInsured     insurance.Amount
	Premium        insurance.Amount
	RetentionLimit *insurance.Amount
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
}

// UpdateInput holds the editable fields of a DRAFT policy. Nil means unchanged.
type UpdateInput struct {
	InsuredName    *string
	InsuredType    *insurance.InsuredType
	LineOfBusiness *insurance.LineOfBusiness
	SumInsured     *insurance.Amount
	Premium        *insurance.Amount
	RetentionLimit *insurance.Amount
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
}

type Manager struct {
	store     insurance.PolicyStore
	allocator Allocator
	audit     insurance.AuditSink
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
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

func NewManager(store insurance.PolicyStore, allocator Allocator, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		allocator: allocator,
		audit:     insurance.NopAuditSink{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/warp/reinsurance-engine/policy"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (m *Manager) Create(ctx context.Context, actor insurance.Actor, in CreateInput) (_ *Mutation, err error) {
	ctx, span := m.start(ctx, "policy.Create", "")
	defer func() { end(span, err) }()

	now := m.now().UTC()
	p := &insurance.Policy{
		ID:             insurance.PolicyID(uuid.NewString()),
		InsuredName:    in.InsuredName,
		InsuredType:    in.InsuredType,
		LineOfBusiness: in.LineOfBusiness,
		SumInsured:     in.SumInsured,
		Premium:        in.Premium,
		RetentionLimit: in.RetentionLimit,
		Status:         insurance.PolicyDraft,
		EffectiveFrom:  utc(in.EffectiveFrom),
		EffectiveTo:    utc(in.EffectiveTo),
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	_, err = insurance.AssignNumber(ctx, insurance.PolicyNumberPrefix, m.store.LastPolicyNumber,
		func(ctx context.Context, number string) error {
			p.PolicyNumber = number
			return m.store.InsertPolicy(ctx, p)
		})
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, actor.Event(insurance.EntityPolicy, string(p.ID), insurance.ActionCreate, nil, p, now))
	m.metrics.IncPolicyTransition(string(insurance.ActionCreate))
	m.logger.Info("policy created",
		zap.String("policy_id", string(p.ID)),
		zap.String("policy_number", p.PolicyNumber),
		zap.String("line_of_business", string(p.LineOfBusiness)))

	return m.recalculate(ctx, actor, p), nil
}

func (m *Manager) Update(ctx context.Context, actor insurance.Actor, id insurance.PolicyID, in UpdateInput) (_ *Mutation, err error) {
	ctx, span := m.start(ctx, "policy.Update", id)
	defer func() { end(span, err) }()

	current, err := m.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Mutable() {
		return nil, &insurance.InvalidStateError{Entity: "policy", Current: string(current.Status), Operation: "update"}
	}

	updated := *current
	if in.InsuredName != nil {
		updated.InsuredName = *in.InsuredName
	}
	if in.InsuredType != nil {
		updated.InsuredType = *in.InsuredType
	}
	if in.LineOfBusiness != nil {
		updated.LineOfBusiness = *in.LineOfBusiness
	}
	if in.SumInsured != nil {
		updated.SumInsured = *in.SumInsured
	}
	if in.Premium != nil {
		updated.Premium = *in.Premium
	}
	if in.RetentionLimit != nil {
		updated.RetentionLimit = in.RetentionLimit
	}
	if in.EffectiveFrom != nil {
		updated.EffectiveFrom = utc(in.EffectiveFrom)
	}
	if in.EffectiveTo != nil {
		updated.EffectiveTo = utc(in.EffectiveTo)
	}
	if err := validate(&updated); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	updated.UpdatedAt = now
	if err := m.store.UpdatePolicy(ctx, &updated, current.Status); err != nil {
		return nil, err
	}

	m.audit.Record(ctx, actor.Event(insurance.EntityPolicy, string(id), insurance.ActionUpdate, current, &updated, now))
	m.metrics.IncPolicyTransition(string(insurance.ActionUpdate))

	return m.recalculate(ctx, actor, &updated), nil
}

// Approve activates a DRAFT policy. effectiveFrom defaults to now.
func (m *Manager) Approve(ctx context.Context, actor insurance.Actor, id insurance.PolicyID) (_ *Mutation, err error) {
	ctx, span := m.start(ctx, "policy.Approve", id)
	defer func() { end(span, err) }()

	now := m.now().UTC()
	updated, err := m.transition(ctx, actor, id, insurance.PolicyActive, insurance.ActionApprove, "approve", now,
		func(p *insurance.Policy) {
			approver := actor.ID
			p.ApprovedBy = &approver
			if p.EffectiveFrom == nil {
				p.EffectiveFrom = &now
			}
		})
	if err != nil {
		return nil, err
	}
	return m.recalculate(ctx, actor, updated), nil
}

// Reject closes a DRAFT policy as EXPIRED.
func (m *Manager) Reject(ctx context.Context, actor insurance.Actor, id insurance.PolicyID) (_ *Mutation, err error) {
	ctx, span := m.start(ctx, "policy.Reject", id)
	defer func() { end(span, err) }()

	updated, err := m.transition(ctx, actor, id, insurance.PolicyExpired, insurance.ActionReject, "reject", m.now().UTC(), nil)
	if err != nil {
		return nil, err
	}
	return &Mutation{Policy: updated}, nil
}

// Suspend halts an ACTIVE policy.
func (m *Manager) Suspend(ctx context.Context, actor insurance.Actor, id insurance.PolicyID) (_ *Mutation, err error) {
	ctx, span := m.start(ctx, "policy.Suspend", id)
	defer func() { end(span, err) }()

	updated, err := m.transition(ctx, actor, id, insurance.PolicySuspended, insurance.ActionSuspend, "suspend", m.now().UTC(), nil)
	if err != nil {
		return nil, err
	}
	return &Mutation{Policy: updated}, nil
}

func (m *Manager) Get(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error) {
	return m.store.GetPolicy(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter insurance.PolicyFilter) ([]insurance.Policy, error) {
	return m.store.ListPolicies(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) transition(
	ctx context.Context,
	actor insurance.Actor,
	id insurance.PolicyID,
	target insurance.PolicyStatus,
	action insurance.AuditAction,
	operation string,
	now time.Time,
	apply func(*insurance.Policy),
) (*insurance.Policy, error) {
	current, err := m.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, &insurance.InvalidStateError{Entity: "policy", Current: string(current.Status), Operation: operation}
	}

	updated := *current
	updated.Status = target
	updated.UpdatedAt = now
	if apply != nil {
		apply(&updated)
	}
	if err := m.store.UpdatePolicy(ctx, &updated, current.Status); err != nil {
		return nil, err
	}

	m.audit.Record(ctx, actor.Event(insurance.EntityPolicy, string(id), action, current, &updated, now))
	m.metrics.IncPolicyTransition(string(action))
	m.logger.Info("policy status changed",
		zap.String("policy_id", string(id)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(target)),
		zap.String("actor", string(actor.ID)))

	return &updated, nil
}

// recalculate runs the allocation side effect. Errors are reported, not returned.
func (m *Manager) recalculate(ctx context.Context, actor insurance.Actor, p *insurance.Policy) *Mutation {
	mut := &Mutation{Policy: p}
	if m.allocator == nil {
		return mut
	}

	out, err := m.allocator.Calculate(ctx, p.ID, actor)
	if err != nil {
		m.logger.Warn("reinsurance allocation failed",
			zap.String("policy_id", string(p.ID)), zap.Error(err))
		mut.AllocationErr = err
		return mut
	}
	mut.Allocation = out
	return mut
}

func (m *Manager) start(ctx context.Context, name string, id insurance.PolicyID) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, name)
	if id != "" {
		span.SetAttributes(attribute.String("policy.id", string(id)))
	}
	return ctx, span
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validate(p *insurance.Policy) error {
	if p.InsuredName == "" {
		return &insurance.ValidationError{Field: "insuredName", Message: "is required"}
	}
	if !p.InsuredType.Valid() {
		return &insurance.ValidationError{Field: "insuredType", Message: "must be INDIVIDUAL or CORPORATE"}
	}
	if !p.LineOfBusiness.Valid() {
		return &insurance.ValidationError{Field: "lineOfBusiness", Message: "must be one of HEALTH, MOTOR, LIFE, PROPERTY"}
	}
	if !p.SumInsured.IsPositive() {
		return &insurance.ValidationError{Field: "sumInsured", Message: "must be greater than zero"}
	}
	if p.Premium.IsNegative() {
		return &insurance.ValidationError{Field: "premium", Message: "must not be negative"}
	}
	if p.RetentionLimit != nil && p.RetentionLimit.IsNegative() {
		return &insurance.ValidationError{Field: "retentionLimit", Message: "must not be negative"}
	}
	if p.EffectiveFrom != nil && p.EffectiveTo != nil && p.EffectiveTo.Before(*p.EffectiveFrom) {
		return &insurance.ValidationError{Field: "effectiveTo", Message: "must not be before effectiveFrom"}
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
