package reinsurance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
)

// DefaultTreatyLines applies when a treaty is created without lines of business.
var DefaultTreatyLines = []insurance.LineOfBusiness{insurance.LineHealth, insurance.LineMotor}

// TreatyStore is the subset of insurance.Store used by TreatyService.
type TreatyStore interface {
	insurance.TreatyStore
	GetReinsurer(ctx context.Context, id insurance.ReinsurerID) (*insurance.Reinsurer, error)
}

// TreatyInput creates a treaty. Zero values take the defaults: share 0,
// lines DefaultTreatyLines, effectiveFrom now, status ACTIVE.
type TreatyInput struct {
	TreatyName      string
	TreatyType      insurance.TreatyType
	ReinsurerID     insurance.ReinsurerID
	SharePercentage decimal.Decimal
	RetentionLimit  *insurance.Amount
	TreatyLimit     *insurance.Amount
	ApplicableLOBs  []insurance.LineOfBusiness
	EffectiveFrom   *time.Time
	EffectiveTo     time.Time
	Status          insurance.TreatyStatus
}

// TreatyPatch updates a treaty. Nil fields are left unchanged.
type TreatyPatch struct {
	TreatyName      *string
	SharePercentage *decimal.Decimal
	RetentionLimit  *insurance.Amount
	TreatyLimit     *insurance.Amount
	ApplicableLOBs  []insurance.LineOfBusiness
	EffectiveFrom   *time.Time
	EffectiveTo     *time.Time
	Status          *insurance.TreatyStatus
}

// TreatyService maintains treaties. Changes do not recalculate existing
// allocations; the Sweeper and the recalculate endpoint pick them up.
type TreatyService struct {
	store  TreatyStore
	audit  insurance.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

func NewTreatyService(store TreatyStore, audit insurance.AuditSink, logger *zap.Logger) *TreatyService {
	if audit == nil {
		audit = insurance.NopAuditSink{}
	}
	return &TreatyService{store: store, audit: audit, logger: logging.OrNop(logger), now: time.Now}
}

func (s *TreatyService) Create(ctx context.Context, actor insurance.Actor, in TreatyInput) (*insurance.Treaty, error) {
	if in.TreatyName == "" {
		return nil, &insurance.ValidationError{Field: "treatyName", Message: "is required"}
	}
	if !in.TreatyType.Valid() {
		return nil, &insurance.ValidationError{Field: "treatyType", Message: "must be QUOTA_SHARE or SURPLUS"}
	}
	if in.ReinsurerID == "" {
		return nil, &insurance.ValidationError{Field: "reinsurerId", Message: "is required"}
	}
	if _, err := s.store.GetReinsurer(ctx, in.ReinsurerID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &insurance.Treaty{
		ID:              insurance.TreatyID(uuid.NewString()),
		TreatyName:      in.TreatyName,
		TreatyType:      in.TreatyType,
		ReinsurerID:     in.ReinsurerID,
		SharePercentage: in.SharePercentage,
		RetentionLimit:  in.RetentionLimit,
		TreatyLimit:     in.TreatyLimit,
		ApplicableLOBs:  in.ApplicableLOBs,
		EffectiveFrom:   now,
		EffectiveTo:     in.EffectiveTo.UTC(),
		Status:          in.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(t.ApplicableLOBs) == 0 {
		t.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), DefaultTreatyLines...)
	}
	if in.EffectiveFrom != nil {
		t.EffectiveFrom = in.EffectiveFrom.UTC()
	}
	if t.Status == "" {
		t.Status = insurance.TreatyActive
	}

	if err := validateTreaty(t); err != nil {
		return nil, err
	}
	if err := s.store.InsertTreaty(ctx, t); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityTreaty, string(t.ID), insurance.ActionCreate, nil, t, now))
	s.logger.Info("treaty created",
		zap.String("treaty_id", string(t.ID)),
		zap.String("reinsurer_id", string(t.ReinsurerID)),
		zap.String("share", t.SharePercentage.String()))
	return t, nil
}

func (s *TreatyService) Update(ctx context.Context, actor insurance.Actor, id insurance.TreatyID, patch TreatyPatch) (*insurance.Treaty, error) {
	current, err := s.store.GetTreaty(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	if patch.TreatyName != nil {
		updated.TreatyName = *patch.TreatyName
	}
	if patch.SharePercentage != nil {
		updated.SharePercentage = *patch.SharePercentage
	}
	if patch.RetentionLimit != nil {
		updated.RetentionLimit = patch.RetentionLimit
	}
	if patch.TreatyLimit != nil {
		updated.TreatyLimit = patch.TreatyLimit
	}
	if patch.ApplicableLOBs != nil {
		updated.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), patch.ApplicableLOBs...)
	}
	if patch.EffectiveFrom != nil {
		updated.EffectiveFrom = patch.EffectiveFrom.UTC()
	}
	if patch.EffectiveTo != nil {
		updated.EffectiveTo = patch.EffectiveTo.UTC()
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}

	if err := validateTreaty(&updated); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated.UpdatedAt = now
	if err := s.store.UpdateTreaty(ctx, &updated); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityTreaty, string(id), insurance.ActionUpdate, current, &updated, now))
	return &updated, nil
}

func (s *TreatyService) Get(ctx context.Context, id insurance.TreatyID) (*insurance.Treaty, error) {
	return s.store.GetTreaty(ctx, id)
}

func (s *TreatyService) List(ctx context.Context, filter insurance.TreatyFilter) ([]insurance.Treaty, error) {
	return s.store.ListTreaties(ctx, filter)
}

func validateTreaty(t *insurance.Treaty) error {
	if t.TreatyName == "" {
		return &insurance.ValidationError{Field: "treatyName", Message: "is required"}
	}
	if t.SharePercentage.IsNegative() || t.SharePercentage.GreaterThan(hundred) {
		return &insurance.ValidationError{Field: "sharePercentage", Message: "must be between 0 and 100"}
	}
	if t.TreatyLimit != nil && t.TreatyLimit.IsNegative() {
		return &insurance.ValidationError{Field: "treatyLimit", Message: "must not be negative"}
	}
	if t.RetentionLimit != nil && t.RetentionLimit.IsNegative() {
		return &insurance.ValidationError{Field: "retentionLimit", Message: "must not be negative"}
	}
	for _, lob := range t.ApplicableLOBs {
		if !lob.Valid() {
			return &insurance.ValidationError{Field: "applicableLOBs", Message: "contains unknown line " + string(lob)}
		}
	}
	if t.EffectiveTo.IsZero() {
		return &insurance.ValidationError{Field: "effectiveTo", Message: "is required"}
	}
	if t.EffectiveTo.Before(t.EffectiveFrom) {
		return &insurance.ValidationError{Field: "effectiveTo", Message: "must not be before effectiveFrom"}
	}
	if !t.Status.Valid() {
		return &insurance.ValidationError{Field: "status", Message: "must be ACTIVE or EXPIRED"}
	}
	return nil
}
