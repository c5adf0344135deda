package reinsurance

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
)

// ReinsurerInput creates a reinsurer. Status defaults to ACTIVE.
type ReinsurerInput struct {
	Name         string
	Code         string
	Country      string
	Rating       insurance.ReinsurerRating
	ContactEmail string
	Status       insurance.ReinsurerStatus
}

// ReinsurerPatch updates a reinsurer. The code is immutable.
type ReinsurerPatch struct {
	Name         *string
	Country      *string
	Rating       *insurance.ReinsurerRating
	ContactEmail *string
	Status       *insurance.ReinsurerStatus
}

type ReinsurerService struct {
	store  insurance.ReinsurerStore
	audit  insurance.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

func NewReinsurerService(store insurance.ReinsurerStore, audit insurance.AuditSink, logger *zap.Logger) *ReinsurerService {
	if audit == nil {
		audit = insurance.NopAuditSink{}
	}
	return &ReinsurerService{store: store, audit: audit, logger: logging.OrNop(logger), now: time.Now}
}

// Create registers a reinsurer. A taken code yields ErrConflict.
func (s *ReinsurerService) Create(ctx context.Context, actor insurance.Actor, in ReinsurerInput) (*insurance.Reinsurer, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	if in.Name == "" || in.Code == "" {
		return nil, &insurance.ValidationError{Message: "name and code are required"}
	}

	now := s.now().UTC()
	r := &insurance.Reinsurer{
		ID:           insurance.ReinsurerID(uuid.NewString()),
		Name:         in.Name,
		Code:         in.Code,
		Country:      in.Country,
		Rating:       in.Rating,
		ContactEmail: in.ContactEmail,
		Status:       in.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if r.Status == "" {
		r.Status = insurance.ReinsurerActive
	}
	if err := validateReinsurer(r); err != nil {
		return nil, err
	}

	if err := s.store.InsertReinsurer(ctx, r); err != nil {
		if errors.Is(err, insurance.ErrConflict) {
			return nil, fmt.Errorf("reinsurer code %s already exists: %w", r.Code, insurance.ErrConflict)
		}
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityReinsurer, string(r.ID), insurance.ActionCreate, nil, r, now))
	s.logger.Info("reinsurer created", zap.String("reinsurer_id", string(r.ID)), zap.String("code", r.Code))
	return r, nil
}

func (s *ReinsurerService) Update(ctx context.Context, actor insurance.Actor, id insurance.ReinsurerID, patch ReinsurerPatch) (*insurance.Reinsurer, error) {
	current, err := s.store.GetReinsurer(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	if patch.Name != nil {
		updated.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Country != nil {
		updated.Country = *patch.Country
	}
	if patch.Rating != nil {
		updated.Rating = *patch.Rating
	}
	if patch.ContactEmail != nil {
		updated.ContactEmail = *patch.ContactEmail
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if err := validateReinsurer(&updated); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated.UpdatedAt = now
	if err := s.store.UpdateReinsurer(ctx, &updated); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.Event(insurance.EntityReinsurer, string(id), insurance.ActionUpdate, current, &updated, now))
	return &updated, nil
}

func (s *ReinsurerService) Get(ctx context.Context, id insurance.ReinsurerID) (*insurance.Reinsurer, error) {
	return s.store.GetReinsurer(ctx, id)
}

// List returns reinsurers ordered by name, optionally filtered by status.
func (s *ReinsurerService) List(ctx context.Context, status *insurance.ReinsurerStatus) ([]insurance.Reinsurer, error) {
	return s.store.ListReinsurers(ctx, status)
}

func validateReinsurer(r *insurance.Reinsurer) error {
	if r.Name == "" {
		return &insurance.ValidationError{Field: "name", Message: "is required"}
	}
	if r.Rating != "" && !r.Rating.Valid() {
		return &insurance.ValidationError{Field: "rating", Message: "must be one of AAA, AA, A, BBB"}
	}
	if r.ContactEmail != "" {
		if _, err := mail.ParseAddress(r.ContactEmail); err != nil {
			return &insurance.ValidationError{Field: "contactEmail", Message: "is not a valid address"}
		}
	}
	if !r.Status.Valid() {
		return &insurance.ValidationError{Field: "status", Message: "must be ACTIVE or INACTIVE"}
	}
	return nil
}
