/*
store.go - Persistence boundary for the rules engine

PURPOSE:
  Defines the interface between the lifecycle managers and the database.
  The engine only needs find-by-id, find-one-by-sort (numbering), insert,
  guarded field updates, delete-by-predicate (allocations) and a handful of
  aggregates. Implementations decide the query language.

KEY INTERFACES:
  PolicyStore:     Policies + numbering lookups
  ClaimStore:      Claims + numbering lookups
  TreatyStore:     Treaties and the in-force query used by the allocation engine
  ReinsurerStore:  Reinsurer counterparties (unique code)
  AllocationStore: RiskAllocation upsert/delete keyed by policy
  ReportStore:     Portfolio aggregates for dashboards
  UserStore:       Back-office principals for the auth package

ERROR CONTRACT:
  - Get* returns *NotFoundError when the entity does not exist
  - Insert* returns ErrDuplicateNumber when the generated number is taken,
    ErrConflict when another unique business key is taken
  - Update* with an expected status returns ErrConcurrentModification when
    the stored status no longer matches (compare-and-set)
  - Infrastructure failures (including context deadlines) wrap ErrStoreUnavailable

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - insurance/store/memory.go: In-memory for testing

SEE ALSO:
  - numbering.go: Uses LastPolicyNumber/LastClaimNumber + Insert retry
*/
package insurance

import (
	"context"
	"time"
)

// =============================================================================
// ENTITY STORES
// =============================================================================

type PolicyStore interface {
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)

	// LastPolicyNumber returns the lexicographically greatest policy number
	// with the given prefix, or "" when there is none.
	LastPolicyNumber(ctx context.Context, prefix string) (string, error)

	InsertPolicy(ctx context.Context, p *Policy) error

	// UpdatePolicy writes p only if the stored status still equals expected.
	UpdatePolicy(ctx context.Context, p *Policy, expected PolicyStatus) error

	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)
}

type PolicyFilter struct {
	Status         *PolicyStatus
	LineOfBusiness *LineOfBusiness
}

type ClaimStore interface {
	GetClaim(ctx context.Context, id ClaimID) (*Claim, error)
	LastClaimNumber(ctx context.Context, prefix string) (string, error)
	InsertClaim(ctx context.Context, c *Claim) error

	// UpdateClaim writes c only if the stored status still equals expected.
	UpdateClaim(ctx context.Context, c *Claim, expected ClaimStatus) error
}

type TreatyStore interface {
	GetTreaty(ctx context.Context, id TreatyID) (*Treaty, error)
	InsertTreaty(ctx context.Context, t *Treaty) error
	UpdateTreaty(ctx context.Context, t *Treaty) error

	// ListTreaties returns treaties matching filter, ordered by ID.
	ListTreaties(ctx context.Context, filter TreatyFilter) ([]Treaty, error)
}

// TreatyFilter narrows ListTreaties. Nil fields are ignored.
type TreatyFilter struct {
	Status         *TreatyStatus
	ReinsurerID    *ReinsurerID
	LineOfBusiness *LineOfBusiness
	InForceAt      *time.Time // effectiveFrom <= t <= effectiveTo
}

// Matches applies the filter in memory.
func (f TreatyFilter) Matches(t *Treaty) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.ReinsurerID != nil && t.ReinsurerID != *f.ReinsurerID {
		return false
	}
	if f.LineOfBusiness != nil && !t.Covers(*f.LineOfBusiness) {
		return false
	}
	if f.InForceAt != nil && (f.InForceAt.Before(t.EffectiveFrom) || f.InForceAt.After(t.EffectiveTo)) {
		return false
	}
	return true
}

type ReinsurerStore interface {
	GetReinsurer(ctx context.Context, id ReinsurerID) (*Reinsurer, error)
	GetReinsurerByCode(ctx context.Context, code string) (*Reinsurer, error)

	// InsertReinsurer returns ErrConflict when the code is taken.
	InsertReinsurer(ctx context.Context, r *Reinsurer) error
	UpdateReinsurer(ctx context.Context, r *Reinsurer) error

	// ListReinsurers returns reinsurers ordered by name.
	ListReinsurers(ctx context.Context, status *ReinsurerStatus) ([]Reinsurer, error)
}

// AllocationStore persists RiskAllocation with full-replace semantics.
// There is no partial patch: recalculation upserts the whole record.
type AllocationStore interface {
	GetAllocation(ctx context.Context, policyID PolicyID) (*RiskAllocation, error)

	// UpsertAllocation atomically replaces the allocation for a.PolicyID.
	UpsertAllocation(ctx context.Context, a *RiskAllocation) error

	// DeleteAllocation removes the allocation for the policy. Absent is not an error.
	DeleteAllocation(ctx context.Context, policyID PolicyID) error
}

// UserFilter selects users. Nil fields match everything.
type UserFilter struct {
	Status *UserStatus
	Role   *Role
}

func (f UserFilter) Matches(u *User) bool {
	if f.Status != nil && u.Status != *f.Status {
		return false
	}
	if f.Role != nil && u.Role != *f.Role {
		return false
	}
	return true
}

type UserStore interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// InsertUser and UpdateUser return ErrConflict when the email or
	// username is taken.
	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	TouchLogin(ctx context.Context, id UserID, at time.Time) error

	// ListUsers returns matching users, newest first.
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
}

// =============================================================================
// REPORT STORE - Aggregates
// =============================================================================

type LineExposure struct {
	LineOfBusiness LineOfBusiness
	TotalExposure  Amount
	TotalPremium   Amount
	Count          int
}

type ReinsurerExposure struct {
	ReinsurerID    ReinsurerID
	ReinsurerName  string
	ReinsurerCode  string
	TotalAllocated Amount
	PolicyCount    int
}

type MonthlyClaims struct {
	Year          int
	Month         time.Month
	TotalApproved Amount
	Count         int
}

type ReportStore interface {
	// ExposureByLine groups ACTIVE policies by line of business, largest exposure first.
	ExposureByLine(ctx context.Context) ([]LineExposure, error)

	// PremiumTotal sums premium over policies in the given status.
	PremiumTotal(ctx context.Context, status PolicyStatus) (Amount, error)

	// ApprovedClaimsTotal sums approvedAmount over APPROVED and SETTLED claims.
	ApprovedClaimsTotal(ctx context.Context) (Amount, error)

	// AllocatedByReinsurer sums ceded amounts per reinsurer, largest first.
	AllocatedByReinsurer(ctx context.Context) ([]ReinsurerExposure, error)

	// ApprovedClaimsByMonth groups APPROVED and SETTLED claims created since t by year-month.
	ApprovedClaimsByMonth(ctx context.Context, since time.Time) ([]MonthlyClaims, error)
}

// =============================================================================
// STORE - Everything the engine needs
// =============================================================================

type Store interface {
	PolicyStore
	ClaimStore
	TreatyStore
	ReinsurerStore
	AllocationStore
	ReportStore
	UserStore
}
