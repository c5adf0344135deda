/*
lifecycle.go - Policy and claim state machines

PURPOSE:
  Encodes the allowed lifecycle edges as explicit switches over every
  state. Adding a state without extending the switch falls through to the
  final "return false", so an unknown edge is never silently allowed.

POLICY LIFECYCLE:

  DRAFT ──approve──▶ ACTIVE ──suspend──▶ SUSPENDED
    │
    └──reject──▶ EXPIRED

CLAIM LIFECYCLE:

  SUBMITTED ──▶ IN_REVIEW ──▶ APPROVED ──▶ SETTLED
                    │
                    └──▶ REJECTED

  REJECTED and SETTLED are terminal.

SEE ALSO:
  - policy/manager.go: Applies policy transitions
  - claim/manager.go: Applies claim transitions
*/
package insurance

import "time"

// =============================================================================
// POLICY STATUS
// =============================================================================

type PolicyStatus string

const (
	PolicyDraft     PolicyStatus = "DRAFT"
	PolicyActive    PolicyStatus = "ACTIVE"
	PolicySuspended PolicyStatus = "SUSPENDED"
	PolicyExpired   PolicyStatus = "EXPIRED"
)

func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyDraft, PolicyActive, PolicySuspended, PolicyExpired:
		return true
	}
	return false
}

// Mutable reports whether policy fields may be edited in this state.
func (s PolicyStatus) Mutable() bool {
	return s == PolicyDraft
}

// CanTransitionTo reports whether the lifecycle permits s → target.
func (s PolicyStatus) CanTransitionTo(target PolicyStatus) bool {
	switch s {
	case PolicyDraft:
		return target == PolicyActive || target == PolicyExpired
	case PolicyActive:
		return target == PolicySuspended
	case PolicySuspended:
		return false
	case PolicyExpired:
		return false
	}
	return false
}

// =============================================================================
// CLAIM STATUS
// =============================================================================

type ClaimStatus string

const (
	ClaimSubmitted ClaimStatus = "SUBMITTED"
	ClaimInReview  ClaimStatus = "IN_REVIEW"
	ClaimApproved  ClaimStatus = "APPROVED"
	ClaimRejected  ClaimStatus = "REJECTED"
	ClaimSettled   ClaimStatus = "SETTLED"
)

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimSubmitted, ClaimInReview, ClaimApproved, ClaimRejected, ClaimSettled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRejected || s == ClaimSettled
}

// Pays reports whether entering this state fixes the approved amount.
func (s ClaimStatus) Pays() bool {
	return s == ClaimApproved || s == ClaimSettled
}

// CanTransitionTo reports whether the lifecycle permits s → target.
func (s ClaimStatus) CanTransitionTo(target ClaimStatus) bool {
	switch s {
	case ClaimSubmitted:
		return target == ClaimInReview
	case ClaimInReview:
		return target == ClaimApproved || target == ClaimRejected
	case ClaimApproved:
		return target == ClaimSettled
	case ClaimRejected:
		return false
	case ClaimSettled:
		return false
	}
	return false
}

// =============================================================================
// WINDOW - Optional, inclusive date range
// =============================================================================

// Window is an inclusive [From, To] range where either bound may be open.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Valid reports whether To is not before From when both are set.
func (w Window) Valid() bool {
	if w.From == nil || w.To == nil {
		return true
	}
	return !w.To.Before(*w.From)
}

// BeforeStart reports whether t falls before an explicit lower bound.
func (w Window) BeforeStart(t time.Time) bool {
	return w.From != nil && t.Before(*w.From)
}

// AfterEnd reports whether t falls after an explicit upper bound.
func (w Window) AfterEnd(t time.Time) bool {
	return w.To != nil && t.After(*w.To)
}

func (w Window) Contains(t time.Time) bool {
	return !w.BeforeStart(t) && !w.AfterEnd(t)
}
