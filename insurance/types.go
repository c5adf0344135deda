/*
Package insurance provides the shared kernel of the underwriting back office.

PURPOSE:
  Entity types, lifecycle state machines, the error taxonomy and the store
  boundary used by the policy, claim and reinsurance packages. Nothing in
  here talks to a database or the network.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A currency amount backed by decimal.Decimal
  - Policy / Claim: Independently owned lifecycle entities
  - Treaty / Reinsurer: Standing reinsurance agreements and counterparties
  - RiskAllocation: Per-policy ceding result, owned by its Policy (1:1)

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float64
  2. Type Safety: Strong typing for IDs prevents mixing policy/claim IDs
  3. Explicit lifecycles: Status enums with exhaustive transition checks (lifecycle.go)

SEE ALSO:
  - lifecycle.go: Policy and claim state machines
  - errors.go: Error taxonomy
  - store.go: Persistence boundary
*/
package insurance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Currency amount (single currency, no conversion)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

func NewAmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{Value: d}
}

// ParseAmount parses a decimal string such as "1250000.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s)} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.String() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Percent returns a × pct / 100.
func (a Amount) Percent(pct decimal.Decimal) Amount {
	return Amount{Value: a.Value.Mul(pct).Div(decimal.NewFromInt(100))}
}

func (a Amount) MarshalJSON() ([]byte, error) { return a.Value.MarshalJSON() }

func (a *Amount) UnmarshalJSON(b []byte) error { return a.Value.UnmarshalJSON(b) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type ClaimID string
type TreatyID string
type ReinsurerID string
type UserID string

// =============================================================================
// ENUMS
// =============================================================================

type InsuredType string

const (
	InsuredIndividual InsuredType = "INDIVIDUAL"
	InsuredCorporate  InsuredType = "CORPORATE"
)

func (t InsuredType) Valid() bool {
	switch t {
	case InsuredIndividual, InsuredCorporate:
		return true
	}
	return false
}

type LineOfBusiness string

const (
	LineHealth   LineOfBusiness = "HEALTH"
	LineMotor    LineOfBusiness = "MOTOR"
	LineLife     LineOfBusiness = "LIFE"
	LineProperty LineOfBusiness = "PROPERTY"
)

func (l LineOfBusiness) Valid() bool {
	switch l {
	case LineHealth, LineMotor, LineLife, LineProperty:
		return true
	}
	return false
}

type TreatyType string

const (
	TreatyQuotaShare TreatyType = "QUOTA_SHARE"
	TreatySurplus    TreatyType = "SURPLUS"
)

func (t TreatyType) Valid() bool {
	return t == TreatyQuotaShare || t == TreatySurplus
}

type TreatyStatus string

const (
	TreatyActive  TreatyStatus = "ACTIVE"
	TreatyExpired TreatyStatus = "EXPIRED"
)

func (s TreatyStatus) Valid() bool {
	return s == TreatyActive || s == TreatyExpired
}

type ReinsurerRating string

const (
	RatingAAA ReinsurerRating = "AAA"
	RatingAA  ReinsurerRating = "AA"
	RatingA   ReinsurerRating = "A"
	RatingBBB ReinsurerRating = "BBB"
)

func (r ReinsurerRating) Valid() bool {
	switch r {
	case RatingAAA, RatingAA, RatingA, RatingBBB:
		return true
	}
	return false
}

type ReinsurerStatus string

const (
	ReinsurerActive   ReinsurerStatus = "ACTIVE"
	ReinsurerInactive ReinsurerStatus = "INACTIVE"
)

func (s ReinsurerStatus) Valid() bool {
	return s == ReinsurerActive || s == ReinsurerInactive
}

// =============================================================================
// POLICY
// =============================================================================

// Policy is an underwritten risk. Only DRAFT policies are mutable.
type Policy struct {
	ID             PolicyID
	PolicyNumber   string
	InsuredName    string
	InsuredType    InsuredType
	LineOfBusiness LineOfBusiness
	SumInsured     Amount
	Premium        Amount
	RetentionLimit *Amount
	Status         PolicyStatus
	EffectiveFrom  *time.Time
	EffectiveTo    *time.Time
	CreatedBy      UserID
	ApprovedBy     *UserID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Window returns the coverage window of the policy.
func (p *Policy) Window() Window {
	return Window{From: p.EffectiveFrom, To: p.EffectiveTo}
}

// =============================================================================
// CLAIM
// =============================================================================

// Claim holds a non-owning reference to exactly one Policy.
type Claim struct {
	ID             ClaimID
	ClaimNumber    string
	PolicyID       PolicyID
	ClaimAmount    Amount
	ApprovedAmount *Amount // set only at APPROVED / SETTLED
	Status         ClaimStatus
	IncidentDate   time.Time
	ReportedDate   time.Time
	HandledBy      *UserID
	Remarks        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// TREATY & REINSURER
// =============================================================================

type Treaty struct {
	ID              TreatyID
	TreatyName      string
	TreatyType      TreatyType
	ReinsurerID     ReinsurerID
	SharePercentage decimal.Decimal // [0, 100]
	RetentionLimit  *Amount
	TreatyLimit     *Amount // cap on ceded amount per policy
	ApplicableLOBs  []LineOfBusiness
	EffectiveFrom   time.Time
	EffectiveTo     time.Time
	Status          TreatyStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Covers reports whether the treaty applies to the given line of business.
func (t *Treaty) Covers(lob LineOfBusiness) bool {
	for _, l := range t.ApplicableLOBs {
		if l == lob {
			return true
		}
	}
	return false
}

// InForce reports whether the treaty is ACTIVE and its window brackets at (inclusive).
func (t *Treaty) InForce(at time.Time) bool {
	if t.Status != TreatyActive {
		return false
	}
	return !at.Before(t.EffectiveFrom) && !at.After(t.EffectiveTo)
}

type Reinsurer struct {
	ID           ReinsurerID
	Name         string
	Code         string // unique
	Country      string
	Rating       ReinsurerRating
	ContactEmail string
	Status       ReinsurerStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// RISK ALLOCATION - 1:1 with Policy, fully replaced on recalculation
// =============================================================================

type TreatyAllocation struct {
	ReinsurerID         ReinsurerID
	TreatyID            TreatyID
	AllocatedAmount     Amount
	AllocatedPercentage decimal.Decimal
}

type RiskAllocation struct {
	PolicyID       PolicyID
	Allocations    []TreatyAllocation
	RetainedAmount Amount
	CalculatedAt   time.Time
	CalculatedBy   UserID
}

// TotalCeded sums the allocated amounts.
func (r *RiskAllocation) TotalCeded() Amount {
	total := ZeroAmount()
	for _, a := range r.Allocations {
		total = total.Add(a.AllocatedAmount)
	}
	return total
}

// =============================================================================
// USER - back-office principal (credentials live in the auth package)
// =============================================================================

type Role string

const (
	RoleUnderwriter        Role = "UNDERWRITER"
	RoleClaimsAdjuster     Role = "CLAIMS_ADJUSTER"
	RoleReinsuranceManager Role = "REINSURANCE_MANAGER"
	RoleAdmin              Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUnderwriter, RoleClaimsAdjuster, RoleReinsuranceManager, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
)

type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
