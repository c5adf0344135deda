/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external contract: snake_case field names,
  decimal amounts as strings, RFC 3339 timestamps.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers that add side-channel fields (fraud flags,
    allocation warnings)

VALIDATION:
  Validation is done by the domain services, not in DTOs. DTOs are pure
  data carriers; handlers only reject bodies that do not decode.

SEE ALSO:
  - handlers.go: Uses these types
  - insurance/types.go: Domain entities
*/
package api

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/auth"
	"github.com/warp/reinsurance-engine/claim"
	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/policy"
	"github.com/warp/reinsurance-engine/reinsurance"
	"github.com/warp/reinsurance-engine/reporting"
)

// Date accepts either a calendar date (2006-01-02) or an RFC 3339
// timestamp. Calendar dates are midnight UTC.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t.UTC()
	return nil
}

func (d *Date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UserDTO struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type SessionResponse struct {
	User         UserDTO `json:"user"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
}

type RegisterUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpdateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Status   *string `json:"status,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (req UpdateUserRequest) patch() auth.UserPatch {
	p := auth.UserPatch{Username: req.Username, Email: req.Email, Password: req.Password}
	if req.Role != nil {
		role := insurance.Role(*req.Role)
		p.Role = &role
	}
	if req.Status != nil {
		status := insurance.UserStatus(*req.Status)
		p.Status = &status
	}
	return p
}

func toUserDTO(u *insurance.User) UserDTO {
	return UserDTO{
		ID:          string(u.ID),
		Username:    u.Username,
		Email:       u.Email,
		Role:        string(u.Role),
		Status:      string(u.Status),
		LastLoginAt: u.LastLoginAt,
	}
}

func toSessionResponse(s *auth.Session) SessionResponse {
	return SessionResponse{
		User:         toUserDTO(s.User),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.ExpiresIn.Seconds()),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyDTO struct {
	ID             string            `json:"id"`
	PolicyNumber   string            `json:"policy_number"`
	InsuredName    string            `json:"insured_name"`
	InsuredType    string            `json:"insured_type"`
	LineOfBusiness string            `json:"line_of_business"`
	SumInsured     insurance.Amount  `json:"sum_insured"`
	Premium        insurance.Amount  `json:"premium"`
	RetentionLimit *insurance.Amount `json:"retention_limit,omitempty"`
	Status         string            `json:"status"`
	EffectiveFrom  *time.Time        `json:"effective_from,omitempty"`
	EffectiveTo    *time.Time        `json:"effective_to,omitempty"`
	CreatedBy      string            `json:"created_by"`
	ApprovedBy     *string           `json:"approved_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type CreatePolicyRequest struct {
	InsuredName    string            `json:"insured_name"`
	InsuredType    string            `json:"insured_type"`
	LineOfBusiness string            `json:"line_of_business"`
	SumInsured     insurance.Amount  `json:"sum_insured"`
	Premium        insurance.Amount  `json:"premium"`
	RetentionLimit *insurance.Amount `json:"retention_limit,omitempty"`
	EffectiveFrom  *Date             `json:"effective_from,omitempty"`
	EffectiveTo    *Date             `json:"effective_to,omitempty"`
}

// UpdatePolicyRequest is a partial update. Absent fields are unchanged.
type UpdatePolicyRequest struct {
	InsuredName    *string           `json:"insured_name,omitempty"`
	InsuredType    *string           `json:"insured_type,omitempty"`
	LineOfBusiness *string           `json:"line_of_business,omitempty"`
	SumInsured     *insurance.Amount `json:"sum_insured,omitempty"`
	Premium        *insurance.Amount `json:"premium,omitempty"`
	RetentionLimit *insurance.Amount `json:"retention_limit,omitempty"`
	EffectiveFrom  *Date             `json:"effective_from,omitempty"`
	EffectiveTo    *Date             `json:"effective_to,omitempty"`
}

// PolicyResponse wraps a policy mutation. AllocationWarning is set when
// the reinsurance recalculation that follows the mutation failed; the
// mutation itself succeeded.
type PolicyResponse struct {
	Policy            PolicyDTO   `json:"policy"`
	Allocation        *OutcomeDTO `json:"allocation,omitempty"`
	AllocationWarning string      `json:"allocation_warning,omitempty"`
}

func toPolicyDTO(p *insurance.Policy) PolicyDTO {
	dto := PolicyDTO{
		ID:             string(p.ID),
		PolicyNumber:   p.PolicyNumber,
		InsuredName:    p.InsuredName,
		InsuredType:    string(p.InsuredType),
		LineOfBusiness: string(p.LineOfBusiness),
		SumInsured:     p.SumInsured,
		Premium:        p.Premium,
		RetentionLimit: p.RetentionLimit,
		Status:         string(p.Status),
		EffectiveFrom:  p.EffectiveFrom,
		EffectiveTo:    p.EffectiveTo,
		CreatedBy:      string(p.CreatedBy),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.ApprovedBy != nil {
		s := string(*p.ApprovedBy)
		dto.ApprovedBy = &s
	}
	return dto
}

func (req CreatePolicyRequest) input() policy.CreateInput {
	return policy.CreateInput{
		InsuredName:    strings.TrimSpace(req.InsuredName),
		InsuredType:    insurance.InsuredType(req.InsuredType),
		LineOfBusiness: insurance.LineOfBusiness(req.LineOfBusiness),
		SumInsured:     req.SumInsured,
		Premium:        req.Premium,
		RetentionLimit: req.RetentionLimit,
		EffectiveFrom:  req.EffectiveFrom.ptr(),
		EffectiveTo:    req.EffectiveTo.ptr(),
	}
}

func (req UpdatePolicyRequest) input() policy.UpdateInput {
	in := policy.UpdateInput{
		InsuredName:    req.InsuredName,
		SumInsured:     req.SumInsured,
		Premium:        req.Premium,
		RetentionLimit: req.RetentionLimit,
		EffectiveFrom:  req.EffectiveFrom.ptr(),
		EffectiveTo:    req.EffectiveTo.ptr(),
	}
	if req.InsuredType != nil {
		t := insurance.InsuredType(*req.InsuredType)
		in.InsuredType = &t
	}
	if req.LineOfBusiness != nil {
		l := insurance.LineOfBusiness(*req.LineOfBusiness)
		in.LineOfBusiness = &l
	}
	return in
}

// =============================================================================
// CLAIMS
// =============================================================================

type ClaimDTO struct {
	ID             string            `json:"id"`
	ClaimNumber    string            `json:"claim_number"`
	PolicyID       string            `json:"policy_id"`
	ClaimAmount    insurance.Amount  `json:"claim_amount"`
	ApprovedAmount *insurance.Amount `json:"approved_amount,omitempty"`
	Status         string            `json:"status"`
	IncidentDate   time.Time         `json:"incident_date"`
	ReportedDate   time.Time         `json:"reported_date"`
	HandledBy      *string           `json:"handled_by,omitempty"`
	Remarks        string            `json:"remarks,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type CreateClaimRequest struct {
	PolicyID     string           `json:"policy_id"`
	ClaimAmount  insurance.Amount `json:"claim_amount"`
	IncidentDate *Date            `json:"incident_date"`
	ReportedDate *Date            `json:"reported_date,omitempty"`
	Remarks      string           `json:"remarks,omitempty"`
}

type UpdateClaimStatusRequest struct {
	Status         string            `json:"status"`
	ApprovedAmount *insurance.Amount `json:"approved_amount,omitempty"`
	Remarks        *string           `json:"remarks,omitempty"`
}

// ClaimResponse carries the advisory fraud flags raised at intake.
type ClaimResponse struct {
	Claim      ClaimDTO `json:"claim"`
	FraudFlags []string `json:"fraud_flags"`
}

func toClaimDTO(c *insurance.Claim) ClaimDTO {
	dto := ClaimDTO{
		ID:             string(c.ID),
		ClaimNumber:    c.ClaimNumber,
		PolicyID:       string(c.PolicyID),
		ClaimAmount:    c.ClaimAmount,
		ApprovedAmount: c.ApprovedAmount,
		Status:         string(c.Status),
		IncidentDate:   c.IncidentDate,
		ReportedDate:   c.ReportedDate,
		Remarks:        c.Remarks,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.HandledBy != nil {
		s := string(*c.HandledBy)
		dto.HandledBy = &s
	}
	return dto
}

func toClaimResponse(in *claim.Intake) ClaimResponse {
	flags := make([]string, len(in.FraudFlags))
	for i, f := range in.FraudFlags {
		flags[i] = string(f)
	}
	return ClaimResponse{Claim: toClaimDTO(in.Claim), FraudFlags: flags}
}

// =============================================================================
// REINSURERS & TREATIES
// =============================================================================

type ReinsurerDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	Country      string    `json:"country,omitempty"`
	Rating       string    `json:"rating,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateReinsurerRequest struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	Country      string `json:"country"`
	Rating       string `json:"rating"`
	ContactEmail string `json:"contact_email"`
	Status       string `json:"status"`
}

type UpdateReinsurerRequest struct {
	Name         *string `json:"name,omitempty"`
	Country      *string `json:"country,omitempty"`
	Rating       *string `json:"rating,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	Status       *string `json:"status,omitempty"`
}

func toReinsurerDTO(r *insurance.Reinsurer) ReinsurerDTO {
	return ReinsurerDTO{
		ID:           string(r.ID),
		Name:         r.Name,
		Code:         r.Code,
		Country:      r.Country,
		Rating:       string(r.Rating),
		ContactEmail: r.ContactEmail,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (req CreateReinsurerRequest) input() reinsurance.ReinsurerInput {
	return reinsurance.ReinsurerInput{
		Name:         req.Name,
		Code:         req.Code,
		Country:      req.Country,
		Rating:       insurance.ReinsurerRating(req.Rating),
		ContactEmail: req.ContactEmail,
		Status:       insurance.ReinsurerStatus(req.Status),
	}
}

func (req UpdateReinsurerRequest) patch() reinsurance.ReinsurerPatch {
	p := reinsurance.ReinsurerPatch{
		Name:         req.Name,
		Country:      req.Country,
		ContactEmail: req.ContactEmail,
	}
	if req.Rating != nil {
		r := insurance.ReinsurerRating(*req.Rating)
		p.Rating = &r
	}
	if req.Status != nil {
		s := insurance.ReinsurerStatus(*req.Status)
		p.Status = &s
	}
	return p
}

type TreatyDTO struct {
	ID              string            `json:"id"`
	TreatyName      string            `json:"treaty_name"`
	TreatyType      string            `json:"treaty_type"`
	ReinsurerID     string            `json:"reinsurer_id"`
	SharePercentage decimal.Decimal   `json:"share_percentage"`
	RetentionLimit  *insurance.Amount `json:"retention_limit,omitempty"`
	TreatyLimit     *insurance.Amount `json:"treaty_limit,omitempty"`
	ApplicableLOBs  []string          `json:"applicable_lobs"`
	EffectiveFrom   time.Time         `json:"effective_from"`
	EffectiveTo     time.Time         `json:"effective_to"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type CreateTreatyRequest struct {
	TreatyName      string            `json:"treaty_name"`
	TreatyType      string            `json:"treaty_type"`
	ReinsurerID     string            `json:"reinsurer_id"`
	SharePercentage decimal.Decimal   `json:"share_percentage"`
	RetentionLimit  *insurance.Amount `json:"retention_limit,omitempty"`
	TreatyLimit     *insurance.Amount `json:"treaty_limit,omitempty"`
	ApplicableLOBs  []string          `json:"applicable_lobs,omitempty"`
	EffectiveFrom   *Date             `json:"effective_from,omitempty"`
	EffectiveTo     *Date             `json:"effective_to"`
	Status          string            `json:"status,omitempty"`
}

type UpdateTreatyRequest struct {
	TreatyName      *string           `json:"treaty_name,omitempty"`
	SharePercentage *decimal.Decimal  `json:"share_percentage,omitempty"`
	RetentionLimit  *insurance.Amount `json:"retention_limit,omitempty"`
	TreatyLimit     *insurance.Amount `json:"treaty_limit,omitempty"`
	ApplicableLOBs  []string          `json:"applicable_lobs,omitempty"`
	EffectiveFrom   *Date             `json:"effective_from,omitempty"`
	EffectiveTo     *Date             `json:"effective_to,omitempty"`
	Status          *string           `json:"status,omitempty"`
}

func toTreatyDTO(t *insurance.Treaty) TreatyDTO {
	lobs := make([]string, len(t.ApplicableLOBs))
	for i, l := range t.ApplicableLOBs {
		lobs[i] = string(l)
	}
	return TreatyDTO{
		ID:              string(t.ID),
		TreatyName:      t.TreatyName,
		TreatyType:      string(t.TreatyType),
		ReinsurerID:     string(t.ReinsurerID),
		SharePercentage: t.SharePercentage,
		RetentionLimit:  t.RetentionLimit,
		TreatyLimit:     t.TreatyLimit,
		ApplicableLOBs:  lobs,
		EffectiveFrom:   t.EffectiveFrom,
		EffectiveTo:     t.EffectiveTo,
		Status:          string(t.Status),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func lines(in []string) []insurance.LineOfBusiness {
	if in == nil {
		return nil
	}
	out := make([]insurance.LineOfBusiness, len(in))
	for i, l := range in {
		out[i] = insurance.LineOfBusiness(l)
	}
	return out
}

func (req CreateTreatyRequest) input() reinsurance.TreatyInput {
	in := reinsurance.TreatyInput{
		TreatyName:      strings.TrimSpace(req.TreatyName),
		TreatyType:      insurance.TreatyType(req.TreatyType),
		ReinsurerID:     insurance.ReinsurerID(req.ReinsurerID),
		SharePercentage: req.SharePercentage,
		RetentionLimit:  req.RetentionLimit,
		TreatyLimit:     req.TreatyLimit,
		ApplicableLOBs:  lines(req.ApplicableLOBs),
		EffectiveFrom:   req.EffectiveFrom.ptr(),
		Status:          insurance.TreatyStatus(req.Status),
	}
	if req.EffectiveTo != nil {
		in.EffectiveTo = req.EffectiveTo.Time
	}
	return in
}

func (req UpdateTreatyRequest) patch() reinsurance.TreatyPatch {
	p := reinsurance.TreatyPatch{
		TreatyName:      req.TreatyName,
		SharePercentage: req.SharePercentage,
		RetentionLimit:  req.RetentionLimit,
		TreatyLimit:     req.TreatyLimit,
		ApplicableLOBs:  lines(req.ApplicableLOBs),
		EffectiveFrom:   req.EffectiveFrom.ptr(),
		EffectiveTo:     req.EffectiveTo.ptr(),
	}
	if req.Status != nil {
		s := insurance.TreatyStatus(*req.Status)
		p.Status = &s
	}
	return p
}

// =============================================================================
// RISK ALLOCATION
// =============================================================================

type TreatyAllocationDTO struct {
	ReinsurerID         string           `json:"reinsurer_id"`
	TreatyID            string           `json:"treaty_id"`
	AllocatedAmount     insurance.Amount `json:"allocated_amount"`
	AllocatedPercentage decimal.Decimal  `json:"allocated_percentage"`
}

type AllocationDTO struct {
	PolicyID       string                `json:"policy_id"`
	Allocations    []TreatyAllocationDTO `json:"allocations"`
	TotalCeded     insurance.Amount      `json:"total_ceded"`
	RetainedAmount insurance.Amount      `json:"retained_amount"`
	CalculatedAt   time.Time             `json:"calculated_at"`
	CalculatedBy   string                `json:"calculated_by"`
}

// OutcomeDTO is the result of a recalculation.
type OutcomeDTO struct {
	Applicable bool           `json:"applicable"`
	Reason     string         `json:"reason,omitempty"`
	Allocation *AllocationDTO `json:"allocation,omitempty"`
}

func toAllocationDTO(a *insurance.RiskAllocation) *AllocationDTO {
	if a == nil {
		return nil
	}
	dto := &AllocationDTO{
		PolicyID:       string(a.PolicyID),
		Allocations:    make([]TreatyAllocationDTO, len(a.Allocations)),
		TotalCeded:     a.TotalCeded(),
		RetainedAmount: a.RetainedAmount,
		CalculatedAt:   a.CalculatedAt,
		CalculatedBy:   string(a.CalculatedBy),
	}
	for i, ta := range a.Allocations {
		dto.Allocations[i] = TreatyAllocationDTO{
			ReinsurerID:         string(ta.ReinsurerID),
			TreatyID:            string(ta.TreatyID),
			AllocatedAmount:     ta.AllocatedAmount,
			AllocatedPercentage: ta.AllocatedPercentage,
		}
	}
	return dto
}

func toOutcomeDTO(o *reinsurance.Outcome) *OutcomeDTO {
	if o == nil {
		return nil
	}
	return &OutcomeDTO{
		Applicable: o.Applicable,
		Reason:     o.Reason,
		Allocation: toAllocationDTO(o.Allocation),
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

type LineExposureDTO struct {
	LineOfBusiness string           `json:"line_of_business"`
	TotalExposure  insurance.Amount `json:"total_exposure"`
	TotalPremium   insurance.Amount `json:"total_premium"`
	Count          int              `json:"count"`
}

type ClaimsRatioDTO struct {
	TotalPremium        insurance.Amount `json:"total_premium"`
	TotalClaimsApproved insurance.Amount `json:"total_claims_approved"`
	ClaimsRatioPercent  decimal.Decimal  `json:"claims_ratio_percent"`
}

type ReinsurerExposureDTO struct {
	ReinsurerID    string           `json:"reinsurer_id"`
	ReinsurerName  string           `json:"reinsurer_name,omitempty"`
	ReinsurerCode  string           `json:"reinsurer_code,omitempty"`
	TotalAllocated insurance.Amount `json:"total_allocated"`
	PolicyCount    int              `json:"policy_count"`
}

type MonthlyClaimsDTO struct {
	Year          int              `json:"year"`
	Month         int              `json:"month"`
	TotalApproved insurance.Amount `json:"total_approved"`
	Count         int              `json:"count"`
}

func toClaimsRatioDTO(r *reporting.ClaimsRatio) ClaimsRatioDTO {
	return ClaimsRatioDTO{
		TotalPremium:        r.TotalPremium,
		TotalClaimsApproved: r.TotalClaimsApproved,
		ClaimsRatioPercent:  r.RatioPercent,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditLogDTO struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      string          `json:"action"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	PerformedBy string          `json:"performed_by"`
	PerformedAt time.Time       `json:"performed_at"`
	IPAddress   string          `json:"ip_address,omitempty"`
}

func toAuditLogDTO(r audit.Record) AuditLogDTO {
	return AuditLogDTO{
		ID:          r.ID,
		EntityType:  string(r.EntityType),
		EntityID:    r.EntityID,
		Action:      string(r.Action),
		OldValue:    r.OldValue,
		NewValue:    r.NewValue,
		PerformedBy: string(r.PerformedBy),
		PerformedAt: r.PerformedAt,
		IPAddress:   r.IPAddress,
	}
}
