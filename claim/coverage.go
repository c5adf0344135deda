package claim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reinsurance-engine/insurance"
)

// Coverage rejection reasons.
const (
	ReasonPolicyNotFound    = "Policy not found"
	ReasonPolicyNotActive   = "Policy is not active"
	ReasonBeforePolicyStart = "Incident date before policy start"
	ReasonAfterPolicyEnd    = "Incident date after policy end"
	ReasonExceedsSumInsured = "Claim amount exceeds sum insured"
)

// CheckCoverage reports why a claim of amount for an incident at
// incidentDate is not covered by policy, or nil when it is. A nil policy
// is not covered. Window bounds are inclusive and only apply when set.
func CheckCoverage(policy *insurance.Policy, amount insurance.Amount, incidentDate time.Time) error {
	switch {
	case policy == nil:
		return &insurance.CoverageError{Reason: ReasonPolicyNotFound}
	case policy.Status != insurance.PolicyActive:
		return &insurance.CoverageError{Reason: ReasonPolicyNotActive}
	case policy.EffectiveFrom != nil && incidentDate.Before(*policy.EffectiveFrom):
		return &insurance.CoverageError{Reason: ReasonBeforePolicyStart}
	case policy.EffectiveTo != nil && incidentDate.After(*policy.EffectiveTo):
		return &insurance.CoverageError{Reason: ReasonAfterPolicyEnd}
	case amount.GreaterThan(policy.SumInsured):
		return &insurance.CoverageError{Reason: ReasonExceedsSumInsured}
	}
	return nil
}

// =============================================================================
// FRAUD FLAGS - advisory, returned once at intake, never persisted
// =============================================================================

type FraudFlag string

const (
	FlagHighAmount FraudFlag = "HIGH_AMOUNT"
	FlagLateReport FraudFlag = "LATE_REPORT"
)

var (
	highAmountRatio = decimal.RequireFromString("0.9")
	lateReportAfter = 30 * 24 * time.Hour
)

// FraudFlags returns the advisory flags raised by a claim against its policy.
//
//	HIGH_AMOUNT  claimAmount > 0.9 × sumInsured
//	LATE_REPORT  reportedDate − incidentDate > 30 days
func FraudFlags(c *insurance.Claim, policy *insurance.Policy) []FraudFlag {
	var flags []FraudFlag
	if c.ClaimAmount.GreaterThan(policy.SumInsured.Mul(highAmountRatio)) {
		flags = append(flags, FlagHighAmount)
	}
	if c.ReportedDate.Sub(c.IncidentDate) > lateReportAfter {
		flags = append(flags, FlagLateReport)
	}
	return flags
}
