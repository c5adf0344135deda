package api

import (
	"net/http"
	"strconv"
)

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GET /api/dashboard/exposure-by-policy-type
func (h *Handler) ExposureByLine(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.ExposureByLine(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]LineExposureDTO, len(rows))
	for i, e := range rows {
		dtos[i] = LineExposureDTO{
			LineOfBusiness: string(e.LineOfBusiness),
			TotalExposure:  e.TotalExposure,
			TotalPremium:   e.TotalPremium,
			Count:          e.Count,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/dashboard/claims-ratio
func (h *Handler) ClaimsRatio(w http.ResponseWriter, r *http.Request) {
	ratio, err := h.Reports.ClaimsRatio(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimsRatioDTO(ratio))
}

// GET /api/dashboard/reinsurer-risk-distribution
func (h *Handler) ReinsurerDistribution(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.ReinsurerDistribution(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ReinsurerExposureDTO, len(rows))
	for i, e := range rows {
		dtos[i] = ReinsurerExposureDTO{
			ReinsurerID:    string(e.ReinsurerID),
			ReinsurerName:  e.ReinsurerName,
			ReinsurerCode:  e.ReinsurerCode,
			TotalAllocated: e.TotalAllocated,
			PolicyCount:    e.PolicyCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LossRatioTrend groups paid claims by month. months defaults to 12;
// unparseable values fall back to the default.
// GET /api/dashboard/loss-ratio-trends?months=6
func (h *Handler) LossRatioTrend(w http.ResponseWriter, r *http.Request) {
	months, _ := strconv.Atoi(r.URL.Query().Get("months"))

	rows, err := h.Reports.LossRatioTrend(r.Context(), months)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]MonthlyClaimsDTO, len(rows))
	for i, m := range rows {
		dtos[i] = MonthlyClaimsDTO{
			Year:          m.Year,
			Month:         int(m.Month),
			TotalApproved: m.TotalApproved,
			Count:         m.Count,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}
