package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/reinsurance-engine/claim"
	"github.com/warp/reinsurance-engine/insurance"
)

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// CreateClaim submits a claim against a policy. Coverage failures are 422.
// POST /api/claims
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if !decode(w, r, &req) {
		return
	}

	in := claim.CreateInput{
		PolicyID:    insurance.PolicyID(req.PolicyID),
		ClaimAmount: req.ClaimAmount,
		Remarks:     req.Remarks,
	}
	if req.IncidentDate != nil {
		in.IncidentDate = req.IncidentDate.Time
	}
	if req.ReportedDate != nil {
		in.ReportedDate = req.ReportedDate.Time
	}

	intake, err := h.Claims.Create(r.Context(), actor(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimResponse(intake))
}

// GetClaim returns a single claim.
// GET /api/claims/{id}
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.Claims.Get(r.Context(), insurance.ClaimID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// UpdateClaimStatus moves a claim along its lifecycle.
// PATCH /api/claims/{id}/status
func (h *Handler) UpdateClaimStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateClaimStatusRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := h.Claims.Transition(r.Context(), actor(r), insurance.ClaimID(chi.URLParam(r, "id")), claim.TransitionInput{
		Status:         insurance.ClaimStatus(req.Status),
		ApprovedAmount: req.ApprovedAmount,
		Remarks:        req.Remarks,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}
