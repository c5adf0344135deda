package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/policy"
)

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns policies, optionally filtered.
// GET /api/policies?status=ACTIVE&line_of_business=HEALTH
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	var filter insurance.PolicyFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status := insurance.PolicyStatus(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("line_of_business"); s != "" {
		lob := insurance.LineOfBusiness(s)
		filter.LineOfBusiness = &lob
	}

	policies, err := h.Policies.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i := range policies {
		dtos[i] = toPolicyDTO(&policies[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicy returns a single policy.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context(), insurance.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p))
}

// CreatePolicy creates a DRAFT policy.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !decode(w, r, &req) {
		return
	}

	mut, err := h.Policies.Create(r.Context(), actor(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, policyResponse(mut))
}

// UpdatePolicy applies a partial update to a DRAFT policy.
// PATCH /api/policies/{id}
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if !decode(w, r, &req) {
		return
	}

	mut, err := h.Policies.Update(r.Context(), actor(r), insurance.PolicyID(chi.URLParam(r, "id")), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse(mut))
}

// ApprovePolicy activates a DRAFT policy.
// POST /api/policies/{id}/approve
func (h *Handler) ApprovePolicy(w http.ResponseWriter, r *http.Request) {
	h.policyAction(w, r, h.Policies.Approve)
}

// RejectPolicy expires a DRAFT policy.
// POST /api/policies/{id}/reject
func (h *Handler) RejectPolicy(w http.ResponseWriter, r *http.Request) {
	h.policyAction(w, r, h.Policies.Reject)
}

// SuspendPolicy suspends an ACTIVE policy.
// POST /api/policies/{id}/suspend
func (h *Handler) SuspendPolicy(w http.ResponseWriter, r *http.Request) {
	h.policyAction(w, r, h.Policies.Suspend)
}

func (h *Handler) policyAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(context.Context, insurance.Actor, insurance.PolicyID) (*policy.Mutation, error),
) {
	mut, err := action(r.Context(), actor(r), insurance.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse(mut))
}

// policyResponse reports the allocation side channel. A failed
// recalculation does not fail the request.
func policyResponse(mut *policy.Mutation) PolicyResponse {
	resp := PolicyResponse{
		Policy:     toPolicyDTO(mut.Policy),
		Allocation: toOutcomeDTO(mut.Allocation),
	}
	if mut.AllocationErr != nil {
		resp.AllocationWarning = mut.AllocationErr.Error()
	}
	return resp
}
