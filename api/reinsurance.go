package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/reinsurance-engine/insurance"
)

// =============================================================================
// REINSURER HANDLERS
// =============================================================================

// ListReinsurers returns reinsurers ordered by name.
// GET /api/reinsurers?status=ACTIVE
func (h *Handler) ListReinsurers(w http.ResponseWriter, r *http.Request) {
	var status *insurance.ReinsurerStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := insurance.ReinsurerStatus(s)
		status = &st
	}

	reinsurers, err := h.Reinsurers.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ReinsurerDTO, len(reinsurers))
	for i := range reinsurers {
		dtos[i] = toReinsurerDTO(&reinsurers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/reinsurers/{id}
func (h *Handler) GetReinsurer(w http.ResponseWriter, r *http.Request) {
	re, err := h.Reinsurers.Get(r.Context(), insurance.ReinsurerID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReinsurerDTO(re))
}

// CreateReinsurer registers a reinsurer. Duplicate codes are 409.
// POST /api/reinsurers
func (h *Handler) CreateReinsurer(w http.ResponseWriter, r *http.Request) {
	var req CreateReinsurerRequest
	if !decode(w, r, &req) {
		return
	}

	re, err := h.Reinsurers.Create(r.Context(), actor(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReinsurerDTO(re))
}

// PATCH /api/reinsurers/{id}
func (h *Handler) UpdateReinsurer(w http.ResponseWriter, r *http.Request) {
	var req UpdateReinsurerRequest
	if !decode(w, r, &req) {
		return
	}

	re, err := h.Reinsurers.Update(r.Context(), actor(r), insurance.ReinsurerID(chi.URLParam(r, "id")), req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReinsurerDTO(re))
}

// =============================================================================
// TREATY HANDLERS
// =============================================================================

// ListTreaties returns treaties ordered by id.
// GET /api/treaties?status=ACTIVE&reinsurer_id=...&line_of_business=HEALTH
func (h *Handler) ListTreaties(w http.ResponseWriter, r *http.Request) {
	var filter insurance.TreatyFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st := insurance.TreatyStatus(s)
		filter.Status = &st
	}
	if s := q.Get("reinsurer_id"); s != "" {
		id := insurance.ReinsurerID(s)
		filter.ReinsurerID = &id
	}
	if s := q.Get("line_of_business"); s != "" {
		lob := insurance.LineOfBusiness(s)
		filter.LineOfBusiness = &lob
	}

	treaties, err := h.Treaties.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]TreatyDTO, len(treaties))
	for i := range treaties {
		dtos[i] = toTreatyDTO(&treaties[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/treaties/{id}
func (h *Handler) GetTreaty(w http.ResponseWriter, r *http.Request) {
	t, err := h.Treaties.Get(r.Context(), insurance.TreatyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatyDTO(t))
}

// POST /api/treaties
func (h *Handler) CreateTreaty(w http.ResponseWriter, r *http.Request) {
	var req CreateTreatyRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.Treaties.Create(r.Context(), actor(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTreatyDTO(t))
}

// PATCH /api/treaties/{id}
func (h *Handler) UpdateTreaty(w http.ResponseWriter, r *http.Request) {
	var req UpdateTreatyRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := h.Treaties.Update(r.Context(), actor(r), insurance.TreatyID(chi.URLParam(r, "id")), req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatyDTO(t))
}

// =============================================================================
// RISK ALLOCATION HANDLERS
// =============================================================================

// GetAllocation returns the stored allocation of a policy. A policy with
// no allocation is 404.
// GET /api/risk-allocations/policy/{policyID}
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.Allocations.GetAllocation(r.Context(), insurance.PolicyID(chi.URLParam(r, "policyID")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(a))
}

// Recalculate reruns the allocation engine for one policy.
// POST /api/risk-allocations/policy/{policyID}/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	out, err := h.Engine.Calculate(r.Context(), insurance.PolicyID(chi.URLParam(r, "policyID")), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}
