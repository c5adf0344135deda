package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/reinsurance-engine/auth"
	"github.com/warp/reinsurance-engine/insurance"
)

// =============================================================================
// USER HANDLERS (ADMIN)
// =============================================================================

// ListUsers returns users newest first.
// GET /api/users?status=ACTIVE&role=UNDERWRITER
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var filter insurance.UserFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		st := insurance.UserStatus(s)
		filter.Status = &st
	}
	if s := q.Get("role"); s != "" {
		role := insurance.Role(s)
		filter.Role = &role
	}

	users, err := h.Auth.ListUsers(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterUser creates a back-office user.
// POST /api/users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.Auth.Register(r.Context(), actor(r), auth.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     insurance.Role(req.Role),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Auth.GetUser(r.Context(), insurance.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// UpdateUser patches a user. Setting status INACTIVE locks the account out
// on its next request.
// PATCH /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.Auth.UpdateUser(r.Context(), actor(r), insurance.UserID(chi.URLParam(r, "id")), req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}
