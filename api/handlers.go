/*
handlers.go - HTTP API handlers for the underwriting back office

PURPOSE:
  Exposes the policy, claim and reinsurance services via REST API. Handles
  HTTP request/response and JSON serialization, and delegates every
  decision to the domain services. Handlers hold no business rules.

ENDPOINTS:
  Auth (public):
    POST   /api/auth/login                       Email + password → token pair
    POST   /api/auth/refresh                     Rotate refresh token
    POST   /api/auth/logout                      Revoke refresh token
  Users (ADMIN):
    GET    /api/users                            List (status, role)
    POST   /api/users                            Register
    GET    /api/users/{id}                       Get
    PATCH  /api/users/{id}                       Update profile, role, status, password

  Policies (UNDERWRITER, ADMIN):
    GET    /api/policies                         List (status, line_of_business)
    POST   /api/policies                         Create DRAFT
    GET    /api/policies/{id}                    Get
    PATCH  /api/policies/{id}                    Update DRAFT
    POST   /api/policies/{id}/approve|reject|suspend

  Claims (CLAIMS_ADJUSTER, ADMIN):
    POST   /api/claims                           Submit (returns fraud flags)
    GET    /api/claims/{id}                      Get
    PATCH  /api/claims/{id}/status               Transition

  Reinsurance (REINSURANCE_MANAGER, ADMIN):
    /api/reinsurers, /api/treaties               CRUD without delete
    GET    /api/risk-allocations/policy/{id}     Current allocation
    POST   /api/risk-allocations/policy/{id}/recalculate (+ UNDERWRITER)

  Reporting (any authenticated user):
    GET    /api/dashboard/*                      Portfolio aggregates
    GET    /api/audit-logs                       Audit trail (ADMIN)

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: Validation
  - 401: Bad credentials, bad or expired token
  - 403: Inactive account, role not allowed
  - 404: Resource not found
  - 409: Invalid state or transition, concurrent modification, duplicate
  - 422: Coverage check failed, limit exceeded
  - 503: Store unavailable (retryable)
  - 500: Anything else (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Authentication and role gates
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/auth"
	"github.com/warp/reinsurance-engine/claim"
	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/logging"
	"github.com/warp/reinsurance-engine/policy"
	"github.com/warp/reinsurance-engine/reinsurance"
	"github.com/warp/reinsurance-engine/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditLog lists persisted audit records. Implemented by *audit.Notifier.
type AuditLog interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Auth        *auth.Service
	Policies    *policy.Manager
	Claims      *claim.Manager
	Engine      *reinsurance.Engine
	Treaties    *reinsurance.TreatyService
	Reinsurers  *reinsurance.ReinsurerService
	Allocations insurance.AllocationStore
	Reports     *reporting.Service
	Audit       AuditLog
	Health      []Pinger

	logger *zap.Logger
}

// NewHandler returns a handler logging to logger. Dependencies are set on
// the exported fields.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logging.OrNop(logger)}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login exchanges credentials for a token pair.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.Auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Refresh rotates a refresh token into a new pair.
// POST /api/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Logout revokes a refresh token. Unknown tokens succeed.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HEALTH & AUDIT
// =============================================================================

// HealthCheck pings every backing store.
// GET /api/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, p := range h.Health {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: time.Now().UTC().Format(time.RFC3339)})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

// ListAuditLogs returns audit records, newest first.
// GET /api/audit-logs?entity_type=POLICY&entity_id=...&limit=50
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		EntityType: insurance.EntityType(r.URL.Query().Get("entity_type")),
		EntityID:   r.URL.Query().Get("entity_id"),
		Limit:      100,
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		q.Limit = n
	}

	records, err := h.Audit.Query(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]AuditLogDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditLogDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// actor returns the authenticated caller. Routes that reach a handler
// have passed the authenticate middleware.
func actor(r *http.Request) insurance.Actor {
	a, _ := actorFrom(r.Context())
	return a
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail writes err and logs it when it is not the client's fault.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusOf(err); status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeDomainError(w, err)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	switch {
	case status == http.StatusInternalServerError:
		writeError(w, status, "Internal server error", nil)
	case status == http.StatusServiceUnavailable:
		writeError(w, status, "Service temporarily unavailable", nil)
	default:
		writeError(w, status, http.StatusText(status), err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, insurance.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInactiveUser):
		return http.StatusForbidden
	case errors.Is(err, insurance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, insurance.ErrInvalidState),
		errors.Is(err, insurance.ErrInvalidTransition),
		errors.Is(err, insurance.ErrConcurrentModification),
		errors.Is(err, insurance.ErrDuplicateNumber),
		errors.Is(err, insurance.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, insurance.ErrCoverage),
		errors.Is(err, insurance.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, insurance.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
