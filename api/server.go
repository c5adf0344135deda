/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers and roles to
  route groups.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers (audit ip_address)
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office frontend
  6. authenticate + requireRole on protected groups

ROLE GATES:
  /api/policies/*                      UNDERWRITER, ADMIN
  /api/claims/*                        CLAIMS_ADJUSTER, ADMIN
  /api/reinsurers/*, /api/treaties/*   REINSURANCE_MANAGER, ADMIN
  /api/risk-allocations/* (recalc)     REINSURANCE_MANAGER, UNDERWRITER, ADMIN
  /api/users/*, /api/audit-logs        ADMIN
  /api/dashboard/*                     any authenticated user

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: authenticate, requireRole
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/reinsurance-engine/insurance"
)

// RouterConfig holds the router settings that come from configuration.
type RouterConfig struct {
	AllowedOrigins []string

	// Metrics serves /metrics when set (promhttp handler).
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.Auth))

			r.Route("/policies", func(r chi.Router) {
				r.Use(requireRole(insurance.RoleUnderwriter, insurance.RoleAdmin))
				r.Get("/", h.ListPolicies)
				r.Post("/", h.CreatePolicy)
				r.Get("/{id}", h.GetPolicy)
				r.Patch("/{id}", h.UpdatePolicy)
				r.Post("/{id}/approve", h.ApprovePolicy)
				r.Post("/{id}/reject", h.RejectPolicy)
				r.Post("/{id}/suspend", h.SuspendPolicy)
			})

			r.Route("/claims", func(r chi.Router) {
				r.Use(requireRole(insurance.RoleClaimsAdjuster, insurance.RoleAdmin))
				r.Post("/", h.CreateClaim)
				r.Get("/{id}", h.GetClaim)
				r.Patch("/{id}/status", h.UpdateClaimStatus)
			})

			r.Route("/reinsurers", func(r chi.Router) {
				r.Use(requireRole(insurance.RoleReinsuranceManager, insurance.RoleAdmin))
				r.Get("/", h.ListReinsurers)
				r.Post("/", h.CreateReinsurer)
				r.Get("/{id}", h.GetReinsurer)
				r.Patch("/{id}", h.UpdateReinsurer)
			})

			r.Route("/treaties", func(r chi.Router) {
				r.Use(requireRole(insurance.RoleReinsuranceManager, insurance.RoleAdmin))
				r.Get("/", h.ListTreaties)
				r.Post("/", h.CreateTreaty)
				r.Get("/{id}", h.GetTreaty)
				r.Patch("/{id}", h.UpdateTreaty)
			})

			r.Route("/risk-allocations/policy/{policyID}", func(r chi.Router) {
				r.Use(requireRole(insurance.RoleReinsuranceManager, insurance.RoleUnderwriter, insurance.RoleAdmin))
				r.Get("/", h.GetAllocation)
				r.Post("/recalculate", h.Recalculate)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/exposure-by-policy-type", h.ExposureByLine)
				r.Get("/claims-ratio", h.ClaimsRatio)
				r.Get("/reinsurer-risk-distribution", h.ReinsurerDistribution)
				r.Get("/loss-ratio-trends", h.LossRatioTrend)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(insurance.RoleAdmin))
				r.Route("/users", func(r chi.Router) {
					r.Get("/", h.ListUsers)
					r.Post("/", h.RegisterUser)
					r.Get("/{id}", h.GetUser)
					r.Patch("/{id}", h.UpdateUser)
				})
				r.Get("/audit-logs", h.ListAuditLogs)
			})
		})
	})

	return r
}
