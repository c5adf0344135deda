package api

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/warp/reinsurance-engine/insurance"
)

// Authenticator resolves a bearer access token to the calling Actor.
// Implemented by *auth.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, ipAddress string) (insurance.Actor, error)
}

type actorKey struct{}

// authenticate rejects requests without a valid bearer token and stores
// the Actor in the request context.
func authenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}

			actor, err := a.Authenticate(r.Context(), strings.TrimSpace(token), clientIP(r))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

// requireRole allows the request through when the actor holds one of roles.
func requireRole(roles ...insurance.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authentication required", nil)
				return
			}
			if !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(ctx context.Context) (insurance.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(insurance.Actor)
	return actor, ok
}

// clientIP strips the port from RemoteAddr. middleware.RealIP has already
// applied X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
