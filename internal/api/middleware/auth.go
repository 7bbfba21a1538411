// Package middleware carries the HTTP middleware stack for the External
// Interface Adapter (spec §6): auth and CORS. Grounded on
// control_plane/middleware/auth.go's strict Bearer-header parsing, loosened
// from JWT role claims to an opaque capability-set claim since spec.md
// treats capability derivation as an external collaborator's concern (§1
// Out of scope: "authentication middleware").
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/makermatrix/taskctl/internal/task"
)

type ctxKey string

const actorCtxKey ctxKey = "actor"

// CapabilityResolver maps a bearer token to an Actor. The concrete
// implementation (JWT validation, session lookup, a static dev table) is an
// external collaborator per §1; this package only defines the seam.
type CapabilityResolver func(token string) (task.Actor, error)

// Auth enforces Bearer authentication and injects the resolved Actor into
// the request context, fail-fast on a missing or malformed header — the
// same STRICT posture as the teacher's AuthMiddleware.
func Auth(resolve CapabilityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid Authorization format, expected 'Bearer <token>'", http.StatusUnauthorized)
				return
			}
			actor, err := resolve(parts[1])
			if err != nil {
				http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), actorCtxKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext retrieves the Actor injected by Auth.
func ActorFromContext(ctx context.Context) (task.Actor, bool) {
	a, ok := ctx.Value(actorCtxKey).(task.Actor)
	return a, ok
}
