package middleware

import (
	"net/http"

	"github.com/makermatrix/taskctl/internal/scheduler"
)

// IngressLimit guards the submission endpoint against a single caller
// flooding the process with requests, independent of the Policy Engine's
// per-user/per-type hourly and daily business limits (§4.3.2) — this is a
// coarser, cheaper first line of defense evaluated before a request ever
// reaches the Façade. Grounded on control_plane/scheduler/limiter.go's
// TokenBucketLimiter, reused here as an HTTP-layer guard (see DESIGN.md
// "Adaptations") rather than only a scheduler-internal throttle.
func IngressLimit(rl *scheduler.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if actor, ok := ActorFromContext(r.Context()); ok && actor.UserID != "" {
				key = actor.UserID
			}
			if !rl.Allow(key) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r.WithContext(r.Context()))
		})
	}
}
