package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-key token bucket. Grounded unchanged in shape on
// control_plane/scheduler/limiter.go's TokenBucketLimiter, repurposed here
// as the API-ingress storm guard (see DESIGN.md "Adaptations") rather than a
// scheduler-internal per-node/per-tenant throttle, since §5 forbids an
// artificial cap on in-flight dispatch.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewRateLimiter constructs a limiter allowing r events/sec with burst per
// key.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (l *RateLimiter) ensure(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether an event for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	return l.ensure(key).Allow()
}
