package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds request volume per TaskID, generalizing the teacher's
// per-tenant limiter cache to fastlane's task-scoped model: every Task gets
// its own token bucket, cached with a TTL so idle tasks don't pin memory
// forever.
type RateLimiter struct {
	limiters sync.Map // taskID -> *cachedLimiter
	ttl      time.Duration
	rps      float64
	burst    int
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle task's limiter is cached before eviction.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithRate sets the sustained requests-per-second and burst allowance per
// task.
func WithRate(rps float64, burst int) Option {
	return func(rl *RateLimiter) { rl.rps, rl.burst = rps, burst }
}

// NewRateLimiter builds a RateLimiter with sensible defaults: 10 req/s,
// burst 20, 5-minute idle TTL.
func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, rps: 10, burst: 20}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// Middleware returns the http.Handler wrapper. Requests whose path carries
// no task_id (e.g. GET /tasks) pass through unlimited, since there is no
// single task to scope them to.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			taskID := r.PathValue("task_id")
			if taskID == "" {
				next.ServeHTTP(w, r)
				return
			}

			if rl.rps <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.getOrCreate(taskID).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) getOrCreate(taskID string) *rate.Limiter {
	if v, ok := rl.limiters.Load(taskID); ok {
		cached := v.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
	rl.limiters.Store(taskID, &cachedLimiter{limiter: limiter, expiresAt: time.Now().Add(rl.ttl)})
	return limiter
}
