package middleware

// Per-caller token buckets (golang.org/x/time/rate). Routes that start paid
// work (planning, batch creation, manual triggers and retries) cost more
// tokens than reads, so a client polling the queue monitor cannot starve its
// own submissions and a burst of submissions drains the bucket quickly.
//
// Buckets are process-local. Idempotent replays flagged by
// IdempotencyValidator are never charged.

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP returns a keyFunc that prefers the user identity set by Auth
// and falls back to the client IP address. The shared demo identity is keyed
// by IP so anonymous callers do not drain one bucket together.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s := UserID(c); s != "" && s != DemoUser {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// RouteCosts maps "METHOD /full/path" (gin's FullPath) to a token cost.
// Unlisted routes cost 1.
type RouteCosts map[string]int

// Cost returns the charge for the matched route.
func (rc RouteCosts) Cost(c *gin.Context) int {
	if n, ok := rc[c.Request.Method+" "+c.FullPath()]; ok && n > 0 {
		return n
	}
	return 1
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a per-key token-bucket rate limiter. It is safe for
// concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	costs RouteCosts

	mu        sync.Mutex
	visitors  map[string]*visitor
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size, keyed by keyFn. burst <= 0 is coerced to 1. Costs above
// the burst are capped at the burst so a single request can always pass on
// a full bucket.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, costs RouteCosts) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		costs:    costs,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Idle buckets
// are swept at most once per TTL, before the requested key is touched.
func (rl *RateLimiter) getVisitor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request for
// rate-limit bypass (a replay of a previously completed request).
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the limiting middleware. Denied requests get 429 with the
// standard error envelope and a Retry-After computed from the bucket's refill
// rate; X-RateLimit-Remaining reports whole tokens left after the charge.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.getVisitor(rl.keyFn(c), now)
		cost := min(rl.costs.Cost(c), rl.burst)

		if lim.AllowN(now, cost) {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, int(lim.TokensAt(now)))))
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(rl.retryAfter(lim, now, cost)))
		c.Header("X-RateLimit-Remaining", "0")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfter is the whole number of seconds until cost tokens are available,
// at least 1.
func (rl *RateLimiter) retryAfter(lim *rate.Limiter, now time.Time, cost int) int {
	if rl.rps <= 0 {
		return 60
	}
	missing := float64(cost) - lim.TokensAt(now)
	secs := int(math.Ceil(missing / float64(rl.rps)))
	return max(secs, 1)
}
