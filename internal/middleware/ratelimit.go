package middleware

import (
	"net/http"
	"sync"
	"time"

	"postroom/internal/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token bucket rate limiter. Buckets unused for
// longer than the idle window are evicted.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a new RateLimiter. idle <= 0 disables eviction.
func NewRateLimiter(rps float64, burst int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// getLimiter retrieves or creates the bucket for ip.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// evict drops buckets idle for longer than the idle window and returns how
// many were removed.
func (rl *RateLimiter) evict() int {
	if rl.idle <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// RunEviction evicts idle buckets until stop is closed.
func (rl *RateLimiter) RunEviction(stop <-chan struct{}) {
	if rl.idle <= 0 {
		return
	}

	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// Middleware returns a Gin middleware that enforces rate limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			common.Error(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
