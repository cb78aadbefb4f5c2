package api

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket throttling pipeline invocations. The clock
// is injectable so refill behavior can be tested without sleeping.
type RateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
	now    func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	return newRateLimiter(maxBurst, ratePerMinute, time.Now)
}

func newRateLimiter(maxBurst int, ratePerMinute float64, now func() time.Time) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens: float64(maxBurst),
		max:    float64(maxBurst),
		rate:   ratePerMinute / 60.0,
		last:   now(),
		now:    now,
	}
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.last).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.last = now

	if rl.tokens < 1.0 {
		return false
	}
	rl.tokens -= 1.0
	return true
}

// Middleware rejects requests with 429 once the bucket is drained.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests, retry later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
