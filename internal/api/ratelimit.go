// ratelimit.go implements token-bucket rate limiting for the REST surface.
//
// Two buckets are maintained, sized for a single-node exchange:
//   - mutations: 200 burst / 100 per sec — order submit, cancel, modify
//   - queries:   500 burst / 250 per sec — book, trades, orders, stats
//
// Buckets refill continuously rather than in fixed windows, so clients that
// pace themselves never see a refusal. An exhausted bucket answers 429.
package api

import (
	"net/http"
	"sync"
	"time"
)

// tokenBucket is a rate limiter with continuous refill. Fractional tokens
// are allowed so refill stays smooth at any rate.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// newTokenBucket creates a rate limiter with the given capacity and refill
// rate. The bucket starts full.
func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// tryTake consumes one token if available and reports whether it did.
func (tb *tokenBucket) tryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// rateLimiter groups token buckets by REST surface category.
type rateLimiter struct {
	mutations *tokenBucket // POST /api/orders, /api/orders/cancel, /api/orders/modify
	queries   *tokenBucket // GET /api/book, /api/trades, /api/orders, /api/stats
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		mutations: newTokenBucket(200, 100),
		queries:   newTokenBucket(500, 250),
	}
}

// limit wraps a handler with a bucket.
func (h *Handlers) limit(tb *tokenBucket, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tb.tryTake() {
			h.writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:   "rate_limited",
				Message: "request rate exceeded",
			})
			return
		}
		next(w, r)
	}
}
