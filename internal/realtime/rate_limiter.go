package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound frames per connection over a sliding window.
// Accepted event times live in a fixed ring sized to the limit.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	head   int // oldest accepted event
	n      int
	limit  int
	window time.Duration
}

// NewRateLimiter returns a limiter allowing limit events per window.
// Non-positive inputs fall back to the gateway defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		limit:  limit,
		window: window,
	}
}

// Allow records an event at now and reports whether it fits in the window.
// Rejected events are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	for r.n > 0 && !r.ring[r.head].After(cut) {
		r.head = (r.head + 1) % r.limit
		r.n--
	}
	if r.n == r.limit {
		return false
	}
	r.ring[(r.head+r.n)%r.limit] = now
	r.n++
	return true
}
