package security

import (
	"sync"
	"time"
)

// RateLimiter bounds outbound send rate with a token bucket.
type RateLimiter interface {
	Allow() bool
	Reset()
}

type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter returns a bucket holding capacity tokens that refills
// completely over refillPeriod.
func NewRateLimiter(capacity int, refillPeriod time.Duration) RateLimiter {
	return &rateLimiter{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: float64(capacity) / refillPeriod.Seconds(),
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

func (rl *rateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.capacity
	rl.lastRefill = time.Now()
}
