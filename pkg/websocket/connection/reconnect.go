package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ReconnectionStrategy yields the delay before a given reconnect attempt.
type ReconnectionStrategy interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}

// exponentialBackoffStrategy produces initialDelay * factor^(attempt-1),
// capped at maxDelay, with +-10% jitter to avoid synchronized storms when
// many connections drop at once.
type exponentialBackoffStrategy struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	factor       float64
	jitter       bool

	mu         sync.Mutex
	randSource *rand.Rand
}

func NewExponentialBackoffStrategy(initialDelay, maxDelay time.Duration, factor float64, maxAttempts int) ReconnectionStrategy {
	return &exponentialBackoffStrategy{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		maxAttempts:  maxAttempts,
		factor:       factor,
		jitter:       true,
		randSource:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (ebs *exponentialBackoffStrategy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return ebs.initialDelay
	}

	delay := float64(ebs.initialDelay) * math.Pow(ebs.factor, float64(attempt-1))
	if delay > float64(ebs.maxDelay) {
		delay = float64(ebs.maxDelay)
	}

	if ebs.jitter {
		ebs.mu.Lock()
		jitterFactor := 2*ebs.randSource.Float64() - 1
		ebs.mu.Unlock()

		delay += delay * 0.1 * jitterFactor
		if delay < 0 {
			delay = float64(ebs.initialDelay)
		}
	}

	return time.Duration(delay)
}

func (ebs *exponentialBackoffStrategy) MaxAttempts() int {
	return ebs.maxAttempts
}

// reconnectTimer wraps a pending time.AfterFunc so teardown can cancel the
// scheduled attempt deterministically instead of letting it fire into a
// torn-down client.
type reconnectTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (rt *reconnectTimer) schedule(d time.Duration, fn func()) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.timer != nil {
		rt.timer.Stop()
	}
	rt.timer = time.AfterFunc(d, fn)
}

func (rt *reconnectTimer) cancel() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
}
