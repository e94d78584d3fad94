package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(time.Second, 30*time.Second, 2.0, 10)

	// Jitter is +-10%, so compare against the nominal value with margin.
	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tc := range cases {
		delay := strategy.NextDelay(tc.attempt)
		low := time.Duration(float64(tc.nominal) * 0.89)
		high := time.Duration(float64(tc.nominal) * 1.11)
		assert.GreaterOrEqual(t, delay, low, "attempt %d", tc.attempt)
		assert.LessOrEqual(t, delay, high, "attempt %d", tc.attempt)
	}
}

func TestBackoffZeroAttemptUsesInitialDelay(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(time.Second, 30*time.Second, 2.0, 10)
	assert.Equal(t, time.Second, strategy.NextDelay(0))
}

func TestBackoffMaxAttempts(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(time.Second, 30*time.Second, 2.0, 5)
	assert.Equal(t, 5, strategy.MaxAttempts())
}

func TestReconnectTimerCancelStopsPending(t *testing.T) {
	var timer reconnectTimer
	fired := make(chan struct{}, 1)

	timer.schedule(20*time.Millisecond, func() { fired <- struct{}{} })
	timer.cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestReconnectTimerRescheduleReplacesPending(t *testing.T) {
	var timer reconnectTimer
	fired := make(chan string, 2)

	timer.schedule(30*time.Millisecond, func() { fired <- "first" })
	timer.schedule(10*time.Millisecond, func() { fired <- "second" })

	assert.Equal(t, "second", <-fired)
	select {
	case v := <-fired:
		t.Fatalf("replaced timer fired: %s", v)
	case <-time.After(60 * time.Millisecond):
	}
}
