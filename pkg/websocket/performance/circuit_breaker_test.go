package performance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(failing))
	}
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(failing), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	failing := func() error { return errors.New("boom") }

	assert.Error(t, cb.Execute(failing))
	assert.Error(t, cb.Execute(failing))
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Error(t, cb.Execute(failing))
	assert.Error(t, cb.Execute(failing))

	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	assert.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, BreakerOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
}
