package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, clock *time.Time) *CircuitBreaker {
	cb, err := NewCircuitBreaker(BreakerConfig{MaxFailures: 3, Timeout: 10 * time.Second, MaxHalfOpenRequests: 1})
	require.NoError(t, err)
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(t, &clock)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.Equal(t, BreakerClosed, cb.State())
	assert.NoError(t, cb.Allow())

	assert.True(t, cb.RecordFailure())
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrBreakerOpen)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock = clock.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyProbes)

	// failed probe reopens immediately
	assert.True(t, cb.RecordFailure())
	assert.Equal(t, BreakerOpen, cb.State())

	clock = clock.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestBreakerConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBreakerConfig().Validate())

	_, err := NewCircuitBreaker(BreakerConfig{Timeout: time.Second, MaxHalfOpenRequests: 1})
	assert.Error(t, err)
	_, err = NewCircuitBreaker(BreakerConfig{MaxFailures: 1, MaxHalfOpenRequests: 1})
	assert.Error(t, err)
	_, err = NewCircuitBreaker(BreakerConfig{MaxFailures: 1, Timeout: time.Second})
	assert.Error(t, err)
}
