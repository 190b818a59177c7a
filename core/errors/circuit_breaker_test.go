package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(start time.Time) (*CircuitBreaker, *time.Time) {
	now := start
	cb := NewCircuitBreaker(CircuitBreakerConfig{ConsecutiveFailures: 2, CooldownDuration: time.Second})
	cb.now = func() time.Time { return now }
	cb.lastStateChange = now
	return cb, &now
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(time.Unix(0, 0))

	cb.RecordResult(false)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordResult(false)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(time.Unix(0, 0))

	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(time.Unix(0, 0))
	cb.RecordResult(false)
	cb.RecordResult(false)

	*now = now.Add(500 * time.Millisecond)
	assert.False(t, cb.Allow())

	*now = now.Add(time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe while half open")

	cb.RecordResult(false)
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	cb.RecordResult(true)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
