// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 100 * time.Millisecond, MaxProbes: 1}, clock)

	for i := 0; i < 3; i++ {
		admitted, state := b.Admit()
		require.True(t, admitted)
		require.Equal(t, gateway.CircuitClosed, state)
		b.RecordFailure()
	}

	admitted, state := b.Admit()
	assert.False(t, admitted)
	assert.Equal(t, gateway.CircuitOpen, state)
}

func TestCircuitBreaker_HalfOpenProbeAfterResetTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: 100 * time.Millisecond, MaxProbes: 1}, clock)

	admitted, _ := b.Admit()
	require.True(t, admitted)
	b.RecordFailure()
	assert.Equal(t, gateway.CircuitOpen, b.State())

	admitted, _ = b.Admit()
	assert.False(t, admitted, "reset timeout has not elapsed yet")

	clock.Advance(100 * time.Millisecond)
	admitted, state := b.Admit()
	assert.True(t, admitted)
	assert.Equal(t, gateway.CircuitHalfOpen, state)

	// MaxProbes is 1: a second concurrent admission attempt is rejected.
	admitted, _ = b.Admit()
	assert.False(t, admitted)

	b.RecordSuccess()
	assert.Equal(t, gateway.CircuitClosed, b.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: 10 * time.Millisecond, MaxProbes: 1}, clock)

	b.Admit()
	b.RecordFailure()
	clock.Advance(10 * time.Millisecond)

	admitted, state := b.Admit()
	require.True(t, admitted)
	require.Equal(t, gateway.CircuitHalfOpen, state)

	b.RecordFailure()
	assert.Equal(t, gateway.CircuitOpen, b.State())
}

func TestCircuitBreaker_ReleaseDoesNotAffectCounters(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 10 * time.Millisecond, MaxProbes: 1}, clock)

	b.Admit()
	b.RecordFailure()
	clock.Advance(10 * time.Millisecond)

	admitted, state := b.Admit()
	require.True(t, admitted)
	require.Equal(t, gateway.CircuitHalfOpen, state)

	// A later layer (e.g. rate limiter) rejected the call before it reached
	// the backend: Release must free the probe slot without nudging the
	// circuit toward closed.
	b.Release()
	assert.Equal(t, gateway.CircuitHalfOpen, b.State())

	admitted, _ = b.Admit()
	assert.True(t, admitted, "probe slot should be available again after Release")
}
