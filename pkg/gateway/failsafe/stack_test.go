// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

func TestStack_CircuitOpensAfterFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := StackConfig{
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Hour, MaxProbes: 1},
		RateLimiter:    RateLimiterConfig{RefillPerSecond: 1000, Burst: 1000},
		Retry:          RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		UnhealthyAfter: 10,
	}
	s := NewStack(cfg, clock)

	failing := func(ctx context.Context) (any, error) {
		return nil, gateway.NewError(gateway.KindTransport, "boom", gateway.ErrTransport)
	}

	for i := 0; i < 3; i++ {
		_, err := s.Call(context.Background(), failing)
		require.Error(t, err)
	}

	_, err := s.Call(context.Background(), failing)
	require.Error(t, err)
	gerr, ok := err.(*gateway.GatewayError)
	require.True(t, ok)
	assert.Equal(t, gateway.KindCircuitOpen, gerr.Kind)
}

func TestStack_RateLimitRejectsWithoutConsumingCircuitSlot(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cfg := StackConfig{
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, ResetTimeout: time.Hour, MaxProbes: 1},
		RateLimiter:    RateLimiterConfig{RefillPerSecond: 0.0001, Burst: 1},
		Retry:          RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		UnhealthyAfter: 10,
	}
	s := NewStack(cfg, clock)

	ok := func(ctx context.Context) (any, error) { return "ok", nil }

	_, err := s.Call(context.Background(), ok)
	require.NoError(t, err)

	// Second call exhausts the single-token bucket.
	_, err = s.Call(context.Background(), ok)
	require.Error(t, err)
	gerr, isGErr := err.(*gateway.GatewayError)
	require.True(t, isGErr)
	assert.Equal(t, gateway.KindRateLimited, gerr.Kind)
	assert.Equal(t, gateway.CircuitClosed, s.CircuitState())
}

func TestStack_SuccessRecordsHealth(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewStack(DefaultStackConfig(), clock)

	_, err := s.Call(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	snap := s.HealthSnapshot()
	assert.Equal(t, int64(1), snap.Successes)
	assert.False(t, snap.Unhealthy)
}
