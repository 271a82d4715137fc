// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"context"
	"time"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// StackConfig bundles the per-backend overrides for every layer of the
// failsafe stack.
type StackConfig struct {
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    RateLimiterConfig
	Retry          RetryConfig
	// UnhealthyAfter is the consecutive-failure count that flips a backend
	// unhealthy in the health tracker.
	UnhealthyAfter int
}

// DefaultStackConfig returns the spec-mandated defaults for every layer.
func DefaultStackConfig() StackConfig {
	return StackConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		RateLimiter:    DefaultRateLimiterConfig(),
		Retry:          DefaultRetryConfig(),
		UnhealthyAfter: 3,
	}
}

// Stack wraps a single backend's calls in circuit-breaker, rate-limiter, and
// retry layers, in that strict order, around the caller-supplied transport
// call. The kill-switch check happens one layer up, in the dispatcher,
// before the Stack is ever reached (spec §4.3: "A killed backend
// short-circuits the meta-tool dispatcher before the circuit breaker").
type Stack struct {
	breaker *CircuitBreaker
	limiter *RateLimiter
	retrier *Retrier
	health  *HealthTracker
	clock   gateway.Clock
}

// NewStack builds a Stack for one backend from cfg.
func NewStack(cfg StackConfig, clock gateway.Clock) *Stack {
	if clock == nil {
		clock = gateway.SystemClock{}
	}
	return &Stack{
		breaker: NewCircuitBreaker(cfg.CircuitBreaker, clock),
		limiter: NewRateLimiter(cfg.RateLimiter),
		retrier: NewRetrier(cfg.Retry),
		health:  NewHealthTracker(cfg.UnhealthyAfter),
		clock:   clock,
	}
}

// Call runs call through circuit-breaker -> rate-limiter -> retry, recording
// health and circuit outcomes along the way.
func (s *Stack) Call(ctx context.Context, call func(ctx context.Context) (any, error)) (any, error) {
	admitted, _ := s.breaker.Admit()
	if !admitted {
		return nil, gateway.NewError(gateway.KindCircuitOpen, "circuit open", gateway.ErrCircuitOpen)
	}

	if !s.limiter.TryAcquire() {
		// A rate-limit rejection is not a circuit-breaker outcome: it never
		// reached the transport, so the breaker's probe slot (if any) must
		// be released without counting as success or failure.
		s.breaker.Release()
		return nil, gateway.NewError(gateway.KindRateLimited, "rate limited", gateway.ErrRateLimited)
	}

	start := s.clock.Now()
	value, err := s.retrier.Do(ctx, call)
	latency := s.clock.Now().Sub(start)

	if err != nil {
		s.breaker.RecordFailure()
		s.health.RecordFailure()
		return nil, err
	}

	s.breaker.RecordSuccess()
	s.health.RecordSuccess(latency)
	return value, nil
}

// CircuitState returns the current circuit breaker state for status reporting.
func (s *Stack) CircuitState() gateway.CircuitState {
	return s.breaker.State()
}

// HealthSnapshot returns the current health tracker snapshot.
func (s *Stack) HealthSnapshot() Snapshot {
	return s.health.Snapshot()
}

// WarmProbeInterval is the default ping-loop cadence used by the registry's
// periodic health check (spec §4.6).
const WarmProbeInterval = 30 * time.Second
