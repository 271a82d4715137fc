// SPDX-License-Identifier: Apache-2.0

// Package failsafe implements the per-backend resilience stack: circuit
// breaker, token-bucket rate limiter, exponential-backoff retry, and a
// latency/health tracker, wrapped around a backend call in the strict order
// required by spec §4.2:
//
//	kill-switch -> circuit-breaker -> rate-limiter -> retry { transport }
package failsafe

import (
	"sync"
	"time"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// CircuitBreakerConfig configures a single backend's circuit breaker.
// Zero values are replaced with the package defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening, default 5
	SuccessThreshold int           // consecutive half-open successes before closing, default 3
	ResetTimeout     time.Duration // time in Open before a probe is admitted, default 30s
	MaxProbes        int           // concurrent half-open probes allowed, default 1
}

// DefaultCircuitBreakerConfig returns the spec-mandated defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetTimeout:      30 * time.Second,
		MaxProbes:         1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = 1
	}
	return c
}

// CircuitBreaker is a per-backend tri-state breaker. It is safe for
// concurrent use; state transitions hold a mutex but never suspend while
// holding it (spec §5: "No suspension is allowed while holding a
// state-transition lock of the circuit breaker").
type CircuitBreaker struct {
	mu sync.Mutex

	cfg   CircuitBreakerConfig
	clock gateway.Clock

	state                  gateway.CircuitState
	consecutiveFailures    int
	consecutiveSuccesses   int
	openedAt               time.Time
	inFlightProbes         int
}

// NewCircuitBreaker creates a breaker starting Closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig, clock gateway.Clock) *CircuitBreaker {
	if clock == nil {
		clock = gateway.SystemClock{}
	}
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		clock: clock,
		state: gateway.CircuitClosed,
	}
}

// Admit checks whether a call may proceed. If it returns true in HalfOpen,
// the caller has claimed one of the limited probe slots and MUST report the
// outcome via RecordSuccess/RecordFailure exactly once.
func (b *CircuitBreaker) Admit() (bool, gateway.CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case gateway.CircuitClosed:
		return true, b.state

	case gateway.CircuitOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = gateway.CircuitHalfOpen
			b.consecutiveSuccesses = 0
			b.inFlightProbes = 1
			return true, gateway.CircuitHalfOpen
		}
		return false, b.state

	case gateway.CircuitHalfOpen:
		if b.inFlightProbes < b.cfg.MaxProbes {
			b.inFlightProbes++
			return true, b.state
		}
		return false, b.state

	default:
		return false, b.state
	}
}

// RecordSuccess reports a successful admitted call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case gateway.CircuitClosed:
		b.consecutiveFailures = 0
	case gateway.CircuitHalfOpen:
		b.inFlightProbes--
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = gateway.CircuitClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// Release returns an admitted call's slot without counting it as a success
// or failure. Used when a call was admitted past the breaker but rejected
// by a later layer (e.g. the rate limiter) before ever reaching the
// backend — such a call says nothing about backend health.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == gateway.CircuitHalfOpen && b.inFlightProbes > 0 {
		b.inFlightProbes--
	}
}

// RecordFailure reports a failed admitted call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case gateway.CircuitClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = gateway.CircuitOpen
			b.openedAt = b.clock.Now()
			b.consecutiveFailures = 0
		}
	case gateway.CircuitHalfOpen:
		b.inFlightProbes--
		b.state = gateway.CircuitOpen
		b.openedAt = b.clock.Now()
		b.consecutiveSuccesses = 0
	}
}

// State returns a snapshot of the current state. The read takes the same
// mutex as the state transitions; it is not lock-free.
func (b *CircuitBreaker) State() gateway.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
