// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// RetryConfig configures the exponential-backoff-with-full-jitter retry
// policy. Attempts includes the first try, matching spec §4.2.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the spec-mandated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return c
}

// Retrier re-invokes an operation using exponential backoff with full
// jitter, retrying only errors the caller's classifier marks transient.
// Per spec §4.2: RateLimited, CircuitOpen, Killed, validation errors, and
// business-logic tool errors are never retried.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier builds a retrier from cfg.
func NewRetrier(cfg RetryConfig) *Retrier {
	return &Retrier{cfg: cfg.withDefaults()}
}

// Do runs op, retrying on transient failures up to MaxAttempts total tries.
// op must return a *gateway.GatewayError (or wrap one) on failure so Do can
// classify retryability; any other error is treated as non-retryable.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	expBackoff := backoff.NewExponentialBackOff()
	// With RandomizationFactor=1 the library draws each delay uniformly from
	// [0, 2*interval], so both bounds are halved to get AWS-style full
	// jitter: delay_i = random(0, min(MaxInterval, InitialInterval*2^i)),
	// matching spec §4.2's doubling-with-full-jitter formula.
	expBackoff.InitialInterval = r.cfg.InitialInterval / 2
	expBackoff.MaxInterval = r.cfg.MaxInterval / 2
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 1

	operation := func() (any, error) {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		var gerr *gateway.GatewayError
		if errors.As(err, &gerr) && gerr.Retryable() {
			return nil, err
		}
		// Non-retryable: wrap as a backoff.Permanent so backoff.Retry stops
		// immediately instead of burning through attempts.
		return nil, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
	)
}
