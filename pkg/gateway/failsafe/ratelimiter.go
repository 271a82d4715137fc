// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a per-backend token bucket.
type RateLimiterConfig struct {
	RefillPerSecond float64 // tokens added per second
	Burst           int     // bucket capacity
}

// DefaultRateLimiterConfig is a generous default so rate limiting only bites
// when a backend explicitly opts into a tighter budget.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RefillPerSecond: 50, Burst: 100}
}

// RateLimiter wraps golang.org/x/time/rate with the try-acquire semantics
// spec §4.2 requires: a denied request fails fast and is never retried.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter from cfg, filling in defaults for zero values.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Burst)}
}

// TryAcquire attempts to take one token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.Allow()
}
