// SPDX-License-Identifier: Apache-2.0

// Package idempotency implements the content-hash keyed state machine of
// spec §4.5 that deduplicates concurrent and retried invocations.
package idempotency

import (
	"sync"
	"time"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// state tags an idempotency entry's lifecycle.
type state int

const (
	stateInFlight state = iota
	stateCompleted
)

type record struct {
	mu        sync.Mutex
	state     state
	since     time.Time
	value     any
	completed time.Time
}

// Outcome is what the caller should do after Begin.
type Outcome int

const (
	// OutcomeProceed means no entry existed; the caller may call the
	// transport and must call Complete or Fail exactly once.
	OutcomeProceed Outcome = iota
	// OutcomeDuplicate means another caller's InFlight entry is owned by
	// someone else; this caller must not call the transport.
	OutcomeDuplicate
	// OutcomeCached means a prior call already completed; Value holds the
	// result to return immediately.
	OutcomeCached
)

const (
	// DefaultInFlightTTL bounds leaks from crashed callers.
	DefaultInFlightTTL = 5 * time.Minute
	// DefaultCompletedTTL bounds how long results stay deduplicable.
	DefaultCompletedTTL = 24 * time.Hour
)

// Guard is the process-wide idempotency map. Insert-or-read is atomic per
// key: exactly one concurrent caller for a given key observes
// OutcomeProceed, because sync.Map's LoadOrStore is atomic and stores
// exactly one caller's record for a key. There is no per-key mutex.
type Guard struct {
	entries sync.Map // key -> *record

	inFlightTTL  time.Duration
	completedTTL time.Duration
	clock        gateway.Clock
}

// New creates a Guard with the given TTLs (zero values use the package
// defaults).
func New(inFlightTTL, completedTTL time.Duration, clock gateway.Clock) *Guard {
	if inFlightTTL <= 0 {
		inFlightTTL = DefaultInFlightTTL
	}
	if completedTTL <= 0 {
		completedTTL = DefaultCompletedTTL
	}
	if clock == nil {
		clock = gateway.SystemClock{}
	}
	return &Guard{inFlightTTL: inFlightTTL, completedTTL: completedTTL, clock: clock}
}

// Begin atomically inserts an InFlight entry for key if none exists, or
// reports the existing entry's state.
func (g *Guard) Begin(key string) (Outcome, any) {
	now := g.clock.Now()
	candidate := &record{state: stateInFlight, since: now}

	actual, loaded := g.entries.LoadOrStore(key, candidate)
	r := actual.(*record)
	if !loaded {
		return OutcomeProceed, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateInFlight:
		return OutcomeDuplicate, nil
	default: // stateCompleted
		return OutcomeCached, r.value
	}
}

// Complete transitions an InFlight entry to Completed with value.
func (g *Guard) Complete(key string, value any) {
	actual, ok := g.entries.Load(key)
	if !ok {
		return
	}
	r := actual.(*record)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = stateCompleted
	r.value = value
	r.completed = g.clock.Now()
}

// Fail removes an InFlight entry so the caller may retry, per spec §4.5.
func (g *Guard) Fail(key string) {
	g.entries.Delete(key)
}

// Sweep deletes InFlight entries older than the in-flight TTL and Completed
// entries older than the completed TTL. Intended to run on a background
// ticker.
func (g *Guard) Sweep() {
	now := g.clock.Now()
	g.entries.Range(func(k, v any) bool {
		r := v.(*record)
		r.mu.Lock()
		expired := (r.state == stateInFlight && now.Sub(r.since) > g.inFlightTTL) ||
			(r.state == stateCompleted && now.Sub(r.completed) > g.completedTTL)
		r.mu.Unlock()
		if expired {
			g.entries.Delete(k)
		}
		return true
	})
}
