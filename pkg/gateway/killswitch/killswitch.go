// SPDX-License-Identifier: Apache-2.0

// Package killswitch implements the two independent gates of spec §4.3 that
// share one killed-backend set: an operator-driven kill switch and an
// error-budget auto-kill that watches a sliding window of outcomes.
package killswitch

import (
	"sync"
	"time"
)

// Switch is the process-wide killed-backend set plus per-backend error
// budget windows. The killed set is read on every dispatcher call via
// IsKilled, so that lookup is lock-free-cheap: a sync.Map keyed by backend
// name.
type Switch struct {
	killed sync.Map // name -> struct{}

	mu      sync.Mutex
	windows map[string]*window
	cfg     BudgetConfig
}

// BudgetConfig configures the error-budget auto-kill gate.
type BudgetConfig struct {
	WindowSize     int           // max events retained, default 100
	WindowAge      time.Duration // max age retained, default 5m
	Threshold      float64       // error rate that triggers auto-kill, default 0.5
	MinCalls       int           // minimum calls in window before the threshold applies
	WarnAtFraction float64       // fraction of threshold that emits a warning, default 0.8
}

// DefaultBudgetConfig returns the spec-mandated defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		WindowSize:     100,
		WindowAge:      5 * time.Minute,
		Threshold:      0.5,
		MinCalls:       10,
		WarnAtFraction: 0.8,
	}
}

type event struct {
	at time.Time
	ok bool
}

type window struct {
	mu     sync.Mutex
	events []event
}

// New creates a Switch using cfg for the error-budget gate.
func New(cfg BudgetConfig) *Switch {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.WindowAge <= 0 {
		cfg.WindowAge = 5 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if cfg.WarnAtFraction <= 0 {
		cfg.WarnAtFraction = 0.8
	}
	return &Switch{windows: make(map[string]*window), cfg: cfg}
}

// Kill adds name to the killed set (operator action).
func (s *Switch) Kill(name string) {
	s.killed.Store(name, struct{}{})
}

// Revive removes name from the killed set and clears its error-budget window.
// Only Revive clears the window, per spec §4.3.
func (s *Switch) Revive(name string) {
	s.killed.Delete(name)
	s.mu.Lock()
	delete(s.windows, name)
	s.mu.Unlock()
}

// IsKilled reports whether name is currently in the killed set. O(1).
func (s *Switch) IsKilled(name string) bool {
	_, ok := s.killed.Load(name)
	return ok
}

// KilledNames returns a snapshot of all currently killed backend names.
func (s *Switch) KilledNames() []string {
	var names []string
	s.killed.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

// RecordOutcome records a call outcome for name's error-budget window and
// auto-kills the backend if the error rate reaches the threshold with
// enough calls observed. Returns (warn, killed) for the caller to log.
func (s *Switch) RecordOutcome(name string, ok bool, now time.Time) (warn, killed bool) {
	w := s.windowFor(name)

	w.mu.Lock()
	w.events = append(w.events, event{at: now, ok: ok})
	w.prune(now, s.cfg)
	rate, n := w.errorRate()
	w.mu.Unlock()

	if n < s.cfg.MinCalls {
		return false, false
	}
	if rate >= s.cfg.Threshold {
		s.Kill(name)
		return false, true
	}
	if rate >= s.cfg.Threshold*s.cfg.WarnAtFraction {
		return true, false
	}
	return false, false
}

func (s *Switch) windowFor(name string) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[name]
	if !ok {
		w = &window{}
		s.windows[name] = w
	}
	return w
}

// prune drops events older than cfg.WindowAge or beyond cfg.WindowSize,
// keeping the most recent entries. Caller holds w.mu.
func (w *window) prune(now time.Time, cfg BudgetConfig) {
	cutoff := now.Add(-cfg.WindowAge)
	i := 0
	for i < len(w.events) && w.events[i].at.Before(cutoff) {
		i++
	}
	w.events = w.events[i:]
	if len(w.events) > cfg.WindowSize {
		w.events = w.events[len(w.events)-cfg.WindowSize:]
	}
}

// errorRate returns the fraction of failures and the total event count.
// Caller holds w.mu.
func (w *window) errorRate() (float64, int) {
	if len(w.events) == 0 {
		return 0, 0
	}
	failures := 0
	for _, e := range w.events {
		if !e.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(w.events)), len(w.events)
}
