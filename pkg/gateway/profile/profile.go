// SPDX-License-Identifier: Apache-2.0

// Package profile implements session-scoped routing profiles: named
// allow/deny glob rules over backend and tool names that restrict what a
// session may list or invoke through the meta-MCP dispatcher. Operators
// declare profiles once at startup; each session binds to one profile at a
// time, selected via the X-MCP-Profile header, the initialize request's
// params, or the gateway_set_profile meta-tool, with precedence in that
// order.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is one profile's declarative configuration, typically loaded from
// the routing_profiles section of config.yaml. All filter fields are
// optional; a nil slice means "no restriction" for that dimension.
//
// Patterns support four glob forms plus an exact match:
//   - "brave_*"   prefix match
//   - "*_write"   suffix match
//   - "*search*"  contains match
//   - "*"         wildcard, matches everything
//   - "write_file" exact match
type Config struct {
	Description   string   `yaml:"description" json:"description"`
	AllowBackends []string `yaml:"allow_backends" json:"allow_backends,omitempty"`
	DenyBackends  []string `yaml:"deny_backends" json:"deny_backends,omitempty"`
	AllowTools    []string `yaml:"allow_tools" json:"allow_tools,omitempty"`
	DenyTools     []string `yaml:"deny_tools" json:"deny_tools,omitempty"`
}

// pattern is a compiled glob of one of five forms.
type pattern struct {
	kind  patternKind
	value string
}

type patternKind int

const (
	kindWildcard patternKind = iota
	kindExact
	kindPrefix
	kindSuffix
	kindContains
)

// compilePattern turns a raw pattern string into its compiled form.
func compilePattern(s string) pattern {
	switch {
	case s == "*":
		return pattern{kind: kindWildcard}
	case strings.HasPrefix(s, "*") && strings.HasSuffix(s, "*") && len(s) > 1:
		inner := s[1 : len(s)-1]
		if inner == "" {
			return pattern{kind: kindWildcard}
		}
		return pattern{kind: kindContains, value: inner}
	case strings.HasPrefix(s, "*"):
		return pattern{kind: kindSuffix, value: s[1:]}
	case strings.HasSuffix(s, "*"):
		return pattern{kind: kindPrefix, value: s[:len(s)-1]}
	default:
		return pattern{kind: kindExact, value: s}
	}
}

func (p pattern) matches(name string) bool {
	switch p.kind {
	case kindWildcard:
		return true
	case kindExact:
		return name == p.value
	case kindPrefix:
		return strings.HasPrefix(name, p.value)
	case kindSuffix:
		return strings.HasSuffix(name, p.value)
	case kindContains:
		return strings.Contains(name, p.value)
	default:
		return false
	}
}

func (p pattern) raw() string {
	switch p.kind {
	case kindWildcard:
		return "*"
	case kindPrefix:
		return p.value + "*"
	case kindSuffix:
		return "*" + p.value
	case kindContains:
		return "*" + p.value + "*"
	default:
		return p.value
	}
}

// filter is a compiled allow + deny pattern list for a single dimension
// (backends or tools). Evaluation: a nil allow list passes everything at
// the allow stage; otherwise the name must match at least one allow
// pattern. A name matching any deny pattern is rejected regardless of the
// allow stage (deny wins on overlap).
type filter struct {
	allow []pattern // nil: no allowlist
	deny  []pattern // nil: no denylist
}

func newFilter(allow, deny []string) filter {
	var f filter
	if allow != nil {
		f.allow = make([]pattern, len(allow))
		for i, s := range allow {
			f.allow[i] = compilePattern(s)
		}
	}
	if deny != nil {
		f.deny = make([]pattern, len(deny))
		for i, s := range deny {
			f.deny[i] = compilePattern(s)
		}
	}
	return f
}

func (f filter) isAllowed(name string) bool {
	if f.allow != nil {
		matched := false
		for _, p := range f.allow {
			if p.matches(name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range f.deny {
		if p.matches(name) {
			return false
		}
	}
	return true
}

func (f filter) describe() map[string]any {
	out := map[string]any{}
	if f.allow != nil {
		out["allow"] = rawPatterns(f.allow)
	}
	if f.deny != nil {
		out["deny"] = rawPatterns(f.deny)
	}
	return out
}

func rawPatterns(ps []pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.raw()
	}
	return out
}

// Profile is a compiled routing profile ready for O(1)/O(k) lookup.
type Profile struct {
	Name        string
	Description string

	backendFilter filter
	toolFilter    filter
}

// FromConfig compiles a named profile from its declarative Config.
func FromConfig(name string, cfg Config) Profile {
	return Profile{
		Name:          name,
		Description:   cfg.Description,
		backendFilter: newFilter(cfg.AllowBackends, cfg.DenyBackends),
		toolFilter:    newFilter(cfg.AllowTools, cfg.DenyTools),
	}
}

// AllowAll returns a permissive profile with no restrictions, used as the
// fallback for unknown profile names and when no profiles are configured.
func AllowAll(name string) Profile {
	return Profile{Name: name, Description: "All tools (unrestricted)"}
}

// Check reports whether (backend, tool) is accessible under this profile.
// A non-nil error carries a human-readable reason naming the profile.
func (p Profile) Check(backend, tool string) error {
	if !p.backendFilter.isAllowed(backend) {
		return fmt.Errorf("backend %q is not available in the %q routing profile", backend, p.Name)
	}
	if !p.toolFilter.isAllowed(tool) {
		return fmt.Errorf("tool %q is not available in the %q routing profile", tool, p.Name)
	}
	return nil
}

// BackendAllowed checks the backend-level filter alone, letting list/search
// operations skip an entire backend before iterating its tools.
func (p Profile) BackendAllowed(backend string) bool {
	return p.backendFilter.isAllowed(backend)
}

// ToolAllowed checks the tool-level filter alone.
func (p Profile) ToolAllowed(tool string) bool {
	return p.toolFilter.isAllowed(tool)
}

// Describe returns a JSON-friendly summary of what this profile allows.
func (p Profile) Describe() map[string]any {
	return map[string]any{
		"name":           p.Name,
		"description":    p.Description,
		"backend_filter": p.backendFilter.describe(),
		"tool_filter":    p.toolFilter.describe(),
	}
}

// Registry is the immutable set of every named routing profile, built once
// at startup from operator configuration.
type Registry struct {
	profiles map[string]Profile
	defaultName string
}

// NewRegistry compiles every configured profile. defaultName is the profile
// new sessions bind to; if it names a profile absent from configs, an
// allow-all profile is synthesized under that name so the gateway never
// fails to start over a typo in the default.
func NewRegistry(configs map[string]Config, defaultName string) *Registry {
	profiles := make(map[string]Profile, len(configs))
	for name, cfg := range configs {
		profiles[name] = FromConfig(name, cfg)
	}
	if defaultName == "" {
		defaultName = "full"
	}
	return &Registry{profiles: profiles, defaultName: defaultName}
}

// DefaultName returns the profile name new sessions bind to.
func (r *Registry) DefaultName() string { return r.defaultName }

// Get looks up a profile by name, falling back to an allow-all profile
// under that name when it is unconfigured.
func (r *Registry) Get(name string) Profile {
	if p, ok := r.profiles[name]; ok {
		return p
	}
	return AllowAll(name)
}

// Contains reports whether name is a configured profile.
func (r *Registry) Contains(name string) bool {
	_, ok := r.profiles[name]
	return ok
}

// Names returns every configured profile name, sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summaries returns {name, description} for every configured profile,
// sorted by name, for the gateway_list_profiles meta-tool.
func (r *Registry) Summaries() []map[string]any {
	out := make([]map[string]any, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, map[string]any{"name": p.Name, "description": p.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["name"].(string) < out[j]["name"].(string) })
	return out
}

// SessionStore is the thread-safe session-id -> profile-name binding. New
// sessions implicitly use the registry's default profile until they
// explicitly select one.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]string)}
}

// GetProfileName returns the profile bound to sessionID, or defaultName if
// the session has no explicit binding.
func (s *SessionStore) GetProfileName(sessionID, defaultName string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name, ok := s.sessions[sessionID]; ok {
		return name
	}
	return defaultName
}

// SetProfile binds sessionID to profileName.
func (s *SessionStore) SetProfile(sessionID, profileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = profileName
}

// RemoveSession clears sessionID's binding, reverting it to the registry
// default on next lookup.
func (s *SessionStore) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
