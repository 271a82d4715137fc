// SPDX-License-Identifier: Apache-2.0

// Package gateway provides the shared domain model for the mcp-gateway
// aggregating proxy.
//
// mcp-gateway sits between an AI client and many heterogeneous MCP tool
// providers, exposing a fixed set of meta-tools (list_servers, list_tools,
// search_tools, invoke, run_playbook, kill_server, revive_server, get_stats,
// gateway_set_profile, gateway_get_profile, gateway_list_profiles)
// that let the client discover and invoke backend tools on demand instead of
// loading every schema into context.
//
// Following the same layering the teacher corpus uses for its virtual-MCP
// aggregator, this root package holds only the domain types and interfaces
// shared across bounded contexts (transport, failsafe, registry, dispatcher,
// playbook, capability, session, stats) to avoid import cycles between them.
package gateway

import (
	"context"
	"time"
)

// ToolDescriptor is a tool advertised by a backend, as defined in spec §3.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Server      string         `json:"server"`
}

// TransportKind identifies which of the three transport variants a backend
// speaks.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportHTTP        TransportKind = "http"
	TransportCapability TransportKind = "capability"
)

// BackendState is the lifecycle state of a backend record (spec §3 "Lifecycles").
type BackendState string

const (
	StateRegistered BackendState = "registered"
	StateConnecting BackendState = "connecting"
	StateRunning     BackendState = "running"
	StateFailed      BackendState = "failed"
	StateStopped     BackendState = "stopped"
)

// CircuitState is the tri-state circuit breaker state (spec §3, §4.2).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Transport is the contract every backend variant implements: subprocess,
// HTTP, and capability (spec §4.1). Dispatch is by tagged variant in the
// registry — there is no inheritance, only this narrow capability set.
type Transport interface {
	// Start connects the transport (spawns the subprocess, dials HTTP, etc).
	Start(ctx context.Context) error

	// Stop disconnects the transport, releasing any owned resources.
	Stop(ctx context.Context) error

	// IsRunning reports whether the transport is currently usable.
	IsRunning() bool

	// Request performs a synchronous JSON-RPC-style call and returns its
	// result or a *GatewayError classified per spec §7.
	Request(ctx context.Context, method string, params map[string]any) (any, error)

	// Notify sends a one-way notification; no result is expected.
	Notify(ctx context.Context, method string, params map[string]any) error
}

// ToolResult wraps the arbitrary JSON value a tool invocation returns.
type ToolResult struct {
	Value any
}

// Clock abstracts time.Now/time.Since so the failsafe stack, caches, and
// idempotency guard are deterministically testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
