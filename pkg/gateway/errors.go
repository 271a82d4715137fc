// SPDX-License-Identifier: Apache-2.0

package gateway

import "errors"

// Sentinel errors shared across gateway subpackages. Components should wrap
// these with errors.Is-compatible context rather than inventing new ones.
var (
	// ErrNotFound indicates an unknown server, tool, or playbook.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArguments indicates a schema or shape mismatch in tool arguments.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrDuplicate indicates an idempotency key is already in flight.
	ErrDuplicate = errors.New("duplicate invocation")

	// ErrKilled indicates the target backend is in the killed set.
	ErrKilled = errors.New("backend killed")

	// ErrCircuitOpen indicates the circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRateLimited indicates the token bucket had no tokens available.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates a per-request or playbook deadline was exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrTransport indicates a connection loss, I/O error, or 5xx from a backend.
	ErrTransport = errors.New("transport error")

	// ErrToolFailed indicates the backend returned a structured tool error.
	// This is a successful request with an error result — never retried.
	ErrToolFailed = errors.New("tool failed")

	// ErrInternal indicates an invariant violation or unexpected state.
	ErrInternal = errors.New("internal error")

	// ErrForbidden indicates the caller's routing profile denies access to
	// the requested backend or tool.
	ErrForbidden = errors.New("forbidden by routing profile")
)

// Kind is the design-level error taxonomy from spec §7. Each Kind maps to a
// stable JSON-RPC error code at the ingress boundary.
type Kind string

// Kind values, one per row of the error taxonomy table.
const (
	KindInvalidArguments Kind = "invalid_arguments"
	KindNotFound         Kind = "not_found"
	KindDuplicate        Kind = "duplicate"
	KindKilled           Kind = "killed"
	KindCircuitOpen      Kind = "circuit_open"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindToolFailed       Kind = "tool_failed"
	KindInternal         Kind = "internal"
	KindForbidden        Kind = "forbidden"
)

// jsonRPCCode maps each Kind to the JSON-RPC 2.0 error code surfaced at the
// ingress boundary. Codes in the -32000..-32099 range are server-defined.
var jsonRPCCode = map[Kind]int{
	KindInvalidArguments: -32602, // Invalid params
	KindNotFound:         -32001,
	KindDuplicate:        -32002,
	KindKilled:           -32003,
	KindCircuitOpen:      -32004,
	KindRateLimited:      -32005,
	KindTimeout:          -32006,
	KindTransport:        -32007,
	KindToolFailed:       -32008,
	KindInternal:         -32603, // Internal error
	KindForbidden:        -32009,
}

// retryableKinds marks the kinds the retry policy is allowed to retry. Every
// other kind is surfaced immediately per spec §7.
var retryableKinds = map[Kind]bool{
	KindTransport: true,
}

// GatewayError is the typed error surfaced at every component boundary.
// Tool errors are values, not control flow: callers branch on Kind, never
// on error string contents.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds a GatewayError of the given kind wrapping err (may be nil).
func NewError(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap exposes the wrapped error for errors.Is / errors.As.
func (e *GatewayError) Unwrap() error { return e.Err }

// JSONRPCCode returns the stable JSON-RPC error code for this error's Kind.
func (e *GatewayError) JSONRPCCode() int {
	if code, ok := jsonRPCCode[e.Kind]; ok {
		return code
	}
	return jsonRPCCode[KindInternal]
}

// Retryable reports whether the failsafe retry policy may retry this error.
// Per spec §4.2 and §7, only Transport errors are retryable, and Timeout is
// retryable only for idempotent methods — callers of Timeout must apply that
// refinement themselves since idempotency is call-site knowledge.
func (e *GatewayError) Retryable() bool {
	return retryableKinds[e.Kind]
}
