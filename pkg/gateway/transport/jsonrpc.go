// SPDX-License-Identifier: Apache-2.0

// Package transport implements the three backend transport variants of
// spec §4.1: a newline-delimited JSON-RPC subprocess transport, an HTTP
// transport with optional SSE upgrade, and a capability transport that
// speaks plain REST instead of MCP.
package transport

import "encoding/json"

// envelope is the JSON-RPC 2.0 request/response/notification shape used on
// the wire to every MCP backend (spec §6, "Egress to MCP backends").
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRequest(id int64, method string, params map[string]any) envelope {
	return envelope{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

func newNotification(method string, params map[string]any) envelope {
	return envelope{JSONRPC: "2.0", Method: method, Params: params}
}
