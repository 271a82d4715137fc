// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/dispatcher"
)

// metaToolDescriptors is the fixed meta-tool surface advertised by
// tools/list. Each entry carries a name and a one-line description; no
// argument schema is included.
var metaToolDescriptors = []map[string]any{
	{"name": "list_servers", "description": "List every registered backend and its current state."},
	{"name": "list_tools", "description": "List cached tool descriptors, optionally filtered to one server."},
	{"name": "search_tools", "description": "Rank tools against a free-text query."},
	{"name": "invoke", "description": "Call a tool on a named backend."},
	{"name": "run_playbook", "description": "Run a named playbook with the given inputs."},
	{"name": "get_stats", "description": "Return invocation, cache, and usage statistics."},
	{"name": "kill_server", "description": "Add a backend to the killed set."},
	{"name": "revive_server", "description": "Remove a backend from the killed set."},
	{"name": "gateway_set_profile", "description": "Bind this session to a named routing profile."},
	{"name": "gateway_get_profile", "description": "Return this session's active routing profile."},
	{"name": "gateway_list_profiles", "description": "List every configured routing profile."},
}

// dispatch routes one JSON-RPC request to the matching meta-tool handler.
func (s *Server) dispatch(ctx context.Context, in envelope) envelope {
	sessionID := sessionIDFromContext(ctx)

	switch in.Method {
	case "initialize":
		// Profile selection precedence (header > params > default): the
		// X-MCP-Profile header wins when present; otherwise an explicit
		// "profile" in the initialize params applies.
		var args struct {
			Profile string `json:"profile"`
		}
		_ = json.Unmarshal(in.Params, &args)
		if name := profileHeaderFromContext(ctx); name != "" {
			_ = s.Dispatcher.SetProfile(sessionID, name)
		} else if args.Profile != "" {
			_ = s.Dispatcher.SetProfile(sessionID, args.Profile)
		}
		return resultEnvelope(in.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "mcp-gateway", "version": "0.1.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "tools/list":
		return resultEnvelope(in.ID, map[string]any{"tools": metaToolDescriptors})
	case "list_servers":
		return resultEnvelope(in.ID, s.Dispatcher.ListServers(sessionID))
	case "list_tools":
		var args struct {
			Server string `json:"server"`
		}
		_ = json.Unmarshal(in.Params, &args)
		tools, err := s.Dispatcher.ListTools(sessionID, args.Server)
		if err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, tools)
	case "search_tools":
		var args struct {
			Query         string `json:"query"`
			Limit         int    `json:"limit"`
			IncludeSchema *bool  `json:"include_schema"`
		}
		_ = json.Unmarshal(in.Params, &args)
		return resultEnvelope(in.ID, s.Dispatcher.SearchTools(sessionID, args.Query, args.Limit, args.IncludeSchema))
	case "gateway_set_profile":
		var args struct {
			Profile string `json:"profile"`
		}
		_ = json.Unmarshal(in.Params, &args)
		if err := s.Dispatcher.SetProfile(sessionID, args.Profile); err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, s.Dispatcher.GetProfile(sessionID))
	case "gateway_get_profile":
		return resultEnvelope(in.ID, s.Dispatcher.GetProfile(sessionID))
	case "gateway_list_profiles":
		return resultEnvelope(in.ID, s.Dispatcher.ListProfiles())
	case "invoke":
		var args struct {
			Server    string         `json:"server"`
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(in.Params, &args); err != nil {
			return errorEnvelope(in.ID, -32602, "invalid params")
		}
		result, err := s.Dispatcher.Invoke(ctx, dispatcher.InvokeRequest{
			Server:    args.Server,
			Tool:      args.Tool,
			Arguments: args.Arguments,
			SessionID: sessionID,
		})
		if err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, result)
	case "run_playbook":
		var args struct {
			Name   string         `json:"name"`
			Inputs map[string]any `json:"inputs"`
		}
		if err := json.Unmarshal(in.Params, &args); err != nil {
			return errorEnvelope(in.ID, -32602, "invalid params")
		}
		result, err := s.Dispatcher.RunPlaybook(ctx, args.Name, args.Inputs)
		if err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, result)
	case "get_stats":
		return resultEnvelope(in.ID, s.Dispatcher.GetStats())
	case "kill_server":
		var args struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(in.Params, &args)
		if err := s.Dispatcher.KillServer(args.Name); err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, map[string]any{"ok": true})
	case "revive_server":
		var args struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(in.Params, &args)
		if err := s.Dispatcher.ReviveServer(args.Name); err != nil {
			return errFromGateway(in.ID, err)
		}
		return resultEnvelope(in.ID, map[string]any{"ok": true})
	default:
		return errorEnvelope(in.ID, -32601, "method not found")
	}
}

func errFromGateway(id json.RawMessage, err error) envelope {
	if gerr, ok := err.(*gateway.GatewayError); ok {
		return errorEnvelope(id, gerr.JSONRPCCode(), gerr.Error())
	}
	return errorEnvelope(id, -32603, err.Error())
}
