// SPDX-License-Identifier: Apache-2.0

// Package server implements the ingress side of spec §6: JSON-RPC 2.0 over
// HTTP on POST /mcp, an SSE upgrade on GET /mcp, a public health snapshot
// on GET /health, and a direct per-backend bypass on POST /mcp/{backend}.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/dispatcher"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/registry"
)

const sessionHeader = "Mcp-Session-Id"

// profileHeader lets a client select a routing profile on its initialize
// request without needing a round trip through gateway_set_profile.
const profileHeader = "X-MCP-Profile"

// Server wires the dispatcher and registry into an HTTP router.
type Server struct {
	Dispatcher *dispatcher.Dispatcher
	Registry   *registry.Registry
	Log        *zap.Logger

	router chi.Router
}

// New builds a Server with its routes mounted.
func New(d *dispatcher.Dispatcher, reg *registry.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{Dispatcher: d, Registry: reg, Log: log}
	s.router = s.routes()
	return s
}

// Handler returns the http.Handler to mount on a net/http server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(sessionMiddleware)

	r.Post("/mcp", s.handleRPC)
	r.Get("/mcp", s.handleSSE)
	r.Get("/health", s.handleHealth)
	r.Post("/mcp/{backend}", s.handleDirect)
	return r
}

// sessionMiddleware assigns an Mcp-Session-Id on first contact and echoes
// whatever id the client supplied thereafter, per spec §6.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(sessionHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(sessionHeader, id)
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, id)
		ctx = context.WithValue(ctx, profileHeaderCtxKey{}, r.Header.Get(profileHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type sessionCtxKey struct{}
type profileHeaderCtxKey struct{}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

// profileHeaderFromContext returns the X-MCP-Profile header value sent on
// the current request, or "" if the client didn't send one.
func profileHeaderFromContext(ctx context.Context) string {
	v, _ := ctx.Value(profileHeaderCtxKey{}).(string)
	return v
}

// handleRPC dispatches one JSON-RPC request envelope to the meta-tool
// surface.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var in envelope
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeEnvelope(w, errorEnvelope(nil, -32700, "parse error"))
		return
	}

	out := s.dispatch(r.Context(), in)
	writeEnvelope(w, out)
}

// handleSSE upgrades to a server-sent-events stream of asynchronous
// notifications. mcp-gateway's notifications are currently limited to
// keepalive pings; richer push events (backend state changes, playbook
// progress) are not yet wired through this stream.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			notification := envelope{JSONRPC: "2.0", Method: "notifications/ping"}
			data, err := json.Marshal(notification)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleHealth returns a public snapshot of every backend's running state
// and circuit breaker state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"backends": s.Dispatcher.ListServers("")})
}

// handleDirect forwards one JSON-RPC method directly to a named backend,
// bypassing meta-tool routing entirely (spec §6: "A second path ...
// bypasses meta-routing and forwards one method directly to a named
// backend").
func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "backend")
	backend, ok := s.Registry.Get(name)
	if !ok {
		writeEnvelope(w, errorEnvelope(nil, -32001, "unknown backend"))
		return
	}

	var in envelope
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeEnvelope(w, errorEnvelope(nil, -32700, "parse error"))
		return
	}

	var params map[string]any
	if len(in.Params) > 0 {
		if err := json.Unmarshal(in.Params, &params); err != nil {
			writeEnvelope(w, errorEnvelope(in.ID, -32602, "invalid params"))
			return
		}
	}

	if err := backend.EnsureConnected(r.Context()); err != nil {
		writeEnvelope(w, errorEnvelope(in.ID, -32007, err.Error()))
		return
	}

	result, err := backend.Call(r.Context(), in.Method, params)
	if err != nil {
		writeEnvelope(w, errorEnvelope(in.ID, jsonRPCCodeOf(err), err.Error()))
		return
	}
	writeEnvelope(w, resultEnvelope(in.ID, result))
}

func jsonRPCCodeOf(err error) int {
	if gerr, ok := err.(*gateway.GatewayError); ok {
		return gerr.JSONRPCCode()
	}
	return -32603
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
