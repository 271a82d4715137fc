// SPDX-License-Identifier: Apache-2.0

// Package dispatcher implements the meta-MCP dispatcher of spec §4.9: the
// fixed set of meta-tools (list_servers, list_tools, search_tools, invoke,
// run_playbook, get_stats, kill_server, revive_server) that route every
// client request to the right backend, cache, failsafe stack, and
// bookkeeping collaborator.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/cache"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/idempotency"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/killswitch"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/profile"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/ranker"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/registry"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/session"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/stats"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/tagging"
)

// Method names used on the egress side of every MCP-speaking transport
// (subprocess and HTTP). Capability transports ignore the method entirely.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// PlaybookRunner is the narrow contract run_playbook dispatches through.
// Defined here (rather than importing the playbook package directly) to
// keep dispatcher the root of the meta-tool surface without a dependency
// cycle back from playbook into dispatcher's own invoke path, which the
// playbook engine calls through Invoker below.
type PlaybookRunner interface {
	Run(ctx context.Context, name string, inputs map[string]any) (PlaybookResult, error)
}

// PlaybookResult mirrors the run_playbook result shape of spec §6.
type PlaybookResult struct {
	Output         map[string]any `json:"output"`
	StepsCompleted []string       `json:"steps_completed"`
	StepsSkipped   []string       `json:"steps_skipped"`
	StepsFailed    []string       `json:"steps_failed"`
	DurationMS     int64          `json:"duration_ms"`
}

// Dispatcher wires every collaborator spec §4.9 names into the fixed
// meta-tool surface.
type Dispatcher struct {
	Registry    *registry.Registry
	KillSwitch  *killswitch.Switch
	Cache       *cache.Cache
	Idempotency *idempotency.Guard
	Usage       *ranker.UsageStore
	Sessions    *session.Tracker
	Stats       stats.Recorder
	Playbooks   PlaybookRunner

	// Profiles holds every configured routing profile (nil means no
	// restrictions are configured; every session behaves as if bound to an
	// allow-all profile). ProfileSessions tracks which profile each session
	// is currently bound to; nil means every session uses the registry
	// default.
	Profiles        *profile.Registry
	ProfileSessions *profile.SessionStore

	Clock gateway.Clock
	Log   *zap.Logger

	// DefaultCacheTTL applies when CacheTTLFor returns zero.
	DefaultCacheTTL time.Duration
	// CacheTTLFor resolves a per-tool cache TTL override; nil means every
	// tool uses DefaultCacheTTL.
	CacheTTLFor func(server, tool string) time.Duration

	// IncludeSchemaDefault controls whether search_tools considers schema
	// fields when the caller omits include_schema.
	IncludeSchemaDefault bool
}

func (d *Dispatcher) cacheTTL(server, tool string) time.Duration {
	if d.CacheTTLFor != nil {
		if ttl := d.CacheTTLFor(server, tool); ttl > 0 {
			return ttl
		}
	}
	if d.DefaultCacheTTL > 0 {
		return d.DefaultCacheTTL
	}
	return 5 * time.Minute
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now()
}

// profileFor resolves the routing profile bound to sessionID, falling back
// to an allow-all profile when no profiles are configured at all.
func (d *Dispatcher) profileFor(sessionID string) profile.Profile {
	if d.Profiles == nil {
		return profile.AllowAll("full")
	}
	name := d.Profiles.DefaultName()
	if d.ProfileSessions != nil && sessionID != "" {
		name = d.ProfileSessions.GetProfileName(sessionID, name)
	}
	return d.Profiles.Get(name)
}

// ServerInfo is one list_servers entry.
type ServerInfo struct {
	Name         string              `json:"name"`
	Running      bool                `json:"running"`
	Transport    gateway.TransportKind `json:"transport"`
	ToolCount    int                 `json:"tool_count"`
	CircuitState gateway.CircuitState `json:"circuit_state"`
}

// ListServers returns one entry per registered backend the session's
// routing profile permits.
func (d *Dispatcher) ListServers(sessionID string) []ServerInfo {
	prof := d.profileFor(sessionID)
	backends := d.Registry.All()
	out := make([]ServerInfo, 0, len(backends))
	for _, b := range backends {
		if !prof.BackendAllowed(b.Name) {
			continue
		}
		tools, _ := b.ToolsCached()
		out = append(out, ServerInfo{
			Name:         b.Name,
			Running:      b.State() == gateway.StateRunning,
			Transport:    b.TransportKind,
			ToolCount:    len(tools),
			CircuitState: b.Stack.CircuitState(),
		})
	}
	return out
}

// ListTools returns every cached tool descriptor the session's routing
// profile permits, auto-tagged, optionally filtered to a single server.
func (d *Dispatcher) ListTools(sessionID, server string) ([]gateway.ToolDescriptor, error) {
	prof := d.profileFor(sessionID)

	if server != "" {
		if !prof.BackendAllowed(server) {
			return nil, gateway.NewError(gateway.KindForbidden, fmt.Sprintf("server %q is not available in the current routing profile", server), gateway.ErrForbidden)
		}
		b, ok := d.Registry.Get(server)
		if !ok {
			return nil, gateway.NewError(gateway.KindNotFound, fmt.Sprintf("unknown server %q", server), gateway.ErrNotFound)
		}
		tools, _ := b.ToolsCached()
		return tagging.EnrichAll(filterTools(tools, prof)), nil
	}
	return tagging.EnrichAll(filterTools(d.Registry.AllTools(), prof)), nil
}

// filterTools drops any tool whose backend or name the profile denies.
func filterTools(tools []gateway.ToolDescriptor, prof profile.Profile) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if prof.BackendAllowed(t.Server) && prof.ToolAllowed(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// SearchResult is the search_tools result shape (spec §6).
type SearchResult struct {
	Matches        []SearchMatch `json:"matches"`
	Query          string        `json:"query"`
	Total          int           `json:"total"`
	TotalAvailable int           `json:"total_available"`
	Suggestions    []string      `json:"suggestions,omitempty"`
}

// SearchMatch is one ranked search_tools hit.
type SearchMatch struct {
	Server                  string         `json:"server"`
	Tool                    string         `json:"tool"`
	Description             string         `json:"description"`
	DifferentialDescription string         `json:"differential_description"`
	Score                   float64        `json:"score"`
	InputSchema             map[string]any `json:"input_schema,omitempty"`
}

// SearchTools ranks every tool the session's routing profile permits
// against query, computes family-local differential descriptions for the
// results, and attaches keyword suggestions when nothing matches (spec
// §4.7, §4.8).
func (d *Dispatcher) SearchTools(sessionID, query string, limit int, includeSchema *bool) SearchResult {
	prof := d.profileFor(sessionID)
	all := tagging.EnrichAll(filterTools(d.Registry.AllTools(), prof))

	schema := d.IncludeSchemaDefault
	if includeSchema != nil {
		schema = *includeSchema
	}

	matches := ranker.Rank(query, all, d.Usage, limit, schema)

	tools := make([]gateway.ToolDescriptor, len(matches))
	for i, m := range matches {
		tools[i] = m.Tool
	}
	diffs := tagging.Differentiate(tools)
	diffByKey := make(map[string]string, len(diffs))
	for _, dd := range diffs {
		diffByKey[dd.Tool.Server+"/"+dd.Tool.Name] = dd.DifferentialDescription
	}

	out := make([]SearchMatch, 0, len(matches))
	for _, m := range matches {
		sm := SearchMatch{
			Server:                  m.Tool.Server,
			Tool:                    m.Tool.Name,
			Description:             m.Tool.Description,
			DifferentialDescription: diffByKey[m.Tool.Server+"/"+m.Tool.Name],
			Score:                   m.Score,
		}
		if schema {
			sm.InputSchema = m.Tool.InputSchema
		}
		out = append(out, sm)
	}

	result := SearchResult{
		Matches:        out,
		Query:          query,
		Total:          len(out),
		TotalAvailable: len(all),
	}
	if len(out) == 0 {
		result.Suggestions = ranker.Suggest(query, all)
	}
	return result
}

// InvokeRequest is the invoke meta-tool's argument shape.
type InvokeRequest struct {
	Server    string
	Tool      string
	Arguments map[string]any
	SessionID string
}

// InvokeResult is the invoke meta-tool's result shape: the raw tool result
// plus predicted next tools (spec §6).
type InvokeResult struct {
	Value         any                 `json:"value"`
	PredictedNext []session.Candidate `json:"predicted_next,omitempty"`
	FromCache     bool                `json:"-"`
	// TraceID identifies this call across log lines, minted fresh per
	// invoke (spec §4.9 extension: trace propagation).
	TraceID string `json:"trace_id"`
}

// Invoke runs the full spec §4.9 pipeline: kill-switch, idempotency guard,
// response cache, failsafe-wrapped transport call, then bookkeeping.
func (d *Dispatcher) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	traceID := newTraceID()
	if req.Server == "" || req.Tool == "" {
		return InvokeResult{}, gateway.NewError(gateway.KindInvalidArguments, "server and tool are required", gateway.ErrInvalidArguments)
	}

	backend, ok := d.Registry.Get(req.Server)
	if !ok {
		return InvokeResult{}, gateway.NewError(gateway.KindNotFound, fmt.Sprintf("unknown server %q", req.Server), gateway.ErrNotFound)
	}

	// Routing profile precedes every other gate: a session without access to
	// (server, tool) must not learn whether it is killed, cached, or even
	// reachable.
	if err := d.profileFor(req.SessionID).Check(req.Server, req.Tool); err != nil {
		return InvokeResult{}, gateway.NewError(gateway.KindForbidden, err.Error(), gateway.ErrForbidden)
	}

	// Kill-switch precedes the idempotency guard and the cache lookup
	// (resolved Open Question: a killed backend must not serve even a
	// cached answer, since the operator's intent is to stop all traffic
	// attributable to it for audit purposes).
	if d.KillSwitch.IsKilled(req.Server) {
		return InvokeResult{}, gateway.NewError(gateway.KindKilled, fmt.Sprintf("server %q is killed", req.Server), gateway.ErrKilled)
	}

	key, err := gateway.IdempotencyKey(req.Server, req.Tool, req.Arguments)
	if err != nil {
		return InvokeResult{}, gateway.NewError(gateway.KindInternal, "compute idempotency key", err)
	}

	outcome, cached := d.Idempotency.Begin(key)
	switch outcome {
	case idempotency.OutcomeDuplicate:
		return InvokeResult{}, gateway.NewError(gateway.KindDuplicate, "identical invocation already in flight", gateway.ErrDuplicate)
	case idempotency.OutcomeCached:
		return InvokeResult{Value: cached, FromCache: true, TraceID: traceID}, nil
	}

	// outcome == OutcomeProceed: this caller owns the key until Complete or
	// Fail. Every return path below must call exactly one of them.

	if value, ok := d.Cache.Get(key); ok {
		d.Idempotency.Complete(key, value)
		d.Stats.RecordCacheHit()
		return d.finishSuccess(req, value, true, traceID), nil
	}
	d.Stats.RecordCacheMiss()

	if err := backend.EnsureConnected(ctx); err != nil {
		d.Idempotency.Fail(key)
		d.recordOutcome(req.Server, false, traceID)
		d.Stats.RecordFailure()
		return InvokeResult{}, err
	}

	resolvedTool, resolvedArgs, ok, transformErr := backend.ResolveInvoke(req.Tool, req.Arguments)
	if transformErr != nil {
		d.Idempotency.Fail(key)
		return InvokeResult{}, gateway.NewError(gateway.KindForbidden, transformErr.Error(), gateway.ErrForbidden)
	}
	if !ok {
		d.Idempotency.Fail(key)
		return InvokeResult{}, gateway.NewError(gateway.KindForbidden, fmt.Sprintf("tool %q blocked by backend transform", req.Tool), gateway.ErrForbidden)
	}

	params := map[string]any{"name": resolvedTool, "arguments": resolvedArgs}
	value, callErr := backend.Call(ctx, MethodToolsCall, params)
	if callErr != nil {
		d.Idempotency.Fail(key)
		d.recordOutcome(req.Server, false, traceID)
		d.Stats.RecordFailure()
		return InvokeResult{}, callErr
	}
	value = backend.ApplyResultTransform(req.Tool, value)

	d.Idempotency.Complete(key, value)
	d.Cache.Set(key, value, d.cacheTTL(req.Server, req.Tool))
	d.recordOutcome(req.Server, true, traceID)
	return d.finishSuccess(req, value, false, traceID), nil
}

// finishSuccess records the stats/ranker/session bookkeeping common to both
// a transport hit and a response-cache hit, and attaches predicted_next.
func (d *Dispatcher) finishSuccess(req InvokeRequest, value any, fromCache bool, traceID string) InvokeResult {
	d.Stats.RecordInvocation(req.Server, req.Tool)
	d.Usage.Increment(req.Server, req.Tool)

	var predicted []session.Candidate
	if d.Sessions != nil && req.SessionID != "" {
		predicted = d.Sessions.Predict(req.Server, req.Tool, 0, 0, 5)
		d.Sessions.Observe(req.SessionID, req.Server, req.Tool)
	}

	return InvokeResult{Value: value, PredictedNext: predicted, FromCache: fromCache, TraceID: traceID}
}

// recordOutcome feeds the error-budget auto-kill gate and logs a warning or
// kill transition, tagged with the invoke call's trace id.
func (d *Dispatcher) recordOutcome(server string, ok bool, traceID string) {
	warn, killed := d.KillSwitch.RecordOutcome(server, ok, d.now())
	if killed {
		d.logger().Warn("backend auto-killed by error budget", zap.String("server", server), zap.String("trace_id", traceID))
	} else if warn {
		d.logger().Warn("backend approaching error budget threshold", zap.String("server", server), zap.String("trace_id", traceID))
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

// KillServer adds server to the kill switch's killed set.
func (d *Dispatcher) KillServer(server string) error {
	if _, ok := d.Registry.Get(server); !ok {
		return gateway.NewError(gateway.KindNotFound, fmt.Sprintf("unknown server %q", server), gateway.ErrNotFound)
	}
	d.KillSwitch.Kill(server)
	return nil
}

// ReviveServer removes server from the kill switch's killed set and clears
// its error-budget window.
func (d *Dispatcher) ReviveServer(server string) error {
	if _, ok := d.Registry.Get(server); !ok {
		return gateway.NewError(gateway.KindNotFound, fmt.Sprintf("unknown server %q", server), gateway.ErrNotFound)
	}
	d.KillSwitch.Revive(server)
	return nil
}

// SetProfile binds sessionID to the named routing profile for
// gateway_set_profile. Unknown names are accepted per profile.Registry.Get's
// allow-all fallback, matching the original's "unknown profile names don't
// fail the gateway" behavior; callers that want strict validation should
// check ListProfiles first.
func (d *Dispatcher) SetProfile(sessionID, name string) error {
	if sessionID == "" {
		return gateway.NewError(gateway.KindInvalidArguments, "session id is required to set a routing profile", gateway.ErrInvalidArguments)
	}
	if name == "" {
		return gateway.NewError(gateway.KindInvalidArguments, "profile name is required", gateway.ErrInvalidArguments)
	}
	if d.ProfileSessions == nil {
		return gateway.NewError(gateway.KindInternal, "routing profiles are not configured", gateway.ErrInternal)
	}
	d.ProfileSessions.SetProfile(sessionID, name)
	return nil
}

// GetProfile returns the active routing profile's description for
// gateway_get_profile.
func (d *Dispatcher) GetProfile(sessionID string) map[string]any {
	return d.profileFor(sessionID).Describe()
}

// ListProfiles returns every configured routing profile's name and
// description for gateway_list_profiles.
func (d *Dispatcher) ListProfiles() []map[string]any {
	if d.Profiles == nil {
		return nil
	}
	return d.Profiles.Summaries()
}

// GetStats returns the current stats snapshot.
func (d *Dispatcher) GetStats() stats.Snapshot {
	return d.Stats.Snapshot()
}

// RunPlaybook delegates to the configured PlaybookRunner.
func (d *Dispatcher) RunPlaybook(ctx context.Context, name string, inputs map[string]any) (PlaybookResult, error) {
	if d.Playbooks == nil {
		return PlaybookResult{}, gateway.NewError(gateway.KindNotFound, "playbooks are not configured", gateway.ErrNotFound)
	}
	return d.Playbooks.Run(ctx, name, inputs)
}

// ListToolsFetcher adapts a Dispatcher's registry into a
// registry.ToolFetcher that calls MethodToolsList and decodes the result
// into tool descriptors, for use during warm-start.
func ListToolsFetcher() registry.ToolFetcher {
	return func(ctx context.Context, b *registry.Backend) ([]gateway.ToolDescriptor, error) {
		raw, err := b.Call(ctx, MethodToolsList, nil)
		if err != nil {
			return nil, err
		}
		return decodeToolsList(raw, b.Name)
	}
}

// decodeToolsList parses the generic transport result of a tools/list call
// into tool descriptors. Backends are expected to return either a bare
// array or an object with a "tools" array, each element shaped like
// {name, description, inputSchema}.
func decodeToolsList(raw any, server string) ([]gateway.ToolDescriptor, error) {
	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		if tools, ok := v["tools"].([]any); ok {
			entries = tools
		}
	}

	out := make([]gateway.ToolDescriptor, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		td := gateway.ToolDescriptor{Server: server}
		if name, ok := m["name"].(string); ok {
			td.Name = name
		}
		if desc, ok := m["description"].(string); ok {
			td.Description = desc
		}
		if schema, ok := m["inputSchema"].(map[string]any); ok {
			td.InputSchema = schema
		} else if schema, ok := m["input_schema"].(map[string]any); ok {
			td.InputSchema = schema
		}
		if td.Name == "" {
			continue
		}
		out = append(out, td)
	}
	return out, nil
}
