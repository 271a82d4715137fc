// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/cache"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/failsafe"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/idempotency"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/killswitch"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/profile"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/ranker"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/registry"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/session"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/stats"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transform"
)

type fakeTransport struct {
	requestFn func(method string, params map[string]any) (any, error)
	calls     int32
}

func (f *fakeTransport) Start(context.Context) error { return nil }
func (f *fakeTransport) Stop(context.Context) error  { return nil }
func (f *fakeTransport) IsRunning() bool              { return true }

func (f *fakeTransport) Request(_ context.Context, method string, params map[string]any) (any, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.requestFn != nil {
		return f.requestFn(method, params)
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeTransport) Notify(context.Context, string, map[string]any) error { return nil }

func newTestDispatcher(t *testing.T, tr *fakeTransport) (*Dispatcher, *registry.Backend) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	stack := failsafe.NewStack(failsafe.DefaultStackConfig(), nil)
	backend := registry.NewBackend("s1", gateway.TransportStdio, tr, stack, 0, time.Minute)
	reg.Register(backend)

	d := &Dispatcher{
		Registry:    reg,
		KillSwitch:  killswitch.New(killswitch.DefaultBudgetConfig()),
		Cache:       cache.New(100, nil),
		Idempotency: idempotency.New(5*time.Minute, 24*time.Hour, nil),
		Usage:       ranker.NewUsageStore(),
		Sessions:    session.New(),
		Stats:       stats.New(),
	}
	return d, backend
}

func TestDispatcher_InvokeSuccessRecordsStatsAndCachesResult(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(t, tr)

	res, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, map[string]any{"ok": true}, res.Value)

	snap := d.Stats.Snapshot()
	assert.Equal(t, int64(1), snap.Invocations)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.calls))
}

func TestDispatcher_InvokeSecondIdenticalCallHitsCache(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(t, tr)

	args := map[string]any{"x": 1}
	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
	require.NoError(t, err)

	res2, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
	require.NoError(t, err)
	assert.True(t, res2.FromCache)
	// Cache hit must not re-reach the transport.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.calls))
}

func TestDispatcher_InvokeUnknownServerReturnsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "missing", Tool: "t1"})
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindNotFound, gerr.Kind)
}

func TestDispatcher_InvokeMissingToolOrServerIsInvalidArguments(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1"})
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindInvalidArguments, gerr.Kind)
}

func TestDispatcher_InvokeOnKilledServerIsRejectedBeforeCache(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(t, tr)

	args := map[string]any{"x": 1}
	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
	require.NoError(t, err)

	require.NoError(t, d.KillServer("s1"))

	_, err = d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindKilled, gerr.Kind)
	// Still only the one transport call from before the kill.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tr.calls))
}

func TestDispatcher_ReviveServerClearsKillState(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	require.NoError(t, d.KillServer("s1"))
	require.NoError(t, d.ReviveServer("s1"))

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1"})
	assert.NoError(t, err)
}

func TestDispatcher_InvokeTransportFailureRecordsFailureAndDoesNotCache(t *testing.T) {
	tr := &fakeTransport{requestFn: func(string, map[string]any) (any, error) {
		return nil, gateway.NewError(gateway.KindToolFailed, "boom", gateway.ErrToolFailed)
	}}
	d, _ := newTestDispatcher(t, tr)

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1"})
	require.Error(t, err)

	snap := d.Stats.Snapshot()
	assert.Equal(t, int64(1), snap.Failures)

	// A retry with the same args is not blocked as a duplicate (Fail clears
	// ownership) and re-reaches the transport.
	_, err = d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1"})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tr.calls))
}

func TestDispatcher_InvokeConcurrentIdenticalCallsDeduplicate(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	tr := &fakeTransport{requestFn: func(string, map[string]any) (any, error) {
		entered <- struct{}{}
		<-block
		return map[string]any{"ok": true}, nil
	}}
	d, _ := newTestDispatcher(t, tr)

	args := map[string]any{"x": 1}
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
		errCh <- err
	}()
	<-entered

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: args})
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindDuplicate, gerr.Kind)

	close(block)
	require.NoError(t, <-errCh)
}

func TestDispatcher_ListServersReflectsRegistryState(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTools([]gateway.ToolDescriptor{{Name: "t1", Server: "s1"}})

	servers := d.ListServers("")
	require.Len(t, servers, 1)
	assert.Equal(t, "s1", servers[0].Name)
	assert.Equal(t, 1, servers[0].ToolCount)
}

func TestDispatcher_ListToolsFiltersByServer(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTools([]gateway.ToolDescriptor{{Name: "t1", Server: "s1", Description: "does a thing"}})

	tools, err := d.ListTools("", "s1")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	_, err = d.ListTools("", "missing")
	require.Error(t, err)
}

func TestDispatcher_SearchToolsRanksAndFallsBackToSuggestions(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTools([]gateway.ToolDescriptor{{Name: "read_file", Server: "s1", Description: "Reads a file from disk."}})

	res := d.SearchTools("", "read", 10, nil)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "read_file", res.Matches[0].Tool)

	res2 := d.SearchTools("", "zzz_no_match_zzz", 10, nil)
	assert.Len(t, res2.Matches, 0)
}

func TestDispatcher_GetStatsReturnsRecorderSnapshot(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1"})
	require.NoError(t, err)

	snap := d.GetStats()
	assert.Equal(t, int64(1), snap.Invocations)
}

func TestDispatcher_RunPlaybookWithoutRunnerIsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	_, err := d.RunPlaybook(context.Background(), "pb1", nil)
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindNotFound, gerr.Kind)
}

type fakePlaybookRunner struct {
	result PlaybookResult
	err    error
}

func (f *fakePlaybookRunner) Run(context.Context, string, map[string]any) (PlaybookResult, error) {
	return f.result, f.err
}

func TestDispatcher_RunPlaybookDelegatesToRunner(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	d.Playbooks = &fakePlaybookRunner{result: PlaybookResult{StepsCompleted: []string{"step1"}}}

	res, err := d.RunPlaybook(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1"}, res.StepsCompleted)
}

func withProfiles(d *Dispatcher, configs map[string]profile.Config, defaultName string) {
	d.Profiles = profile.NewRegistry(configs, defaultName)
	d.ProfileSessions = profile.NewSessionStore()
}

func TestDispatcher_InvokeDeniedByProfileReturnsForbidden(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	withProfiles(d, map[string]profile.Config{
		"coding": {AllowTools: []string{"git_*"}},
	}, "coding")

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", SessionID: "sess1"})
	require.Error(t, err)
	gerr := err.(*gateway.GatewayError)
	assert.Equal(t, gateway.KindForbidden, gerr.Kind)
}

func TestDispatcher_InvokeAllowedByProfilePassesThrough(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	withProfiles(d, map[string]profile.Config{
		"coding": {AllowTools: []string{"t1"}},
	}, "coding")

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", SessionID: "sess1"})
	assert.NoError(t, err)
}

func TestDispatcher_ListToolsFiltersByProfile(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTools([]gateway.ToolDescriptor{
		{Name: "git_commit", Server: "s1"},
		{Name: "gmail_send", Server: "s1"},
	})
	withProfiles(d, map[string]profile.Config{
		"coding": {AllowTools: []string{"git_*"}},
	}, "coding")

	tools, err := d.ListTools("sess1", "")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "git_commit", tools[0].Name)
}

func TestDispatcher_ListServersFiltersByProfile(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	withProfiles(d, map[string]profile.Config{
		"coding": {DenyBackends: []string{"s1"}},
	}, "coding")

	servers := d.ListServers("sess1")
	assert.Len(t, servers, 0)
}

func TestDispatcher_SetGetAndListProfiles(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	withProfiles(d, map[string]profile.Config{
		"coding":   {Description: "Coding tasks"},
		"research": {Description: "Research tasks"},
	}, "research")

	profiles := d.ListProfiles()
	require.Len(t, profiles, 2)

	require.NoError(t, d.SetProfile("sess1", "coding"))
	got := d.GetProfile("sess1")
	assert.Equal(t, "coding", got["name"])

	// A different, never-configured session still sees the registry default.
	assert.Equal(t, "research", d.GetProfile("sess2")["name"])
}

func TestDispatcher_SetProfileRequiresSessionAndName(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	withProfiles(d, nil, "full")

	assert.Error(t, d.SetProfile("", "coding"))
	assert.Error(t, d.SetProfile("sess1", ""))
}

func TestDispatcher_NoProfilesConfiguredAllowsEverything(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})
	// d.Profiles and d.ProfileSessions are left nil, as in every other test.
	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", SessionID: "sess1"})
	assert.NoError(t, err)
	assert.Empty(t, d.ListProfiles())
}

func TestDispatcher_InvokeResultCarriesTraceID(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeTransport{})

	res, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.TraceID, "gw-"))
}

func TestDispatcher_InvokeStripsNamespacePrefixBeforeCallingBackend(t *testing.T) {
	var seenName string
	tr := &fakeTransport{requestFn: func(_ string, params map[string]any) (any, error) {
		seenName, _ = params["name"].(string)
		return map[string]any{"ok": true}, nil
	}}
	d, backend := newTestDispatcher(t, tr)
	backend.SetTransforms(transform.NewChain("s1", transform.NewNamespaceTransform("s1")))

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "s1_t1", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "t1", seenName)
}

func TestDispatcher_InvokeBlockedByBackendTransformReturnsForbidden(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTransforms(transform.NewChain("s1", transform.AllowFilter("allowed_tool")))

	_, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "other_tool", Arguments: map[string]any{}})
	require.Error(t, err)
	gerr, ok := err.(*gateway.GatewayError)
	require.True(t, ok)
	assert.Equal(t, gateway.KindForbidden, gerr.Kind)
}

func TestDispatcher_InvokeAppliesResponseRedactionAfterCall(t *testing.T) {
	tr := &fakeTransport{requestFn: func(_ string, _ map[string]any) (any, error) {
		return map[string]any{"message": "contact user@example.com"}, nil
	}}
	d, backend := newTestDispatcher(t, tr)
	backend.SetTransforms(transform.NewChain("s1", transform.NewResponseTransform(transform.ResponseConfig{
		Redact: []transform.RedactRule{{Pattern: `[\w.]+@[\w.]+`, Replacement: "[REDACTED]"}},
	})))

	res, err := d.Invoke(context.Background(), InvokeRequest{Server: "s1", Tool: "t1", Arguments: map[string]any{}})
	require.NoError(t, err)
	out := res.Value.(map[string]any)
	assert.Equal(t, "contact [REDACTED]", out["message"])
}

func TestDispatcher_ListToolsAppliesBackendNamespace(t *testing.T) {
	d, backend := newTestDispatcher(t, &fakeTransport{})
	backend.SetTransforms(transform.NewChain("s1", transform.NewNamespaceTransform("s1")))
	backend.SetTools([]gateway.ToolDescriptor{{Name: "t1", Server: "s1"}})

	tools, err := d.ListTools("", "s1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "s1_t1", tools[0].Name)
}
