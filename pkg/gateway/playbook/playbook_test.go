// SPDX-License-Identifier: Apache-2.0

package playbook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	results map[string]any
	errs    map[string]error
	calls   map[string]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{results: map[string]any{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	key := server + "/" + tool
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.results[key], nil
}

func TestEngine_RunsStepsInOrderAndCollectsOutput(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["s1/tool_a"] = map[string]any{"value": "a-result"}

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a", Args: map[string]any{}},
			},
		},
	}
	e := NewEngine(defs, inv)

	res, err := e.Run(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1"}, res.StepsCompleted)
	assert.Empty(t, res.StepsFailed)
	assert.Equal(t, map[string]any{"value": "a-result"}, res.Output["step1"])
}

func TestEngine_ZeroTimeoutFailsImmediately(t *testing.T) {
	inv := newFakeInvoker()
	defs := map[string]Definition{
		"pb1": {Name: "pb1", Timeout: 0, Steps: []Step{{Name: "step1", Server: "s1", Tool: "tool_a"}}},
	}
	e := NewEngine(defs, inv)

	_, err := e.Run(context.Background(), "pb1", nil)
	require.Error(t, err)
	assert.Equal(t, 0, inv.calls["s1/tool_a"], "no step should run when the playbook timeout is zero")
}

func TestEngine_ConditionSkipsStep(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["s1/tool_a"] = map[string]any{"flag": false}
	inv.results["s1/tool_b"] = "should not run unless flag is true"

	cond, err := ParseCondition("$step1.flag")
	require.NoError(t, err)

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a"},
				{Name: "step2", Server: "s1", Tool: "tool_b", Condition: cond},
			},
		},
	}
	e := NewEngine(defs, inv)

	res, err := e.Run(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"step2"}, res.StepsSkipped)
	assert.Equal(t, 0, inv.calls["s1/tool_b"])
}

func TestEngine_AbortOnErrorStopsRun(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["s1/tool_a"] = errors.New("boom")

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a", OnError: StrategyAbort},
				{Name: "step2", Server: "s1", Tool: "tool_b"},
			},
		},
	}
	e := NewEngine(defs, inv)

	_, err := e.Run(context.Background(), "pb1", nil)
	require.Error(t, err)
	assert.Equal(t, 0, inv.calls["s1/tool_b"], "abort must stop execution before later steps run")
}

func TestEngine_ContinueOnErrorProceeds(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["s1/tool_a"] = errors.New("boom")
	inv.results["s1/tool_b"] = "ran anyway"

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a", OnError: StrategyContinue},
				{Name: "step2", Server: "s1", Tool: "tool_b"},
			},
		},
	}
	e := NewEngine(defs, inv)

	res, err := e.Run(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"step1"}, res.StepsFailed)
	assert.Equal(t, []string{"step2"}, res.StepsCompleted)
}

func TestEngine_RetryExhaustsMaxRetriesThenFails(t *testing.T) {
	inv := newFakeInvoker()
	inv.errs["s1/tool_a"] = errors.New("always fails")

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a", OnError: StrategyRetry, MaxRetries: 2},
			},
		},
	}
	e := NewEngine(defs, inv)

	_, err := e.Run(context.Background(), "pb1", nil)
	require.Error(t, err)
	assert.Equal(t, 3, inv.calls["s1/tool_a"], "must attempt the first try plus MaxRetries retries")
}

func TestEngine_ArgsAreSubstitutedFromPriorSteps(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["s1/tool_a"] = map[string]any{"id": "abc123"}

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a"},
				{Name: "step2", Server: "s1", Tool: "tool_b", Args: map[string]any{"ref_id": "$step1.id"}},
			},
		},
	}

	var seenArgs map[string]any
	captureInv := &capturingInvoker{fakeInvoker: inv, onCall: func(server, tool string, args map[string]any) {
		if tool == "tool_b" {
			seenArgs = args
		}
	}}

	e := NewEngine(defs, captureInv)
	_, err := e.Run(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", seenArgs["ref_id"])
}

func TestEngine_ExplicitOutputProjectionWithFallback(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["s1/tool_a"] = map[string]any{"value": "present"}

	defs := map[string]Definition{
		"pb1": {
			Name:    "pb1",
			Timeout: time.Minute,
			Steps: []Step{
				{Name: "step1", Server: "s1", Tool: "tool_a"},
			},
			Output: map[string]OutputField{
				"got":      {Path: "$step1.value"},
				"fallback": {Path: "$step1.missing", Fallback: "default"},
			},
		},
	}
	e := NewEngine(defs, inv)

	res, err := e.Run(context.Background(), "pb1", nil)
	require.NoError(t, err)
	assert.Equal(t, "present", res.Output["got"])
	assert.Equal(t, "default", res.Output["fallback"])
}

type capturingInvoker struct {
	*fakeInvoker
	onCall func(server, tool string, args map[string]any)
}

func (c *capturingInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	c.onCall(server, tool, args)
	return c.fakeInvoker.Invoke(ctx, server, tool, args)
}
