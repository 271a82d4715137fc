// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"context"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/playbook"
)

// invokerAdapter satisfies playbook.Invoker by routing every step call
// through the dispatcher's own Invoke pipeline, so playbook steps get the
// same kill-switch, idempotency, cache, and failsafe treatment as a direct
// invoke call.
type invokerAdapter struct {
	d *Dispatcher
}

func (a invokerAdapter) Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	result, err := a.d.Invoke(ctx, InvokeRequest{Server: server, Tool: tool, Arguments: args})
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// engineRunner adapts a *playbook.Engine to the dispatcher's PlaybookRunner
// contract.
type engineRunner struct {
	engine *playbook.Engine
}

func (r engineRunner) Run(ctx context.Context, name string, inputs map[string]any) (PlaybookResult, error) {
	result, err := r.engine.Run(ctx, name, inputs)
	if err != nil {
		return PlaybookResult{}, err
	}
	return PlaybookResult{
		Output:         result.Output,
		StepsCompleted: result.StepsCompleted,
		StepsSkipped:   result.StepsSkipped,
		StepsFailed:    result.StepsFailed,
		DurationMS:     result.DurationMS,
	}, nil
}

// NewPlaybookRunner builds a PlaybookRunner over defs that calls back into
// d for every step invocation.
func NewPlaybookRunner(defs map[string]playbook.Definition, d *Dispatcher) PlaybookRunner {
	return engineRunner{engine: playbook.NewEngine(defs, invokerAdapter{d: d})}
}
