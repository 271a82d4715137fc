// SPDX-License-Identifier: Apache-2.0

// Package playbook implements the YAML-declared step sequences of spec
// §4.10: variable interpolation over a custom "$name.a.b[0].c" grammar
// (deliberately not Go's text/template, to match the spec's closed
// reference syntax), conditional step skipping, per-step error strategies,
// and a single wall-clock playbook timeout.
package playbook

import (
	"context"
	"fmt"
	"time"
)

// ErrorStrategy is a step's behavior on failure (spec §4.10).
type ErrorStrategy string

const (
	StrategyAbort    ErrorStrategy = "abort"
	StrategyContinue ErrorStrategy = "continue"
	StrategyRetry    ErrorStrategy = "retry"
)

// Step is one parsed playbook step.
type Step struct {
	Name       string
	Server     string
	Tool       string
	Args       map[string]any
	Condition  *Condition
	OnError    ErrorStrategy
	MaxRetries int
}

// OutputField is one entry of an explicit output map: resolve Path, or
// fall back to Fallback if the path resolves to null.
type OutputField struct {
	Path     string
	Fallback any
}

// Definition is one loaded playbook.
type Definition struct {
	Name    string
	Steps   []Step
	Output  map[string]OutputField // nil means "every step result, keyed by step name"
	Timeout time.Duration
}

// Invoker is the narrow tool-calling contract the playbook engine runs
// steps through. The dispatcher's Invoke method satisfies this via a thin
// adapter at wiring time, keeping this package free of a dependency back
// onto the dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// Result is the run_playbook result shape (spec §6).
type Result struct {
	Output         map[string]any
	StepsCompleted []string
	StepsSkipped   []string
	StepsFailed    []string
	DurationMS     int64
}

// Engine holds the loaded playbook definitions and runs them.
type Engine struct {
	defs    map[string]Definition
	invoker Invoker
	clock   func() time.Time
}

// NewEngine creates an Engine over defs, calling through invoker.
func NewEngine(defs map[string]Definition, invoker Invoker) *Engine {
	return &Engine{defs: defs, invoker: invoker, clock: time.Now}
}

// deadlineExceededErr is returned (wrapped) when a step causes
// now-start > timeout, per spec §4.10.
type deadlineExceededErr struct{ timeout time.Duration }

func (e *deadlineExceededErr) Error() string {
	return fmt.Sprintf("playbook timeout of %s exceeded", e.timeout)
}

// Run executes the named playbook with the given inputs.
func (e *Engine) Run(ctx context.Context, name string, inputs map[string]any) (Result, error) {
	def, ok := e.defs[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown playbook %q", name)
	}

	start := e.clock()
	if def.Timeout <= 0 {
		return Result{}, &deadlineExceededErr{timeout: def.Timeout}
	}

	runCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	varCtx := map[string]any{"inputs": inputs}
	var completed, skipped, failed []string

	for _, step := range def.Steps {
		if e.clock().Sub(start) > def.Timeout {
			return e.buildResult(def, varCtx, completed, skipped, append(failed, step.Name), start), &deadlineExceededErr{timeout: def.Timeout}
		}

		if step.Condition != nil && !step.Condition.Eval(varCtx) {
			skipped = append(skipped, step.Name)
			varCtx[step.Name] = nil
			continue
		}

		result, err := e.runStep(runCtx, step, varCtx)
		if err != nil {
			switch step.OnError {
			case StrategyContinue:
				varCtx[step.Name] = nil
				failed = append(failed, step.Name)
				continue
			default: // StrategyAbort, or StrategyRetry exhausted (runStep retries internally)
				failed = append(failed, step.Name)
				return e.buildResult(def, varCtx, completed, skipped, failed, start), err
			}
		}

		varCtx[step.Name] = result
		completed = append(completed, step.Name)
	}

	return e.buildResult(def, varCtx, completed, skipped, failed, start), nil
}

// runStep substitutes the step's argument template and calls through the
// invoker, retrying up to MaxRetries times when OnError is "retry".
func (e *Engine) runStep(ctx context.Context, step Step, varCtx map[string]any) (any, error) {
	args, _ := Substitute(step.Args, varCtx).(map[string]any)

	attempts := 1
	if step.OnError == StrategyRetry && step.MaxRetries > 0 {
		attempts = step.MaxRetries + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := e.invoker.Invoke(ctx, step.Server, step.Tool, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) buildResult(def Definition, varCtx map[string]any, completed, skipped, failed []string, start time.Time) Result {
	var output map[string]any
	if def.Output != nil {
		output = make(map[string]any, len(def.Output))
		for field, spec := range def.Output {
			val, ok := resolveRef(spec.Path, varCtx)
			if !ok || val == nil {
				output[field] = spec.Fallback
			} else {
				output[field] = val
			}
		}
	} else {
		output = make(map[string]any, len(def.Steps))
		for _, step := range def.Steps {
			output[step.Name] = varCtx[step.Name]
		}
	}

	return Result{
		Output:         output,
		StepsCompleted: nonNil(completed),
		StepsSkipped:   nonNil(skipped),
		StepsFailed:    nonNil(failed),
		DurationMS:     e.clock().Sub(start).Milliseconds(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
