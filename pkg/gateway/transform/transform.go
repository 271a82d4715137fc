// SPDX-License-Identifier: Apache-2.0

// Package transform implements per-backend tool transforms (spec §4.9
// extension: provider transforms): namespace prefixing, name filtering,
// renaming, and response projection/redaction, composed into a fixed-order
// chain that sits between the registry's cached tool list and the
// dispatcher's invoke path.
package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// Transform is one middleware stage in a backend's transform Chain. It
// mirrors the list_tools / invoke / result hooks every stage needs:
// TransformTools maps the cached tool list, TransformInvoke resolves the
// caller-facing tool name and arguments down to what the inner backend
// expects (returning ok=false blocks the call), and TransformResult
// reshapes the backend's raw response on the way back out.
type Transform interface {
	TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor
	TransformInvoke(tool string, args map[string]any) (string, map[string]any, bool)
	TransformResult(tool string, result any) any
}

// NamespaceTransform prefixes every tool name with "<prefix><separator>" on
// the way out and strips that same prefix on the way in, so two backends
// that happen to expose a tool with the same bare name never collide in the
// aggregated catalog.
type NamespaceTransform struct {
	prefix    string
	separator string
}

// NewNamespaceTransform prefixes tool names with prefix, separated by "_".
func NewNamespaceTransform(prefix string) NamespaceTransform {
	return NewNamespaceTransformWithSeparator(prefix, "_")
}

// NewNamespaceTransformWithSeparator prefixes tool names with prefix,
// joined by an explicit separator instead of the "_" default.
func NewNamespaceTransformWithSeparator(prefix, separator string) NamespaceTransform {
	if separator == "" {
		separator = "_"
	}
	return NamespaceTransform{prefix: prefix, separator: separator}
}

func (n NamespaceTransform) full() string { return n.prefix + n.separator }

// Prefixed returns name with the namespace prefix applied.
func (n NamespaceTransform) Prefixed(name string) string { return n.full() + name }

// Strip removes the namespace prefix from name if present, otherwise
// returns name unchanged.
func (n NamespaceTransform) Strip(name string) string {
	if stripped, ok := strings.CutPrefix(name, n.full()); ok {
		return stripped
	}
	return name
}

func (n NamespaceTransform) TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, len(tools))
	for i, t := range tools {
		t.Name = n.Prefixed(t.Name)
		out[i] = t
	}
	return out
}

func (n NamespaceTransform) TransformInvoke(tool string, args map[string]any) (string, map[string]any, bool) {
	return n.Strip(tool), args, true
}

func (n NamespaceTransform) TransformResult(_ string, result any) any { return result }

// FilterTransform exposes only tools matching an allow list (when
// non-empty) and never exposes tools matching a deny list. Patterns accept
// a single trailing "*" wildcard ("gmail_*"); anything else is compared
// exactly. The allow list, when populated, takes precedence: a tool that
// doesn't match any allow pattern is denied regardless of the deny list.
type FilterTransform struct {
	allow []string
	deny  []string
}

// AllowFilter permits only tools matching one of patterns.
func AllowFilter(patterns ...string) FilterTransform {
	return FilterTransform{allow: patterns}
}

// DenyFilter permits every tool except those matching one of patterns.
func DenyFilter(patterns ...string) FilterTransform {
	return FilterTransform{deny: patterns}
}

// NewFilterTransform builds a filter from explicit allow and deny lists.
func NewFilterTransform(allow, deny []string) FilterTransform {
	return FilterTransform{allow: allow, deny: deny}
}

func matchesPattern(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// IsAllowed reports whether tool survives this filter.
func (f FilterTransform) IsAllowed(tool string) bool {
	if len(f.allow) > 0 {
		matched := false
		for _, p := range f.allow {
			if matchesPattern(p, tool) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range f.deny {
		if matchesPattern(p, tool) {
			return false
		}
	}
	return true
}

func (f FilterTransform) TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if f.IsAllowed(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func (f FilterTransform) TransformInvoke(tool string, args map[string]any) (string, map[string]any, bool) {
	if !f.IsAllowed(tool) {
		return "", nil, false
	}
	return tool, args, true
}

func (f FilterTransform) TransformResult(_ string, result any) any { return result }

// RenameTransform maps individual tool names through an explicit old→new
// table, translating aliases back to their original name on invoke so the
// inner backend never sees the renamed form.
type RenameTransform struct {
	renames map[string]string
	reverse map[string]string
}

// NewRenameTransform builds a RenameTransform from an old-name→new-name
// table.
func NewRenameTransform(renames map[string]string) RenameTransform {
	reverse := make(map[string]string, len(renames))
	for oldName, newName := range renames {
		reverse[newName] = oldName
	}
	return RenameTransform{renames: renames, reverse: reverse}
}

func (r RenameTransform) TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, len(tools))
	for i, t := range tools {
		if newName, ok := r.renames[t.Name]; ok {
			t.Name = newName
		}
		out[i] = t
	}
	return out
}

func (r RenameTransform) TransformInvoke(tool string, args map[string]any) (string, map[string]any, bool) {
	if original, ok := r.reverse[tool]; ok {
		return original, args, true
	}
	return tool, args, true
}

func (r RenameTransform) TransformResult(_ string, result any) any { return result }

// RedactRule replaces every regexp match of Pattern in a string value with
// Replacement.
type RedactRule struct {
	Pattern     string
	Replacement string
}

// ResponseTransform reshapes a tool's result on the way back to the caller:
// Project keeps only the listed top-level keys (when non-empty), Rename
// renames top-level keys through an old→new table, and Redact replaces
// regexp matches inside string values. It never touches the tool list or
// the invoke request.
type ResponseTransform struct {
	project []string
	rename  map[string]string
	redact  []compiledRedact
}

type compiledRedact struct {
	re          *regexp.Regexp
	replacement string
}

// ResponseConfig is the declarative form ResponseTransform compiles from.
type ResponseConfig struct {
	Project []string
	Rename  map[string]string
	Redact  []RedactRule
}

// NewResponseTransform compiles a ResponseConfig into an executable
// ResponseTransform. Malformed regexps in Redact are skipped rather than
// failing the whole backend.
func NewResponseTransform(cfg ResponseConfig) ResponseTransform {
	t := ResponseTransform{project: cfg.Project, rename: cfg.Rename}
	for _, rule := range cfg.Redact {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			continue
		}
		t.redact = append(t.redact, compiledRedact{re: re, replacement: rule.Replacement})
	}
	return t
}

func (t ResponseTransform) isNoop() bool {
	return len(t.project) == 0 && len(t.rename) == 0 && len(t.redact) == 0
}

func (t ResponseTransform) TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	return tools
}

func (t ResponseTransform) TransformInvoke(tool string, args map[string]any) (string, map[string]any, bool) {
	return tool, args, true
}

func (t ResponseTransform) TransformResult(_ string, result any) any {
	if t.isNoop() {
		return result
	}
	return t.apply(result)
}

func (t ResponseTransform) apply(result any) any {
	obj, ok := result.(map[string]any)
	if !ok {
		return t.redactValue(result)
	}

	if len(t.project) > 0 {
		projected := make(map[string]any, len(t.project))
		for _, key := range t.project {
			if v, ok := obj[key]; ok {
				projected[key] = v
			}
		}
		obj = projected
	}

	if len(t.rename) > 0 {
		renamed := make(map[string]any, len(obj))
		for k, v := range obj {
			if newKey, ok := t.rename[k]; ok {
				renamed[newKey] = v
			} else {
				renamed[k] = v
			}
		}
		obj = renamed
	}

	for k, v := range obj {
		obj[k] = t.redactValue(v)
	}
	return obj
}

func (t ResponseTransform) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		for _, rule := range t.redact {
			val = rule.re.ReplaceAllString(val, rule.replacement)
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = t.redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = t.redactValue(vv)
		}
		return out
	default:
		return v
	}
}

// Chain wraps a backend's tool list and invoke/result path with an ordered
// list of transforms. list_tools runs in order; the invoke and result
// passes run in reverse, mirroring an onion middleware: the transform that
// renamed a tool last on the list pass resolves the caller's name first,
// and the transform closest to the inner backend sees the raw result first.
type Chain struct {
	name       string
	transforms []Transform
}

// NewChain builds a Chain over transforms in the given order.
func NewChain(name string, transforms ...Transform) *Chain {
	return &Chain{name: name, transforms: transforms}
}

// TransformTools runs every stage's TransformTools in order.
func (c *Chain) TransformTools(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	if c == nil {
		return tools
	}
	for _, t := range c.transforms {
		tools = t.TransformTools(tools)
	}
	return tools
}

// ResolveInvoke runs every stage's TransformInvoke in reverse order,
// threading the tool name and arguments from the caller side inward. ok is
// false if any stage blocked the call, in which case err names the
// caller-facing tool.
func (c *Chain) ResolveInvoke(tool string, args map[string]any) (resolvedTool string, resolvedArgs map[string]any, ok bool, err error) {
	if c == nil {
		return tool, args, true, nil
	}
	current, currentArgs := tool, args
	for i := len(c.transforms) - 1; i >= 0; i-- {
		t := c.transforms[i]
		next, nextArgs, passed := t.TransformInvoke(current, currentArgs)
		if !passed {
			return "", nil, false, fmt.Errorf("tool %q blocked by transform in provider %q", tool, c.name)
		}
		current, currentArgs = next, nextArgs
	}
	return current, currentArgs, true, nil
}

// ApplyResult runs every stage's TransformResult in reverse order. tool is
// the caller-facing name from the original invoke request, matching what
// every stage receives regardless of how earlier stages renamed it.
func (c *Chain) ApplyResult(tool string, result any) any {
	if c == nil {
		return result
	}
	for i := len(c.transforms) - 1; i >= 0; i-- {
		result = c.transforms[i].TransformResult(tool, result)
	}
	return result
}
