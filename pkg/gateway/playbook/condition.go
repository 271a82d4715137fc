// SPDX-License-Identifier: Apache-2.0

package playbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Condition is a parsed step condition. Exactly one of the three forms is
// set, matching the closed grammar of spec §4.10.
type Condition struct {
	raw string

	// Truthy: bare reference.
	truthyRef string

	// Equality: ref == 'literal'.
	eqRef     string
	eqLiteral string

	// Length comparison: ref | length (> | >=) N.
	lengthRef  string
	lengthOp   string // ">" or ">="
	lengthWant int
}

var (
	eqPattern     = regexp.MustCompile(`^(\$[^\s]+)\s*==\s*'([^']*)'$`)
	lengthPattern = regexp.MustCompile(`^(\$[^\s|]+)\s*\|\s*length\s*(>=|>)\s*(\d+)$`)
)

// ParseCondition validates and parses a condition string at playbook load
// time. Unrecognized forms are rejected, per spec §4.10: "All other forms
// are rejected at load time."
func ParseCondition(raw string) (*Condition, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty condition")
	}

	if m := eqPattern.FindStringSubmatch(trimmed); m != nil {
		if !purePattern.MatchString(m[1]) {
			return nil, fmt.Errorf("invalid reference in condition %q", raw)
		}
		return &Condition{raw: raw, eqRef: m[1], eqLiteral: m[2]}, nil
	}

	if m := lengthPattern.FindStringSubmatch(trimmed); m != nil {
		if !purePattern.MatchString(m[1]) {
			return nil, fmt.Errorf("invalid reference in condition %q", raw)
		}
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("invalid length bound in condition %q: %w", raw, err)
		}
		return &Condition{raw: raw, lengthRef: m[1], lengthOp: m[2], lengthWant: n}, nil
	}

	if purePattern.MatchString(trimmed) {
		return &Condition{raw: raw, truthyRef: trimmed}, nil
	}

	return nil, fmt.Errorf("unrecognized condition grammar: %q", raw)
}

// Eval evaluates the condition against ctx.
func (c *Condition) Eval(ctx map[string]any) bool {
	switch {
	case c.truthyRef != "":
		val, ok := resolveRef(c.truthyRef, ctx)
		return ok && truthy(val)
	case c.eqRef != "":
		val, ok := resolveRef(c.eqRef, ctx)
		if !ok {
			return false
		}
		s, isStr := val.(string)
		if !isStr {
			s = stringify(val)
		}
		return s == c.eqLiteral
	case c.lengthRef != "":
		val, ok := resolveRef(c.lengthRef, ctx)
		if !ok {
			return false
		}
		n := length(val)
		if c.lengthOp == ">=" {
			return n >= c.lengthWant
		}
		return n > c.lengthWant
	default:
		return false
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func length(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []any:
		return len(val)
	case map[string]any:
		return len(val)
	default:
		return 0
	}
}
