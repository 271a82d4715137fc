// SPDX-License-Identifier: Apache-2.0

package playbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// refPattern matches one variable reference: $name.a.b[0].c. The first
// segment is either "inputs" or a prior step's name; subsequent segments
// are either .field or [index].
var refPattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])*`)

// purePattern anchors refPattern to the whole string, used to distinguish a
// pure reference (resolves with its original type) from an embedded
// reference inside a larger string (stringified).
var purePattern = regexp.MustCompile(`^` + refPattern.String() + `$`)

type segment struct {
	field string
	index int
	isIdx bool
}

// parseRef splits "$name.a.b[0].c" into its root name and path segments.
func parseRef(ref string) (root string, segments []segment, err error) {
	if !strings.HasPrefix(ref, "$") {
		return "", nil, fmt.Errorf("not a reference: %q", ref)
	}
	body := ref[1:]

	fieldOrIndex := regexp.MustCompile(`\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\]`)
	locs := fieldOrIndex.FindAllStringIndex(body, -1)

	end := len(body)
	if len(locs) > 0 {
		end = locs[0][0]
	}
	root = body[:end]
	if root == "" {
		return "", nil, fmt.Errorf("empty reference root in %q", ref)
	}

	for _, loc := range locs {
		tok := body[loc[0]:loc[1]]
		if strings.HasPrefix(tok, ".") {
			segments = append(segments, segment{field: tok[1:]})
		} else {
			idxStr := tok[1 : len(tok)-1]
			n, convErr := strconv.Atoi(idxStr)
			if convErr != nil {
				return "", nil, fmt.Errorf("invalid index in %q: %w", ref, convErr)
			}
			segments = append(segments, segment{index: n, isIdx: true})
		}
	}
	return root, segments, nil
}

// resolvePath walks segments over root, returning (nil, false) the moment a
// path component is missing or of the wrong shape — callers treat that as a
// resolved-to-null reference, not an error (spec §4.10: "Missing paths
// resolve to null").
func resolvePath(root any, segments []segment) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg.isIdx {
			arr, ok := current.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			current = arr[seg.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := obj[seg.field]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// resolveRef resolves a single "$..." reference string against ctx, a map
// from root name ("inputs" or a step name) to its value.
func resolveRef(ref string, ctx map[string]any) (any, bool) {
	root, segments, err := parseRef(ref)
	if err != nil {
		return nil, false
	}
	rootVal, ok := ctx[root]
	if !ok {
		return nil, false
	}
	return resolvePath(rootVal, segments)
}

// Substitute resolves variable references inside v. A string that is
// exactly one reference resolves with its original type; a string
// containing references embedded in other text has each reference
// stringified and substituted in place. Maps and slices are walked
// recursively; every other type passes through unchanged.
func Substitute(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = Substitute(inner, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Substitute(inner, ctx)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, ctx map[string]any) any {
	if purePattern.MatchString(s) {
		resolved, ok := resolveRef(s, ctx)
		if !ok {
			return nil
		}
		return resolved
	}
	if !refPattern.MatchString(s) {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		resolved, ok := resolveRef(match, ctx)
		if !ok {
			return "null"
		}
		return stringify(resolved)
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
