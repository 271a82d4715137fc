// SPDX-License-Identifier: Apache-2.0

// Package tagging implements spec §4.8: auto-tagging backend-sourced tools
// that lack a [keywords: ...] tag, and computing family-local differential
// descriptions after ranking.
package tagging

import (
	"regexp"
	"sort"
	"strings"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

var nonAlpha = regexp.MustCompile(`[^a-zA-Z]+`)

// stopwords are dropped during keyword extraction.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "this": true, "that": true, "it": true, "its": true, "as": true,
	"by": true, "be": true, "can": true, "will": true, "from": true, "at": true,
	"your": true, "you": true, "into": true, "use": true, "used": true,
}

const maxAutoKeywords = 7

// Enrich appends a [keywords: ...] tag to description if it doesn't already
// carry one. Idempotent: calling it on an already-tagged description
// returns the description unchanged (spec §8).
func Enrich(description string) string {
	if gateway.HasKeywordsTag(description) {
		return description
	}
	keywords := extractKeywords(description)
	if len(keywords) == 0 {
		return description
	}
	return description + " [keywords: " + strings.Join(keywords, ", ") + "]"
}

// extractKeywords tokenizes on non-alphabetic boundaries, lowercases, drops
// stopwords and words shorter than 3 characters, and keeps up to 7 distinct
// tokens sorted by descending length (spec §4.8).
func extractKeywords(description string) []string {
	tokens := nonAlpha.Split(strings.ToLower(description), -1)

	seen := make(map[string]bool)
	var kept []string
	for _, tok := range tokens {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		kept = append(kept, tok)
	}

	sort.SliceStable(kept, func(i, j int) bool { return len(kept[i]) > len(kept[j]) })

	if len(kept) > maxAutoKeywords {
		kept = kept[:maxAutoKeywords]
	}
	return kept
}

// EnrichAll enriches every tool's description in place, returning a new
// slice (the input is not mutated).
func EnrichAll(tools []gateway.ToolDescriptor) []gateway.ToolDescriptor {
	out := make([]gateway.ToolDescriptor, len(tools))
	for i, t := range tools {
		t.Description = Enrich(t.Description)
		out[i] = t
	}
	return out
}
