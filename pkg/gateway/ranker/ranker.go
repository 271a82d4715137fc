// SPDX-License-Identifier: Apache-2.0

// Package ranker implements the search/ranking engine of spec §4.7: match
// tools against a query by text relevance plus usage frequency, with
// persisted usage counts.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// Match is one ranked search result.
type Match struct {
	Tool                    gateway.ToolDescriptor
	Score                   float64
	SynonymExpanded         bool
	DifferentialDescription string
}

// DefaultLimit is the default result count cap (spec §4.7).
const DefaultLimit = 10

// matchWord returns true if target contains needle (both already
// lowercased by the caller).
func matchWord(target, needle string) bool {
	return strings.Contains(target, needle)
}

// evaluate scores one tool against the pre-lowercased query words. It
// returns the winning score tier and whether any word matched only via
// synonym expansion.
func evaluate(tool gateway.ToolDescriptor, queryWords []string, rawQuery string, parsed gateway.ParsedDescription) (score float64, synonymUsed bool) {
	name := strings.ToLower(tool.Name)
	desc := strings.ToLower(parsed.Body)

	type wordMatch struct {
		inName   bool
		inDesc   bool
		inKw     bool
		inSchema bool
		synonym  bool
	}

	matches := make([]wordMatch, len(queryWords))
	for i, word := range queryWords {
		candidates := expand(word)
		for ci, cand := range candidates {
			wm := &matches[i]
			isSynonym := ci > 0
			if matchWord(name, cand) {
				wm.inName = true
				wm.synonym = wm.synonym || isSynonym
			}
			if matchWord(desc, cand) {
				wm.inDesc = true
				wm.synonym = wm.synonym || isSynonym
			}
			for _, kw := range parsed.Keywords {
				if matchWord(kw, cand) {
					wm.inKw = true
				}
			}
			for _, sf := range parsed.Schema {
				if matchWord(sf, cand) {
					wm.inSchema = true
				}
			}
		}
	}

	allInName := true
	allInNameOrDesc := true
	nMatchedNameOrDesc := 0
	kwMatches := 0
	schemaMatches := 0
	partialMatches := 0
	anySynonym := false

	for _, wm := range matches {
		if !wm.inName {
			allInName = false
		}
		if wm.inName || wm.inDesc {
			nMatchedNameOrDesc++
		} else {
			allInNameOrDesc = false
		}
		if wm.inKw {
			kwMatches++
		}
		if wm.inSchema {
			schemaMatches++
		}
		if wm.inName || wm.inDesc || wm.inKw || wm.inSchema {
			partialMatches++
		}
		if wm.synonym {
			anySynonym = true
		}
	}

	n := len(queryWords)

	best := 0.0
	switch {
	case n > 0 && allInName:
		best = 15
	case n > 0 && allInNameOrDesc:
		best = 10 + 2*float64(n)
	case n == 1 && name == queryWords[0]:
		best = 10
	case n > 0 && kwMatches == n:
		best = 6 + 2*float64(n)
	case n > 0 && schemaMatches == n:
		best = 4 + 2*float64(n)
	case partialMatches > 0:
		best = 3 + 2*float64(partialMatches)
	}

	if n == 1 && schemaMatches >= 1 && best < 6 {
		best = 6
	}
	if strings.Contains(name, strings.ToLower(rawQuery)) && best < 5 {
		best = 5
	}
	if strings.Contains(desc, strings.ToLower(rawQuery)) && best < 2 {
		best = 2
	}

	return best, anySynonym
}

// Rank scores every tool in tools against query and returns the top
// `limit` matches (DefaultLimit if limit <= 0), discounting
// synonym-expanded matches by 0.8 and boosting by historical usage.
// includeSchema controls whether schema-field tokens participate in
// matching at all; when false, schema matches never contribute.
func Rank(query string, tools []gateway.ToolDescriptor, usage UsageLookup, limit int, includeSchema bool) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	queryWords := strings.Fields(strings.ToLower(query))

	matches := make([]Match, 0, len(tools))
	for _, tool := range tools {
		parsed := gateway.ParseDescription(tool.Description)
		if !includeSchema {
			parsed.Schema = nil
		}
		score, synonymUsed := evaluate(tool, queryWords, query, parsed)
		if score <= 0 {
			continue
		}
		if synonymUsed {
			score *= 0.8
		}
		count := usage.Count(tool.Server, tool.Name)
		score *= 1 + math.Log2(float64(count)+1)*0.15

		matches = append(matches, Match{Tool: tool, Score: score, SynonymExpanded: synonymUsed})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		li, lj := len(matches[i].Tool.Name)+len(matches[i].Tool.Description), len(matches[j].Tool.Name)+len(matches[j].Tool.Description)
		if li != lj {
			return li > lj
		}
		return matches[i].Tool.Name < matches[j].Tool.Name
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// UsageLookup resolves a usage count for usage-based score boosting.
type UsageLookup interface {
	Count(server, tool string) int64
}

// Suggest derives up to 5 keyword-based suggestions when a query has no
// matches, by prefix/substring overlap between the query words and the
// keyword tags of known tools (spec §4.7).
func Suggest(query string, tools []gateway.ToolDescriptor) []string {
	queryWords := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool)
	var out []string

	for _, tool := range tools {
		parsed := gateway.ParseDescription(tool.Description)
		for _, kw := range parsed.Keywords {
			if seen[kw] {
				continue
			}
			for _, qw := range queryWords {
				if qw == "" {
					continue
				}
				if strings.HasPrefix(kw, qw) || strings.Contains(kw, qw) || len(queryWords) == 0 {
					seen[kw] = true
					out = append(out, kw)
					break
				}
			}
			if len(out) >= 5 {
				return out
			}
		}
	}

	// Empty query: surface whatever keyword tags exist, up to 5, so that
	// "empty query returns ... a non-empty suggestions set iff any tools
	// are registered" (spec §8) holds even with no query words to overlap.
	if len(queryWords) == 0 {
		out = out[:0]
		for _, tool := range tools {
			parsed := gateway.ParseDescription(tool.Description)
			for _, kw := range parsed.Keywords {
				if seen[kw] {
					continue
				}
				seen[kw] = true
				out = append(out, kw)
				if len(out) >= 5 {
					return out
				}
			}
		}
	}
	return out
}
