// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"regexp"
	"strings"
)

var (
	keywordsTagPattern = regexp.MustCompile(`\[keywords:\s*([^\]]*)\]`)
	schemaTagPattern   = regexp.MustCompile(`\[schema:\s*([^\]]*)\]`)
)

// ParsedDescription splits a tool description into its free-text body and
// the optional [keywords: ...] / [schema: ...] tags appended to aid search
// (spec §3).
type ParsedDescription struct {
	Body     string
	Keywords []string
	Schema   []string
}

// ParseDescription extracts the keyword/schema tags from description,
// returning the remaining text separately. Tags are comma-separated lists
// inside the bracket.
func ParseDescription(description string) ParsedDescription {
	p := ParsedDescription{Body: description}

	if m := keywordsTagPattern.FindStringSubmatch(description); m != nil {
		p.Keywords = splitTagList(m[1])
		p.Body = keywordsTagPattern.ReplaceAllString(p.Body, "")
	}
	if m := schemaTagPattern.FindStringSubmatch(description); m != nil {
		p.Schema = splitTagList(m[1])
		p.Body = schemaTagPattern.ReplaceAllString(p.Body, "")
	}
	p.Body = strings.TrimSpace(p.Body)
	return p
}

// HasKeywordsTag reports whether description already carries a
// [keywords: ...] tag, used to make enrichment idempotent (spec §4.8).
func HasKeywordsTag(description string) bool {
	return keywordsTagPattern.MatchString(description)
}

func splitTagList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
