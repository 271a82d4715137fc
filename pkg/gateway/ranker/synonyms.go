// SPDX-License-Identifier: Apache-2.0

package ranker

// synonyms is the closed mapping used to expand query words before matching
// (spec §4.7). Matches made via an expanded synonym are tagged and later
// discounted.
var synonyms = map[string][]string{
	"web":     {"search", "google", "brave"},
	"search":  {"find", "lookup", "query"},
	"file":    {"document", "fs", "disk"},
	"weather": {"forecast", "climate", "temperature"},
	"email":   {"mail", "smtp", "gmail"},
	"db":      {"database", "sql", "postgres", "mysql"},
	"image":   {"picture", "photo", "img"},
	"code":    {"source", "repo", "git"},
	"chat":    {"message", "conversation"},
	"calendar": {"schedule", "event", "meeting"},
}

// expand returns word plus every synonym registered for it.
func expand(word string) []string {
	out := []string{word}
	if syns, ok := synonyms[word]; ok {
		out = append(out, syns...)
	}
	return out
}
