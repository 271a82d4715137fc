// SPDX-License-Identifier: Apache-2.0

package tagging

import (
	"regexp"
	"strings"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

var snakeCaseFamilyPrefix = regexp.MustCompile(`^([a-z0-9]+(?:_[a-z0-9]+)*?)_[a-z0-9]+$`)

// Differentiated pairs a tool with the family-local differential
// description computed for it.
type Differentiated struct {
	Tool                    gateway.ToolDescriptor
	OriginalDescription     string
	DifferentialDescription string
}

// familyKey returns (server, prefix) for a tool name, where prefix is the
// snake_case prefix before the final "_segment", or the whole name if it
// has no underscore (spec §4.8: "same server, same snake_case prefix").
func familyKey(tool gateway.ToolDescriptor) (string, string) {
	m := snakeCaseFamilyPrefix.FindStringSubmatch(tool.Name)
	if m == nil {
		return tool.Server, tool.Name
	}
	return tool.Server, m[1]
}

// Differentiate groups tools by family (server + snake_case prefix) and, for
// every family with more than one member, strips the set of words shared
// across all members' descriptions from each member's differential view.
// Families of size 1 pass through with DifferentialDescription equal to the
// original.
func Differentiate(tools []gateway.ToolDescriptor) []Differentiated {
	type familyGroup struct {
		key   string
		tools []gateway.ToolDescriptor
	}

	families := make(map[string]*familyGroup)
	order := make([]string, 0)
	for _, t := range tools {
		server, prefix := familyKey(t)
		fk := server + "\x00" + prefix
		g, ok := families[fk]
		if !ok {
			g = &familyGroup{key: fk}
			families[fk] = g
			order = append(order, fk)
		}
		g.tools = append(g.tools, t)
	}

	out := make([]Differentiated, 0, len(tools))

	for _, fk := range order {
		g := families[fk]
		if len(g.tools) <= 1 {
			for _, t := range g.tools {
				out = append(out, Differentiated{Tool: t, OriginalDescription: t.Description, DifferentialDescription: t.Description})
			}
			continue
		}

		shared := sharedWords(g.tools)
		for _, t := range g.tools {
			diff := removeWords(t.Description, shared)
			out = append(out, Differentiated{Tool: t, OriginalDescription: t.Description, DifferentialDescription: diff})
		}
	}

	return out
}

// sharedWords returns the set of lowercase words present in every member's
// description.
func sharedWords(tools []gateway.ToolDescriptor) map[string]bool {
	if len(tools) == 0 {
		return nil
	}
	shared := wordSet(tools[0].Description)
	for _, t := range tools[1:] {
		this := wordSet(t.Description)
		for w := range shared {
			if !this[w] {
				delete(shared, w)
			}
		}
	}
	return shared
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// removeWords drops every word in shared from description, preserving the
// order and casing of the remaining words.
func removeWords(description string, shared map[string]bool) string {
	words := strings.Fields(description)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if shared[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
