// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_AllowAllPermitsAnyTool(t *testing.T) {
	p := AllowAll("open")
	assert.NoError(t, p.Check("brave", "brave_search"))
	assert.NoError(t, p.Check("filesystem", "write_file"))
}

func TestProfile_AllowToolsExactPermitsListedTool(t *testing.T) {
	p := FromConfig("research", Config{AllowTools: []string{"brave_search"}})
	assert.NoError(t, p.Check("brave", "brave_search"))
}

func TestProfile_AllowToolsExactBlocksUnlistedTool(t *testing.T) {
	p := FromConfig("research", Config{AllowTools: []string{"brave_search"}})
	assert.Error(t, p.Check("brave", "brave_suggest"))
}

func TestProfile_AllowToolsGlobPrefix(t *testing.T) {
	p := FromConfig("t", Config{AllowTools: []string{"brave_*"}})
	assert.NoError(t, p.Check("b", "brave_search"))
	assert.NoError(t, p.Check("b", "brave_news"))
	assert.Error(t, p.Check("b", "gmail_send"))
}

func TestProfile_DenyToolsBlocksListedTool(t *testing.T) {
	p := FromConfig("t", Config{DenyTools: []string{"gmail_send"}})
	assert.Error(t, p.Check("gmail", "gmail_send"))
	assert.NoError(t, p.Check("brave", "brave_search"))
}

func TestProfile_DenyOverridesAllowOnOverlap(t *testing.T) {
	p := FromConfig("t", Config{AllowTools: []string{"brave_*"}, DenyTools: []string{"brave_news"}})
	assert.NoError(t, p.Check("b", "brave_search"))
	assert.Error(t, p.Check("b", "brave_news"))
}

func TestProfile_AllowBackendsBlocksUnlistedBackend(t *testing.T) {
	p := FromConfig("t", Config{AllowBackends: []string{"brave", "arxiv"}})
	assert.NoError(t, p.Check("brave", "brave_search"))
	assert.Error(t, p.Check("gmail", "gmail_send"))
}

func TestProfile_DenyBackendsGlobBlocksMatchingBackend(t *testing.T) {
	p := FromConfig("t", Config{DenyBackends: []string{"internal_*"}})
	assert.Error(t, p.Check("internal_db", "query"))
	assert.NoError(t, p.Check("brave", "brave_search"))
}

func TestProfile_ErrorMessageNamesProfileAndTarget(t *testing.T) {
	p := FromConfig("research", Config{AllowTools: []string{"brave_search"}})
	err := p.Check("brave", "gmail_send")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "research")
	assert.Contains(t, err.Error(), "gmail_send")
}

func TestProfile_BackendAllowedAndToolAllowedHelpers(t *testing.T) {
	p := FromConfig("t", Config{AllowBackends: []string{"brave"}, AllowTools: []string{"brave_*"}})
	assert.True(t, p.BackendAllowed("brave"))
	assert.False(t, p.BackendAllowed("gmail"))
	assert.True(t, p.ToolAllowed("brave_search"))
	assert.False(t, p.ToolAllowed("gmail_send"))
}

func TestCompilePattern_AllForms(t *testing.T) {
	assert.True(t, compilePattern("*").matches("anything"))
	assert.True(t, compilePattern("brave_*").matches("brave_search"))
	assert.False(t, compilePattern("brave_*").matches("exa_search"))
	assert.True(t, compilePattern("*_search").matches("brave_search"))
	assert.False(t, compilePattern("*_search").matches("brave_news"))
	assert.True(t, compilePattern("*search*").matches("advanced_search_engine"))
	assert.False(t, compilePattern("*search*").matches("brave_news"))
	assert.True(t, compilePattern("write_file").matches("write_file"))
	assert.False(t, compilePattern("write_file").matches("write_files"))
}

func TestPattern_RawRoundTrips(t *testing.T) {
	for _, s := range []string{"*", "brave_*", "*_search", "*search*", "exact"} {
		assert.Equal(t, s, compilePattern(s).raw())
	}
}

func TestRegistry_ReturnsAllowAllForUnknownProfile(t *testing.T) {
	r := NewRegistry(nil, "full")
	p := r.Get("nonexistent")
	assert.NoError(t, p.Check("anything", "any_tool"))
}

func TestRegistry_ReturnsConfiguredProfileByName(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"research": {AllowTools: []string{"brave_*"}},
	}, "research")
	p := r.Get("research")
	assert.NoError(t, p.Check("b", "brave_search"))
	assert.Error(t, p.Check("g", "gmail_send"))
}

func TestRegistry_ContainsAndDefaultName(t *testing.T) {
	r := NewRegistry(map[string]Config{"coding": {}}, "coding")
	assert.True(t, r.Contains("coding"))
	assert.False(t, r.Contains("research"))
	assert.Equal(t, "coding", r.DefaultName())
}

func TestRegistry_SummariesSortedByName(t *testing.T) {
	r := NewRegistry(map[string]Config{
		"research": {Description: "Research tasks"},
		"coding":   {Description: "Coding tasks"},
	}, "coding")
	summaries := r.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "coding", summaries[0]["name"])
	assert.Equal(t, "research", summaries[1]["name"])
}

func TestRegistry_EmptyConfigYieldsDefaultFullName(t *testing.T) {
	r := NewRegistry(nil, "")
	assert.Equal(t, "full", r.DefaultName())
}

func TestSessionStore_DefaultsUntilSet(t *testing.T) {
	s := NewSessionStore()
	assert.Equal(t, "research", s.GetProfileName("s1", "research"))
	s.SetProfile("s1", "coding")
	assert.Equal(t, "coding", s.GetProfileName("s1", "research"))
}

func TestSessionStore_RemoveRevertsToDefault(t *testing.T) {
	s := NewSessionStore()
	s.SetProfile("s1", "coding")
	s.RemoveSession("s1")
	assert.Equal(t, "research", s.GetProfileName("s1", "research"))
}

func TestSessionStore_IsolatesSessions(t *testing.T) {
	s := NewSessionStore()
	s.SetProfile("s1", "research")
	s.SetProfile("s2", "coding")
	assert.Equal(t, "research", s.GetProfileName("s1", "default"))
	assert.Equal(t, "coding", s.GetProfileName("s2", "default"))
}
