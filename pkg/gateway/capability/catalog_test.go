// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapability(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestLoadFile_ParsesCapabilityDefinition(t *testing.T) {
	dir := t.TempDir()
	writeCapability(t, dir, "weather.yaml", `
name: get_weather
description: Look up current weather.
base_url: https://api.example.com
path: /v1/weather/{city}
method: GET
static_params:
  units: metric
response_path: /current/temp
`)

	def, err := LoadFile(filepath.Join(dir, "weather.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "get_weather", def.Def.Name)
	assert.Equal(t, "Look up current weather.", def.Description)
	assert.Equal(t, "/v1/weather/{city}", def.Def.PathTemplate)
	assert.Equal(t, "metric", def.Def.StaticParams["units"])
	assert.Equal(t, "/current/temp", def.Def.ResponsePath)
}

func TestLoadFile_RequiresName(t *testing.T) {
	dir := t.TempDir()
	writeCapability(t, dir, "noname.yaml", `
base_url: https://api.example.com
path: /v1/x
`)
	_, err := LoadFile(filepath.Join(dir, "noname.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_RequiresBaseURLAndPath(t *testing.T) {
	dir := t.TempDir()
	writeCapability(t, dir, "nobase.yaml", `
name: x
path: /v1/x
`)
	_, err := LoadFile(filepath.Join(dir, "nobase.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDir_LoadsOnlyYAMLFilesKeyedByName(t *testing.T) {
	dir := t.TempDir()
	writeCapability(t, dir, "a.yaml", `
name: cap_a
base_url: https://api.example.com
path: /a
`)
	writeCapability(t, dir, "b.yml", `
name: cap_b
base_url: https://api.example.com
path: /b
`)
	writeCapability(t, dir, "ignore.txt", "not a capability")

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Contains(t, defs, "cap_a")
	assert.Contains(t, defs, "cap_b")
}

func TestLoadDir_PropagatesFileParseError(t *testing.T) {
	dir := t.TempDir()
	writeCapability(t, dir, "bad.yaml", `
base_url: https://api.example.com
path: /x
`)
	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestLoadDir_MissingDirErrors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
