// SPDX-License-Identifier: Apache-2.0

// Package capability loads declarative YAML capability files (spec §4.1,
// §4.11: "let operators define REST endpoints as tools via declarative
// YAML") into transport.CapabilityDef values, one tool per file, ready for
// the registry to turn into backends. The request-building and response
// projection logic itself lives in pkg/gateway/transport, which this
// package does not duplicate.
package capability

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transport"
)

// yamlCapability mirrors the on-disk shape of one capability file.
type yamlCapability struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	BaseURL      string            `yaml:"base_url"`
	Path         string            `yaml:"path"`
	Method       string            `yaml:"method"`
	Headers      map[string]string `yaml:"headers"`
	StaticParams map[string]string `yaml:"static_params"`
	Body         map[string]any    `yaml:"body"`
	ResponsePath string            `yaml:"response_path"`
	InputSchema  map[string]any    `yaml:"input_schema"`
}

// Definition pairs a capability's transport definition with the tool
// description the registry advertises for it.
type Definition struct {
	Def         transport.CapabilityDef
	Description string
}

// LoadDir parses every *.yaml / *.yml file under dir into Definitions,
// keyed by capability (tool) name.
func LoadDir(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capability dir %s: %w", dir, err)
	}

	defs := make(map[string]Definition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs[def.Def.Name] = def
	}
	return defs, nil
}

// LoadFile parses a single capability definition file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read capability %s: %w", path, err)
	}

	var raw yamlCapability
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("parse capability %s: %w", path, err)
	}
	if raw.Name == "" {
		return Definition{}, fmt.Errorf("capability %s has no name", path)
	}
	if raw.BaseURL == "" || raw.Path == "" {
		return Definition{}, fmt.Errorf("capability %s: base_url and path are required", path)
	}

	return Definition{
		Description: raw.Description,
		Def: transport.CapabilityDef{
			Name:         raw.Name,
			BaseURL:      raw.BaseURL,
			PathTemplate: raw.Path,
			Method:       raw.Method,
			Headers:      raw.Headers,
			StaticParams: raw.StaticParams,
			BodyTemplate: raw.Body,
			ResponsePath: raw.ResponsePath,
			InputSchema:  raw.InputSchema,
		},
	}, nil
}
