// SPDX-License-Identifier: Apache-2.0

package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlStep mirrors the on-disk shape of one step entry.
type yamlStep struct {
	Name       string         `yaml:"name"`
	Server     string         `yaml:"server"`
	Tool       string         `yaml:"tool"`
	Args       map[string]any `yaml:"args"`
	Condition  string         `yaml:"condition"`
	OnError    string         `yaml:"on_error"`
	MaxRetries int            `yaml:"max_retries"`
}

// yamlOutputField mirrors one explicit output map entry.
type yamlOutputField struct {
	Path     string `yaml:"path"`
	Fallback any    `yaml:"fallback"`
}

// yamlPlaybook mirrors the on-disk shape of a whole playbook file.
//
// TimeoutMS is a pointer so the loader can tell "field absent" (use the
// default) apart from "field explicitly set to 0" (spec §8's immediate
// failure behavior).
type yamlPlaybook struct {
	Name      string                     `yaml:"name"`
	TimeoutMS *int                       `yaml:"timeout_ms"`
	Steps     []yamlStep                 `yaml:"steps"`
	Output    map[string]yamlOutputField `yaml:"output"`
}

// defaultTimeout applies when a playbook file omits timeout_ms entirely.
const defaultTimeout = 30 * time.Second

// LoadDir parses every *.yaml / *.yml file under dir into Definitions,
// keyed by playbook name.
func LoadDir(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read playbook dir %s: %w", dir, err)
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
		defs[def.Name] = def
	}
	return defs, nil
}

// LoadFile parses a single playbook file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read playbook %s: %w", path, err)
	}

	var raw yamlPlaybook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("parse playbook %s: %w", path, err)
	}
	if raw.Name == "" {
		return Definition{}, fmt.Errorf("playbook %s has no name", path)
	}

	timeout := defaultTimeout
	if raw.TimeoutMS != nil {
		timeout = time.Duration(*raw.TimeoutMS) * time.Millisecond
	}

	def := Definition{
		Name:    raw.Name,
		Timeout: timeout,
	}

	for _, s := range raw.Steps {
		step := Step{
			Name:       s.Name,
			Server:     s.Server,
			Tool:       s.Tool,
			Args:       s.Args,
			OnError:    ErrorStrategy(s.OnError),
			MaxRetries: s.MaxRetries,
		}
		if step.OnError == "" {
			step.OnError = StrategyAbort
		}
		if step.OnError != StrategyAbort && step.OnError != StrategyContinue && step.OnError != StrategyRetry {
			return Definition{}, fmt.Errorf("playbook %s step %s: invalid on_error %q", path, s.Name, s.OnError)
		}
		if s.Condition != "" {
			cond, err := ParseCondition(s.Condition)
			if err != nil {
				return Definition{}, fmt.Errorf("playbook %s step %s: %w", path, s.Name, err)
			}
			step.Condition = cond
		}
		def.Steps = append(def.Steps, step)
	}

	if raw.Output != nil {
		def.Output = make(map[string]OutputField, len(raw.Output))
		for field, of := range raw.Output {
			def.Output[field] = OutputField{Path: of.Path, Fallback: of.Fallback}
		}
	}

	return def, nil
}
