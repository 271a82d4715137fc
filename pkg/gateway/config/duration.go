// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be written in config files as a
// human string ("30s", "5m") instead of a raw nanosecond integer, for both
// YAML and JSON.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("30s") or a plain integer
// number of nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	// The integer form is tried first: yaml.v3 also decodes a bare integer
	// scalar into a string, which would then fail time.ParseDuration.
	var n int64
	if err := unmarshal(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its human string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON mirrors UnmarshalYAML for the JSON encoding used by viper's
// env/flag overlay and by any JSON-based tooling.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration in its human string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}
