// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAMLStringForm(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("30s"), &d))
	assert.Equal(t, 30*time.Second, d.AsDuration())
}

func TestDuration_UnmarshalYAMLIntegerNanoseconds(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("1000000000"), &d))
	assert.Equal(t, time.Second, d.AsDuration())
}

func TestDuration_UnmarshalYAMLRejectsInvalidString(t *testing.T) {
	var d Duration
	err := yaml.Unmarshal([]byte("not-a-duration"), &d)
	assert.Error(t, err)
}

func TestDuration_RoundTripsThroughYAML(t *testing.T) {
	type wrapper struct {
		D Duration `yaml:"d"`
	}
	w := wrapper{D: Duration(5 * time.Minute)}

	data, err := yaml.Marshal(w)
	require.NoError(t, err)

	var out wrapper
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, 5*time.Minute, out.D.AsDuration())
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)

	var out Duration
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, 90*time.Second, out.AsDuration())
}
