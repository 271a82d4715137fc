// SPDX-License-Identifier: Apache-2.0

package ranker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageStore_IncrementAndCount(t *testing.T) {
	s := NewUsageStore()
	s.Increment("srv", "tool")
	s.Increment("srv", "tool")
	assert.Equal(t, int64(2), s.Count("srv", "tool"))
}

func TestUsageStore_SaveLoadRoundTrip(t *testing.T) {
	s := NewUsageStore()
	s.Increment("srv", "tool")
	s.Increment("srv", "tool")
	s.Increment("srv", "other")

	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, s.Save(path))

	loaded := NewUsageStore()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, int64(2), loaded.Count("srv", "tool"))
	assert.Equal(t, int64(1), loaded.Count("srv", "other"))
}

func TestUsageStore_LoadMissingFileIsNoop(t *testing.T) {
	s := NewUsageStore()
	err := s.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.NoError(t, err)
	assert.Equal(t, int64(0), s.Count("srv", "tool"))
}

func TestUsageStore_LoadTakesMaxOfOverlappingCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")

	onDisk := NewUsageStore()
	onDisk.Increment("srv", "tool")
	onDisk.Increment("srv", "tool")
	onDisk.Increment("srv", "tool")
	require.NoError(t, onDisk.Save(path))

	inMemory := NewUsageStore()
	inMemory.Increment("srv", "tool") // only 1, lower than the 3 on disk
	require.NoError(t, inMemory.Load(path))

	assert.Equal(t, int64(3), inMemory.Count("srv", "tool"))
}
