// SPDX-License-Identifier: Apache-2.0

package failsafe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTracker_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	h := NewHealthTracker(2)

	h.RecordFailure()
	assert.False(t, h.Snapshot().Unhealthy)

	h.RecordFailure()
	assert.True(t, h.Snapshot().Unhealthy)

	h.RecordSuccess(time.Millisecond)
	assert.False(t, h.Snapshot().Unhealthy, "a success resets consecutive failures")
}

func TestHealthTracker_PercentilesOverSamples(t *testing.T) {
	h := NewHealthTracker(3)
	for i := 1; i <= 100; i++ {
		h.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	snap := h.Snapshot()
	assert.Equal(t, int64(100), snap.Successes)
	assert.True(t, snap.P50 < snap.P95)
	assert.True(t, snap.P95 <= snap.P99)
}
