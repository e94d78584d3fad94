package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthScoreBeforeAnySent(t *testing.T) {
	hm := NewHeartbeatMetrics()
	assert.Equal(t, 0.0, hm.HealthScore())
}

func TestHealthScoreFractionAnswered(t *testing.T) {
	hm := NewHeartbeatMetrics()

	for i := 0; i < 10; i++ {
		hm.RecordSent()
	}
	hm.RecordMissed()
	hm.RecordMissed()

	assert.InDelta(t, 0.8, hm.HealthScore(), 1e-9)
}

func TestHealthScoreClampedAtZero(t *testing.T) {
	hm := NewHeartbeatMetrics()

	hm.RecordSent()
	hm.RecordMissed()
	hm.RecordMissed()

	assert.Equal(t, 0.0, hm.HealthScore())
}

func TestLatencyEWMA(t *testing.T) {
	hm := NewHeartbeatMetrics()

	hm.RecordResponse(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, hm.Snapshot().AverageLatency)

	hm.RecordResponse(200 * time.Millisecond)
	// (100ms*4 + 200ms) / 5 = 120ms
	assert.Equal(t, 120*time.Millisecond, hm.Snapshot().AverageLatency)
}

func TestResetClearsMissedAndReconnections(t *testing.T) {
	hm := NewHeartbeatMetrics()

	hm.RecordSent()
	hm.RecordMissed()
	hm.RecordReconnection()
	hm.RecordResponse(50 * time.Millisecond)

	hm.Reset()

	snap := hm.Snapshot()
	assert.Equal(t, int64(0), snap.Missed)
	assert.Equal(t, int64(0), snap.Reconnections)
	// Sent count and latency history survive a reset.
	assert.Equal(t, int64(1), snap.Sent)
	assert.Equal(t, 50*time.Millisecond, snap.AverageLatency)
}
