package performance

import (
	"sync"
	"time"
)

// HeartbeatMetrics tracks liveness statistics for a single connection. It is
// owned 1:1 by that connection's heartbeat loop and never shared.
type HeartbeatMetrics struct {
	mu sync.RWMutex

	sent           int64
	missed         int64
	averageLatency time.Duration
	lastSuccessful time.Time
	lastFailure    time.Time
	reconnections  int64
}

func NewHeartbeatMetrics() *HeartbeatMetrics {
	return &HeartbeatMetrics{lastSuccessful: time.Now()}
}

// RecordSent counts an outbound heartbeat frame.
func (hm *HeartbeatMetrics) RecordSent() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.sent++
}

// RecordResponse counts a round trip and folds its latency into an EWMA.
func (hm *HeartbeatMetrics) RecordResponse(latency time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.lastSuccessful = time.Now()
	if hm.averageLatency == 0 {
		hm.averageLatency = latency
		return
	}
	// 80/20 exponential weighting keeps the average responsive without
	// letting a single slow round trip dominate.
	hm.averageLatency = (hm.averageLatency*4 + latency) / 5
}

// RecordMissed counts a heartbeat interval that elapsed with no response.
func (hm *HeartbeatMetrics) RecordMissed() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.missed++
	hm.lastFailure = time.Now()
}

// RecordReconnection counts one reconnect cycle triggered for this connection.
func (hm *HeartbeatMetrics) RecordReconnection() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.reconnections++
}

// HealthScore derives connection health in [0,1]: the fraction of sent
// heartbeats that were answered. Zero when nothing has been sent yet.
func (hm *HeartbeatMetrics) HealthScore() float64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if hm.sent == 0 {
		return 0
	}
	score := 1 - float64(hm.missed)/float64(hm.sent)
	if score < 0 {
		return 0
	}
	return score
}

// Reset clears the missed and reconnection counters. Called after a fully
// successful re-handshake.
func (hm *HeartbeatMetrics) Reset() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.missed = 0
	hm.reconnections = 0
}

// Snapshot returns a copy of the current values for status reporting.
func (hm *HeartbeatMetrics) Snapshot() HeartbeatSnapshot {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	return HeartbeatSnapshot{
		Sent:           hm.sent,
		Missed:         hm.missed,
		AverageLatency: hm.averageLatency,
		LastSuccessful: hm.lastSuccessful,
		LastFailure:    hm.lastFailure,
		Reconnections:  hm.reconnections,
	}
}

// HeartbeatSnapshot is a point-in-time copy of HeartbeatMetrics.
type HeartbeatSnapshot struct {
	Sent           int64
	Missed         int64
	AverageLatency time.Duration
	LastSuccessful time.Time
	LastFailure    time.Time
	Reconnections  int64
}
