package performance

import (
	"sync"
	"time"
)

// Metrics collects per-connection message counters.
type Metrics interface {
	IncrementSent()
	IncrementReceived()
	IncrementProcessed(latency time.Duration)
	IncrementDropped()
	IncrementConnectionError()
	GetStats() map[string]interface{}
}

type metrics struct {
	mu sync.RWMutex

	messagesSent      int64
	messagesReceived  int64
	messagesProcessed int64
	messagesDropped   int64
	connectionErrors  int64
	lastMessageTime   time.Time
	processingLatency time.Duration
}

func NewMetrics() Metrics {
	return &metrics{}
}

func (m *metrics) IncrementSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
}

func (m *metrics) IncrementReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
	m.lastMessageTime = time.Now()
}

func (m *metrics) IncrementProcessed(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesProcessed++
	m.processingLatency = latency
}

func (m *metrics) IncrementDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesDropped++
}

func (m *metrics) IncrementConnectionError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionErrors++
}

func (m *metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"messages_sent":         m.messagesSent,
		"messages_received":     m.messagesReceived,
		"messages_processed":    m.messagesProcessed,
		"messages_dropped":      m.messagesDropped,
		"connection_errors":     m.connectionErrors,
		"last_message_time":     m.lastMessageTime,
		"processing_latency_ms": m.processingLatency.Milliseconds(),
	}
}
