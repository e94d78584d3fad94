package connection

import "sync"

// sendQueue buffers outbound messages while the socket is down. It is a
// bounded FIFO ring: when full, the oldest entry is dropped so a long outage
// cannot grow memory without bound.
type sendQueue struct {
	mu       sync.Mutex
	entries  [][]byte
	capacity int
	dropped  int64
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{capacity: capacity}
}

// push appends a message, evicting the oldest when at capacity. Returns true
// when an eviction happened.
func (q *sendQueue) push(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.dropped++
		evicted = true
	}
	q.entries = append(q.entries, data)
	return evicted
}

// drain removes and returns all queued messages in FIFO order.
func (q *sendQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	return out
}

// requeueFront puts messages back at the head, preserving their order ahead
// of anything queued since. Used when a flush fails partway through.
func (q *sendQueue) requeueFront(entries [][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(entries, q.entries...)
	if excess := len(q.entries) - q.capacity; excess > 0 {
		q.entries = q.entries[excess:]
		q.dropped += int64(excess)
	}
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *sendQueue) droppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
