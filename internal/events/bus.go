package events

import (
	"sync"
	"time"
)

// Type identifies a domain event derived from raw protocol messages.
type Type string

const (
	TypeConnectionState   Type = "connectionState"
	TypeMarketData        Type = "marketData"
	TypeAccountUpdate     Type = "accountUpdate"
	TypePositionUpdate    Type = "positionUpdate"
	TypePositionOpened    Type = "positionOpened"
	TypePositionClosed    Type = "positionClosed"
	TypeOrderUpdate       Type = "orderUpdate"
	TypePositionsSnapshot Type = "positionsSnapshot"
	TypeUserDataSynced    Type = "userDataSynced"
)

var allTypes = []Type{
	TypeConnectionState,
	TypeMarketData,
	TypeAccountUpdate,
	TypePositionUpdate,
	TypePositionOpened,
	TypePositionClosed,
	TypeOrderUpdate,
	TypePositionsSnapshot,
	TypeUserDataSynced,
}

// Event is one domain event. Payload holds the event-specific struct
// (registry types for state events, connection status for lifecycle events).
type Event struct {
	Type      Type
	Broker    string
	AccountID string
	Payload   any
	Timestamp time.Time
}

// Bus manages event subscriptions and publishing. Publishing never blocks:
// a subscriber whose buffer is full misses the event, so UI consumers should
// size buffers generously and reconcile from the registry getters.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	closed      bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]chan Event)}
}

// Subscribe creates a subscription to events of a specific type.
func (b *Bus) Subscribe(eventType Type, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to every event type.
func (b *Bus) SubscribeAll(bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eventType := range allTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	}
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subscribers := b.subscribers[event.Type]
	b.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(eventType Type, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.subscribers[eventType]
	for i, subscriber := range subscribers {
		if subscriber == ch {
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			close(subscriber)
			break
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	for eventType, subscribers := range b.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(b.subscribers, eventType)
	}
}
