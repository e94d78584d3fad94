package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	orders := bus.Subscribe(TypeOrderUpdate, 4)
	positions := bus.Subscribe(TypePositionUpdate, 4)

	bus.Publish(Event{Type: TypeOrderUpdate, Broker: "tradovate", AccountID: "A1"})

	select {
	case event := <-orders:
		assert.Equal(t, TypeOrderUpdate, event.Type)
		assert.Equal(t, "A1", event.AccountID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("order subscriber did not receive event")
	}

	select {
	case <-positions:
		t.Fatal("position subscriber received an order event")
	default:
	}
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(16)

	bus.Publish(Event{Type: TypePositionOpened})
	bus.Publish(Event{Type: TypeConnectionState})

	require.Equal(t, TypePositionOpened, (<-all).Type)
	require.Equal(t, TypeConnectionState, (<-all).Type)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe(TypeMarketData, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: TypeMarketData})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, slow, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TypeOrderUpdate, 1)
	bus.Unsubscribe(TypeOrderUpdate, ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: TypeOrderUpdate})
}
