package connection

import (
	"context"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/performance"
)

// State is the connection lifecycle state machine:
//
//	idle -> connecting -> connected -> {disconnected, reconnecting} -> connected | closed
//
// closed is terminal and reachable only via explicit Disconnect, exhausting
// reconnect attempts, or a permanent close code.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendOutcome reports what happened to a Send call. Producers never see an
// error for the disconnected case; backpressure is invisible to them.
type SendOutcome int

const (
	SendSent SendOutcome = iota
	SendQueued
)

func (o SendOutcome) String() string {
	if o == SendSent {
		return "sent"
	}
	return "queued"
}

// Callbacks carries the hooks a broker client registers before Connect.
// OnConnect fires after every successful handshake (initial and reconnect),
// once queued sends have been flushed; subscription replay belongs there.
// OnMessage receives every non-heartbeat envelope in arrival order.
// OnStatusChange delivers lifecycle transitions; reason is non-nil for
// transitions caused by an error.
type Callbacks struct {
	OnConnect      func()
	OnMessage      func(env base.Envelope)
	OnStatusChange func(state State, reason error)
}

// Client manages one WebSocket session's full lifecycle: dialing, heartbeat
// liveness, reconnection with backoff, and outbound queueing while down.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(data []byte) SendOutcome
	State() State
	SetCallbacks(cb Callbacks)
	Heartbeat() performance.HeartbeatSnapshot
	Stats() map[string]interface{}
}
