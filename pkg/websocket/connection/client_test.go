package connection_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
)

type statusEntry struct {
	state  connection.State
	reason error
}

type statusRecorder struct {
	mu      sync.Mutex
	entries []statusEntry
}

func (r *statusRecorder) record(state connection.State, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, statusEntry{state: state, reason: reason})
}

func (r *statusRecorder) last() statusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return statusEntry{}
	}
	return r.entries[len(r.entries)-1]
}

func (r *statusRecorder) reasons() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, 0, len(r.entries))
	for _, e := range r.entries {
		if e.reason != nil {
			out = append(out, e.reason)
		}
	}
	return out
}

func frameOfKind(frame []byte, kind string) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return false
	}
	return envelope.Type == kind
}

var _ = Describe("Client", func() {
	var (
		dialer  *fakeDialer
		client  connection.Client
		status  *statusRecorder
		onMsgMu sync.Mutex
		msgs    []base.Envelope
		cfg     connection.Config
		ctx     context.Context
		cancel  context.CancelFunc
	)

	receivedMessages := func() []base.Envelope {
		onMsgMu.Lock()
		defer onMsgMu.Unlock()
		out := make([]base.Envelope, len(msgs))
		copy(out, msgs)
		return out
	}

	newClient := func() {
		client = connection.NewClient(cfg, zap.NewNop(), dialer)
		client.SetCallbacks(connection.Callbacks{
			OnMessage: func(env base.Envelope) {
				onMsgMu.Lock()
				msgs = append(msgs, env)
				onMsgMu.Unlock()
			},
			OnStatusChange: status.record,
		})
	}

	BeforeEach(func() {
		dialer = &fakeDialer{}
		status = &statusRecorder{}
		msgs = nil
		ctx, cancel = context.WithCancel(context.Background())

		cfg = connection.Config{
			URL:                   "wss://test.example.com/ws",
			ConnectTimeout:        time.Second,
			HeartbeatInterval:     time.Minute,
			InitialReconnectDelay: 10 * time.Millisecond,
			MaxReconnectDelay:     50 * time.Millisecond,
			BackoffFactor:         2.0,
			MaxReconnectAttempts:  3,
			QueueCapacity:         100,
			PermanentCloseCodes:   []int{4001, 4003},
			BreakerThreshold:      100,
		}
	})

	AfterEach(func() {
		if client != nil {
			_ = client.Disconnect()
		}
		cancel()
	})

	Describe("Connect", func() {
		It("transitions to Connected", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())
			Expect(client.State()).To(Equal(connection.StateConnected))
			Expect(dialer.dials()).To(Equal(1))
		})

		It("rejects a second Connect while connected", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())
			Expect(client.Connect(ctx)).To(MatchError(connection.ErrAlreadyConnected))
		})

		It("rejects Connect after Disconnect", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())
			Expect(client.Disconnect()).To(Succeed())
			Expect(client.Connect(ctx)).To(MatchError(connection.ErrClosed))
		})

		It("reports the dial error and stays Disconnected", func() {
			dialer.failNext = 1
			newClient()
			Expect(client.Connect(ctx)).To(HaveOccurred())
			Expect(client.State()).To(Equal(connection.StateDisconnected))
		})
	})

	Describe("inbound frames", func() {
		It("delivers decoded envelopes in arrival order", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			conn := dialer.conn(0)
			conn.deliver([]byte(`{"type":"order_update","id":"1"}`))
			conn.deliver([]byte(`{"type":"position_update","id":"2"}`))

			Eventually(receivedMessages).Should(HaveLen(2))
			received := receivedMessages()
			Expect(received[0].Kind).To(Equal(base.KindOrderUpdate))
			Expect(received[1].Kind).To(Equal(base.KindPositionUpdate))
		})

		It("answers server heartbeats without forwarding them", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			conn := dialer.conn(0)
			conn.deliver([]byte(`{"type":"heartbeat"}`))

			Eventually(func() bool {
				for _, frame := range conn.writtenFrames() {
					if frameOfKind(frame, "heartbeat_response") {
						return true
					}
				}
				return false
			}).Should(BeTrue())
			Consistently(receivedMessages, 50*time.Millisecond).Should(BeEmpty())
		})

		It("drops malformed frames and keeps the connection", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			conn := dialer.conn(0)
			conn.deliver([]byte(`{not json`))
			conn.deliver([]byte(`{"type":"order_update"}`))

			Eventually(receivedMessages).Should(HaveLen(1))
			Expect(client.State()).To(Equal(connection.StateConnected))
		})

		It("passes unknown type tags through for the caller to inspect", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.conn(0).deliver([]byte(`{"type":"something_new"}`))

			Eventually(receivedMessages).Should(HaveLen(1))
			Expect(receivedMessages()[0].Kind).To(Equal(base.KindUnknown))
			Expect(receivedMessages()[0].Tag).To(Equal("something_new"))
		})
	})

	Describe("Send", func() {
		It("writes immediately while connected", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			outcome := client.Send([]byte(`{"type":"subscribe"}`))
			Expect(outcome).To(Equal(connection.SendSent))
			Eventually(func() int { return len(dialer.conn(0).writtenFrames()) }).Should(BeNumerically(">=", 1))
		})

		It("queues while down and flushes in FIFO order on reconnect", func() {
			cfg.InitialReconnectDelay = 150 * time.Millisecond
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.conn(0).failRead(errors.New("network dropped"))
			Eventually(client.State).ShouldNot(Equal(connection.StateConnected))

			Expect(client.Send([]byte(`first`))).To(Equal(connection.SendQueued))
			Expect(client.Send([]byte(`second`))).To(Equal(connection.SendQueued))
			Expect(client.Send([]byte(`third`))).To(Equal(connection.SendQueued))

			Eventually(client.State, 2*time.Second).Should(Equal(connection.StateConnected))
			Eventually(func() int {
				if conn := dialer.conn(1); conn != nil {
					return len(conn.writtenFrames())
				}
				return 0
			}).Should(BeNumerically(">=", 3))

			frames := dialer.conn(1).writtenFrames()
			Expect(string(frames[0])).To(Equal("first"))
			Expect(string(frames[1])).To(Equal("second"))
			Expect(string(frames[2])).To(Equal("third"))
		})

		It("never lets a new send overtake a backlog still being flushed", func() {
			cfg.InitialReconnectDelay = 150 * time.Millisecond
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			// Slow writes keep the reconnect flush in progress long enough
			// for a racing send to arrive.
			dialer.setWriteDelay(20 * time.Millisecond)
			dialer.conn(0).failRead(errors.New("network dropped"))
			Eventually(client.State).ShouldNot(Equal(connection.StateConnected))

			Expect(client.Send([]byte(`first`))).To(Equal(connection.SendQueued))
			Expect(client.Send([]byte(`second`))).To(Equal(connection.SendQueued))
			Expect(client.Send([]byte(`third`))).To(Equal(connection.SendQueued))

			Eventually(client.State, 2*time.Second).Should(Equal(connection.StateConnected))
			client.Send([]byte(`fourth`))

			Eventually(func() int {
				if conn := dialer.conn(1); conn != nil {
					return len(conn.writtenFrames())
				}
				return 0
			}, 2*time.Second).Should(BeNumerically(">=", 4))

			frames := dialer.conn(1).writtenFrames()
			Expect(string(frames[0])).To(Equal("first"))
			Expect(string(frames[1])).To(Equal("second"))
			Expect(string(frames[2])).To(Equal("third"))
			Expect(string(frames[3])).To(Equal("fourth"))
		})
	})

	Describe("reconnection", func() {
		It("redials after a read failure and resets the attempt counter", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.conn(0).failRead(errors.New("network dropped"))

			// Wait for the redial itself first: the state check alone can
			// pass against the original session.
			Eventually(dialer.dials, 2*time.Second).Should(Equal(2))
			Eventually(client.State, 2*time.Second).Should(Equal(connection.StateConnected))
			Expect(client.Stats()["reconnect_attempt"]).To(Equal(0))
		})

		It("gives up after exhausting reconnect attempts", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.mu.Lock()
			dialer.failAll = true
			dialer.mu.Unlock()
			dialer.conn(0).failRead(errors.New("network dropped"))

			Eventually(client.State, 5*time.Second).Should(Equal(connection.StateClosed))
			Expect(dialer.dials()).To(Equal(1 + cfg.MaxReconnectAttempts))

			reasons := status.reasons()
			Expect(reasons).ToNot(BeEmpty())
			Expect(reasons[len(reasons)-1].Error()).To(ContainSubstring("exhausted"))
		})

		It("does not retry after a permanent close code", func() {
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.conn(0).failRead(&websocket.CloseError{Code: 4001, Text: "invalid token"})

			Eventually(client.State).Should(Equal(connection.StateClosed))
			Consistently(dialer.dials, 100*time.Millisecond).Should(Equal(1))

			Expect(status.last().state).To(Equal(connection.StateClosed))
			Expect(errors.Is(status.last().reason, connection.ErrAuthenticationFailed)).To(BeTrue())
		})

		It("forces a reconnect when the server goes silent", func() {
			cfg.HeartbeatInterval = 20 * time.Millisecond
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			// No inbound traffic at all: liveness declares the session dead
			// after twice the heartbeat interval.
			Eventually(dialer.dials, 2*time.Second).Should(BeNumerically(">=", 2))
		})
	})

	Describe("Disconnect", func() {
		It("cancels a pending reconnect", func() {
			cfg.InitialReconnectDelay = 100 * time.Millisecond
			newClient()
			Expect(client.Connect(ctx)).To(Succeed())

			dialer.conn(0).failRead(errors.New("network dropped"))
			Eventually(client.State).Should(Equal(connection.StateReconnecting))

			Expect(client.Disconnect()).To(Succeed())
			Consistently(dialer.dials, 300*time.Millisecond).Should(Equal(1))
			Expect(client.State()).To(Equal(connection.StateClosed))
		})
	})
})
