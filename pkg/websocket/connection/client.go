package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/performance"
	"github.com/atomik-trading/broker-link/pkg/websocket/security"
)

// session binds the goroutines of one dial to their socket so loops from a
// previous session cannot act on a replacement connection.
type session struct {
	conn WebSocketConn
	done chan struct{}
}

type client struct {
	config    Config
	logger    *zap.Logger
	dialer    WebSocketDialer
	strategy  ReconnectionStrategy
	breaker   performance.CircuitBreaker
	metrics   performance.Metrics
	heartbeat *performance.HeartbeatMetrics
	limiter   security.RateLimiter
	validator security.MessageValidator

	mu        sync.RWMutex
	state     State
	sess      *session
	attempts  int
	reconnect bool
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu sync.Mutex
	queue   *sendQueue
	timer   reconnectTimer

	hbMu     sync.RWMutex
	lastSeen time.Time
	lastSent time.Time

	callbacks Callbacks
}

// NewClient builds a client around an already-resolved URL. The dialer may be
// nil, in which case a gorilla/websocket dialer is used.
func NewClient(config Config, logger *zap.Logger, dialer WebSocketDialer) Client {
	config.ApplyDefaults()
	if dialer == nil {
		dialer = NewGorillaDialer(config)
	}

	return &client{
		config: config,
		logger: logger,
		dialer: dialer,
		strategy: NewExponentialBackoffStrategy(
			config.InitialReconnectDelay,
			config.MaxReconnectDelay,
			config.BackoffFactor,
			config.MaxReconnectAttempts,
		),
		breaker:   performance.NewCircuitBreaker(config.BreakerThreshold, config.BreakerReset),
		metrics:   performance.NewMetrics(),
		heartbeat: performance.NewHeartbeatMetrics(),
		limiter:   security.NewRateLimiter(config.RateLimitCapacity, config.RateLimitRefill),
		validator: security.NewMessageValidator(security.ValidationConfig{
			MaxMessageSize: int(config.MaxMessageSize),
			AllowUnknown:   true,
		}),
		queue: newSendQueue(config.QueueCapacity),
		state: StateIdle,
	}
}

func (c *client) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.reconnect = true
	c.state = StateConnecting
	c.mu.Unlock()

	c.notifyStatus(StateConnecting, nil)

	if err := c.breaker.Execute(c.dial); err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.notifyStatus(StateDisconnected, err)
		return err
	}
	return nil
}

func (c *client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.reconnect = false
	c.state = StateClosed
	s := c.sess
	c.sess = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.timer.cancel()

	var err error
	if s != nil {
		close(s.done)
		err = s.conn.Close()
	}

	c.notifyStatus(StateClosed, nil)
	c.logger.Info("websocket disconnected", zap.String("url", c.config.URL))
	return err
}

// Send transmits immediately when connected, otherwise queues. A non-empty
// backlog is never overtaken: new sends join the queue behind it so flush
// order stays FIFO.
func (c *client) Send(data []byte) SendOutcome {
	c.mu.RLock()
	s := c.sess
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || s == nil {
		c.enqueue(data)
		return SendQueued
	}
	if c.queue.len() > 0 || !c.limiter.Allow() {
		c.enqueue(data)
		return SendQueued
	}

	if err := c.writeFrame(s, data); err != nil {
		c.logger.Warn("send failed, queueing message", zap.Error(err))
		c.enqueue(data)
		go c.handleConnectionLoss(s, err)
		return SendQueued
	}

	c.metrics.IncrementSent()
	return SendSent
}

func (c *client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *client) Heartbeat() performance.HeartbeatSnapshot {
	return c.heartbeat.Snapshot()
}

func (c *client) Stats() map[string]interface{} {
	c.mu.RLock()
	state := c.state
	attempts := c.attempts
	c.mu.RUnlock()

	stats := map[string]interface{}{
		"url":               c.config.URL,
		"state":             state.String(),
		"connected":         state == StateConnected,
		"reconnect_attempt": attempts,
		"queued_messages":   c.queue.len(),
		"dropped_messages":  c.queue.droppedCount(),
		"health_score":      c.heartbeat.HealthScore(),
		"breaker_state":     c.breaker.State().String(),
	}
	for k, v := range c.metrics.GetStats() {
		stats[k] = v
	}
	return stats
}

func (c *client) dial() error {
	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()
	if ctx == nil {
		return ErrClosed
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(connectCtx, c.config.URL, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || connectCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: no open within %v", ErrConnectionTimeout, c.config.ConnectTimeout)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadLimit(c.config.MaxMessageSize)

	s := &session{conn: conn, done: make(chan struct{})}

	c.mu.Lock()
	if !c.reconnect || c.state == StateClosed {
		// Disconnect raced with the dial.
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.sess = s
	c.mu.Unlock()

	c.touchHeartbeat()
	c.heartbeat.Reset()

	go c.readLoop(s)
	go c.heartbeatLoop(s)

	// The backlog drains before the connected state is published. Sends that
	// race with the flush still see a non-connected state and enqueue, so
	// nothing overtakes queued frames.
	c.flushQueue(s)

	c.mu.Lock()
	if c.sess != s {
		// The flush hit a write error and the loss handler already took over.
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	c.notifyStatus(StateConnected, nil)
	if cb := c.getCallbacks(); cb.OnConnect != nil {
		cb.OnConnect()
	}

	c.logger.Info("websocket connected", zap.String("url", c.config.URL))
	return nil
}

func (c *client) readLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			c.handleConnectionLoss(s, err)
			return
		}

		start := time.Now()
		c.metrics.IncrementReceived()
		c.touchHeartbeat()

		env, decodeErr := base.DecodeEnvelope(raw)
		if decodeErr != nil {
			// Malformed frames never take the connection down.
			c.metrics.IncrementDropped()
			c.logger.Warn("dropping malformed frame", zap.Error(decodeErr), zap.Int("bytes", len(raw)))
			continue
		}

		switch env.Kind {
		case base.KindHeartbeat:
			c.recordHeartbeatObserved()
			if err := c.writeFrame(s, base.HeartbeatResponseFrame()); err != nil {
				c.logger.Debug("heartbeat response failed", zap.Error(err))
			}
			continue
		case base.KindHeartbeatResponse:
			c.recordHeartbeatObserved()
			continue
		}

		if err := c.validator.Validate(raw, env); err != nil {
			c.metrics.IncrementDropped()
			c.logger.Warn("dropping invalid frame", zap.Error(err))
			continue
		}

		if cb := c.getCallbacks(); cb.OnMessage != nil {
			cb.OnMessage(env)
		}
		c.metrics.IncrementProcessed(time.Since(start))
	}
}

// heartbeatLoop sends a liveness frame every HeartbeatInterval and declares
// the connection dead when nothing was heard for twice that long, forcing a
// reconnect cycle instead of waiting for the transport to notice.
func (c *client) heartbeatLoop(s *session) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		c.hbMu.RLock()
		silent := time.Since(c.lastSeen)
		c.hbMu.RUnlock()

		if silent > 2*c.config.HeartbeatInterval {
			c.heartbeat.RecordMissed()
			c.logger.Warn("heartbeat timeout, forcing reconnect",
				zap.Duration("silent_for", silent),
				zap.Duration("interval", c.config.HeartbeatInterval))
			c.handleConnectionLoss(s, fmt.Errorf("heartbeat timeout after %v", silent))
			return
		}

		// Drain any backlog that accumulated from rate limiting before the
		// next heartbeat goes out.
		c.flushQueue(s)

		if err := c.writeFrame(s, base.HeartbeatFrame()); err != nil {
			c.logger.Debug("heartbeat send failed", zap.Error(err))
			c.handleConnectionLoss(s, err)
			return
		}

		c.heartbeat.RecordSent()
		c.hbMu.Lock()
		c.lastSent = time.Now()
		c.hbMu.Unlock()
	}
}

// handleConnectionLoss runs exactly once per session: whichever loop first
// observes the failure tears the session down and decides between reconnect,
// permanent stop, and terminal exhaustion.
func (c *client) handleConnectionLoss(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		// A newer session already replaced this one, or Disconnect ran.
		c.mu.Unlock()
		return
	}
	c.sess = nil
	close(s.done)
	s.conn.Close()
	c.metrics.IncrementConnectionError()

	if code := closeCode(cause); code != 0 && c.isPermanentCode(code) {
		c.state = StateClosed
		c.reconnect = false
		c.mu.Unlock()
		c.logger.Error("permanent close code, not retrying",
			zap.Int("code", code), zap.Error(cause))
		c.notifyStatus(StateClosed, fmt.Errorf("%w: close code %d", ErrAuthenticationFailed, code))
		return
	}

	if !c.reconnect {
		c.state = StateClosed
		c.mu.Unlock()
		return
	}

	c.state = StateDisconnected
	c.mu.Unlock()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info("websocket closed by server", zap.Error(cause))
	} else {
		c.logger.Warn("websocket connection lost", zap.Error(cause))
	}

	c.notifyStatus(StateDisconnected, cause)
	c.scheduleReconnect()
}

func (c *client) scheduleReconnect() {
	c.mu.Lock()
	if !c.reconnect || c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	c.attempts++
	if c.attempts > c.strategy.MaxAttempts() {
		c.state = StateClosed
		c.reconnect = false
		attempts := c.attempts - 1
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted, giving up", zap.Int("attempts", attempts))
		c.notifyStatus(StateClosed, fmt.Errorf("reconnect attempts exhausted after %d tries", attempts))
		return
	}

	attempt := c.attempts
	c.state = StateReconnecting
	c.mu.Unlock()

	c.heartbeat.RecordReconnection()
	delay := c.strategy.NextDelay(attempt)
	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	c.notifyStatus(StateReconnecting, nil)
	c.timer.schedule(delay, c.attemptReconnect)
}

func (c *client) attemptReconnect() {
	c.mu.RLock()
	ok := c.reconnect && c.state == StateReconnecting
	c.mu.RUnlock()
	if !ok {
		return
	}

	if err := c.breaker.Execute(c.dial); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		c.logger.Warn("reconnect attempt failed", zap.Error(err))
		c.scheduleReconnect()
	}
}

func (c *client) flushQueue(s *session) {
	entries := c.queue.drain()
	for i, data := range entries {
		if !c.limiter.Allow() {
			c.queue.requeueFront(entries[i:])
			return
		}
		if err := c.writeFrame(s, data); err != nil {
			c.queue.requeueFront(entries[i:])
			go c.handleConnectionLoss(s, err)
			return
		}
		c.metrics.IncrementSent()
	}
}

func (c *client) writeFrame(s *session, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) enqueue(data []byte) {
	if c.queue.push(data) {
		c.metrics.IncrementDropped()
		c.logger.Warn("outbound queue full, dropped oldest message")
	}
}

func (c *client) isPermanentCode(code int) bool {
	for _, p := range c.config.PermanentCloseCodes {
		if p == code {
			return true
		}
	}
	return false
}

func (c *client) touchHeartbeat() {
	c.hbMu.Lock()
	c.lastSeen = time.Now()
	c.hbMu.Unlock()
}

func (c *client) recordHeartbeatObserved() {
	c.hbMu.Lock()
	sent := c.lastSent
	c.lastSeen = time.Now()
	c.hbMu.Unlock()

	if !sent.IsZero() {
		c.heartbeat.RecordResponse(time.Since(sent))
	}
}

func (c *client) getCallbacks() Callbacks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callbacks
}

func (c *client) notifyStatus(state State, reason error) {
	if cb := c.getCallbacks(); cb.OnStatusChange != nil {
		cb.OnStatusChange(state, reason)
	}
}
