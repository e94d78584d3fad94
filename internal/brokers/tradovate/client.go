package tradovate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/atomik-trading/broker-link/internal/brokers"
	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
	"github.com/atomik-trading/broker-link/pkg/websocket/performance"
	"github.com/atomik-trading/broker-link/pkg/websocket/security"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker is the identifier used in endpoints, storage and events.
const Broker = "tradovate"

// Tradovate closes with 4001 (invalid token) and 4003 (account access
// revoked). Both mean reconnecting would fail the same way.
var permanentCloseCodes = []int{4001, 4003}

// Options configure a single Tradovate account connection.
type Options struct {
	Endpoint  string
	AccountID string

	HeartbeatInterval     time.Duration
	ConnectTimeout        time.Duration
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	BackoffFactor         float64
	MaxReconnectAttempts  int
	QueueCapacity         int
}

// ClientFactory builds the underlying connection client; tests swap in a
// factory that returns a fake.
type ClientFactory func(cfg connection.Config, logger *zap.Logger) connection.Client

// Client speaks the Tradovate dialect over the shared connection layer. It
// owns the subscription set and replays it after every reconnect.
type Client struct {
	opts    Options
	auth    *security.AuthManager
	handler brokers.Handler
	logger  *zap.Logger
	factory ClientFactory

	mu            sync.Mutex
	conn          connection.Client
	subscriptions map[string]base.SubscribeRequest
}

func NewClient(opts Options, auth *security.AuthManager, handler brokers.Handler, logger *zap.Logger, factory ClientFactory) *Client {
	if factory == nil {
		factory = func(cfg connection.Config, logger *zap.Logger) connection.Client {
			return connection.NewClient(cfg, logger, nil)
		}
	}
	return &Client{
		opts:          opts,
		auth:          auth,
		handler:       handler,
		logger:        logger.With(zap.String("broker", Broker), zap.String("account_id", opts.AccountID)),
		factory:       factory,
		subscriptions: make(map[string]base.SubscribeRequest),
	}
}

// Connect authenticates and opens the WebSocket session. Without a valid
// token it fails fast instead of dialing a connection the server will reject.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("tradovate connect: %w", err)
	}

	wsURL, err := c.buildURL(token)
	if err != nil {
		return err
	}

	cfg := connection.Config{
		URL:                   wsURL,
		ConnectTimeout:        c.opts.ConnectTimeout,
		HeartbeatInterval:     c.opts.HeartbeatInterval,
		InitialReconnectDelay: c.opts.InitialReconnectDelay,
		MaxReconnectDelay:     c.opts.MaxReconnectDelay,
		BackoffFactor:         c.opts.BackoffFactor,
		MaxReconnectAttempts:  c.opts.MaxReconnectAttempts,
		QueueCapacity:         c.opts.QueueCapacity,
		PermanentCloseCodes:   permanentCloseCodes,
	}

	conn := c.factory(cfg, c.logger)
	conn.SetCallbacks(connection.Callbacks{
		OnConnect:      c.onConnect,
		OnMessage:      c.handleMessage,
		OnStatusChange: c.onStatusChange,
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return conn.Connect(ctx)
}

// Disconnect closes the session permanently.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// State reports the underlying connection state.
func (c *Client) State() connection.State {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return connection.StateIdle
	}
	return conn.State()
}

// Heartbeat exposes the connection's liveness metrics. The second return is
// false before the first Connect.
func (c *Client) Heartbeat() (performance.HeartbeatSnapshot, bool) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return performance.HeartbeatSnapshot{}, false
	}
	return conn.Heartbeat(), true
}

// Subscribe requests market data for a symbol. It fails while the session is
// not connected; an accepted subscription is recorded so it survives
// reconnects.
func (c *Client) Subscribe(symbol, subscriptionType string) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || conn.State() != connection.StateConnected {
		c.mu.Unlock()
		return connection.ErrNotConnected
	}
	req := base.SubscribeRequest{Symbol: symbol, SubscriptionType: subscriptionType}
	c.subscriptions[subscriptionKey(symbol, subscriptionType)] = req
	c.mu.Unlock()

	frame, err := base.Encode(base.KindSubscribe, uuid.New().String(), req)
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}

// Unsubscribe cancels a market data subscription. Like Subscribe it fails
// while the session is not connected.
func (c *Client) Unsubscribe(symbol, subscriptionType string) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || conn.State() != connection.StateConnected {
		c.mu.Unlock()
		return connection.ErrNotConnected
	}
	delete(c.subscriptions, subscriptionKey(symbol, subscriptionType))
	c.mu.Unlock()

	frame, err := base.Encode(base.KindUnsubscribe, uuid.New().String(), base.SubscribeRequest{
		Symbol:           symbol,
		SubscriptionType: subscriptionType,
	})
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}

func (c *Client) buildURL(token string) (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid tradovate endpoint %q: %w", c.opts.Endpoint, err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + c.opts.AccountID
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// onConnect runs after every successful handshake. The server forgets all
// subscriptions across reconnects, so the recorded set is replayed, and the
// account's user data feed is requested first so position and order state
// resyncs before ticks arrive.
func (c *Client) onConnect() {
	c.mu.Lock()
	conn := c.conn
	subs := make([]base.SubscribeRequest, 0, len(c.subscriptions))
	for _, req := range c.subscriptions {
		subs = append(subs, req)
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	userData, err := base.Encode(base.KindSubscribe, uuid.New().String(), base.SubscribeRequest{
		SubscriptionType: "user_data",
	})
	if err == nil {
		conn.Send(userData)
	}

	for _, req := range subs {
		frame, err := base.Encode(base.KindSubscribe, uuid.New().String(), req)
		if err != nil {
			c.logger.Error("failed to encode subscription replay", zap.Error(err))
			continue
		}
		conn.Send(frame)
	}

	if len(subs) > 0 {
		c.logger.Info("replayed subscriptions", zap.Int("count", len(subs)))
	}
}

func (c *Client) onStatusChange(state connection.State, reason error) {
	c.handler.OnConnectionState(Broker, c.opts.AccountID, state, reason)
}

// handleMessage dispatches one decoded envelope. Every Kind is handled
// explicitly; unknown tags are logged and dropped so a new server-side
// message type cannot be silently misrouted.
func (c *Client) handleMessage(env base.Envelope) {
	switch env.Kind {
	case base.KindMarketData:
		var quote base.Quote
		if err := json.Unmarshal(env.Data, &quote); err != nil {
			c.logger.Warn("bad market data payload", zap.Error(err))
			return
		}
		c.handler.OnQuote(Broker, c.opts.AccountID, quote)

	case base.KindPositionUpdate:
		var position base.PositionUpdate
		if err := json.Unmarshal(env.Data, &position); err != nil {
			c.logger.Warn("bad position payload", zap.Error(err))
			return
		}
		normalizePosition(&position)
		c.handler.OnPositionUpdate(Broker, c.opts.AccountID, position)

	case base.KindOrderUpdate:
		var order base.OrderUpdate
		if err := json.Unmarshal(env.Data, &order); err != nil {
			c.logger.Warn("bad order payload", zap.Error(err))
			return
		}
		order.Status = normalizeOrderStatus(string(order.Status))
		c.handler.OnOrderUpdate(Broker, c.opts.AccountID, order)

	case base.KindAccountUpdate:
		var account base.AccountUpdate
		if err := json.Unmarshal(env.Data, &account); err != nil {
			c.logger.Warn("bad account payload", zap.Error(err))
			return
		}
		if account.AccountID == "" {
			account.AccountID = c.opts.AccountID
		}
		c.handler.OnAccountUpdate(Broker, c.opts.AccountID, account)

	case base.KindUserData:
		var data base.UserData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.logger.Warn("bad user data payload", zap.Error(err))
			return
		}
		for i := range data.Positions {
			normalizePosition(&data.Positions[i])
		}
		for i := range data.Orders {
			data.Orders[i].Status = normalizeOrderStatus(string(data.Orders[i].Status))
		}
		c.handler.OnUserData(Broker, c.opts.AccountID, data)

	case base.KindError:
		var serverErr base.ServerError
		if err := json.Unmarshal(env.Data, &serverErr); err != nil {
			c.logger.Warn("bad error payload", zap.Error(err))
			return
		}
		c.logger.Warn("server error",
			zap.Int("code", serverErr.Code),
			zap.String("message", serverErr.Message))
		c.handler.OnServerError(Broker, c.opts.AccountID, serverErr)

	case base.KindSubscribe, base.KindUnsubscribe:
		// Acks for our own requests.
		c.logger.Debug("subscription ack", zap.String("id", env.ID))

	case base.KindHeartbeat, base.KindHeartbeatResponse:
		// Handled inside the connection layer; never forwarded here.

	case base.KindUnknown:
		c.logger.Debug("unknown message type", zap.String("tag", env.Tag))
	}
}

// normalizePosition derives Side from the signed quantity and makes the
// quantity absolute, matching what the registry expects.
func normalizePosition(p *base.PositionUpdate) {
	switch p.Quantity.Sign() {
	case 1:
		p.Side = "long"
	case -1:
		p.Side = "short"
		p.Quantity = p.Quantity.Neg()
	default:
		p.Side = ""
		p.Quantity = decimal.Zero
	}
}

// normalizeOrderStatus maps Tradovate's order states onto the shared set.
func normalizeOrderStatus(raw string) base.OrderStatus {
	switch strings.ToLower(raw) {
	case "working", "accepted", "pendingnew", "suspended":
		return base.OrderStatusWorking
	case "filled", "completed":
		return base.OrderStatusFilled
	case "cancelled", "canceled", "expired":
		return base.OrderStatusCancelled
	case "rejected":
		return base.OrderStatusRejected
	default:
		return base.OrderStatus(strings.ToLower(raw))
	}
}

func subscriptionKey(symbol, subscriptionType string) string {
	return symbol + ":" + subscriptionType
}
