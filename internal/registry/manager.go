package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atomik-trading/broker-link/internal/brokers"
	"github.com/atomik-trading/broker-link/internal/brokers/tradovate"
	"github.com/atomik-trading/broker-link/internal/config"
	"github.com/atomik-trading/broker-link/internal/events"
	"github.com/atomik-trading/broker-link/internal/rest"
	"github.com/atomik-trading/broker-link/internal/storage"
	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
	"github.com/atomik-trading/broker-link/pkg/websocket/security"
	"go.uber.org/zap"
)

// ErrUnsupportedBroker is returned for broker ids the registry cannot build
// a client for.
var ErrUnsupportedBroker = errors.New("unsupported broker")

// brokerClient is what the manager needs from any broker's client.
type brokerClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() connection.State
	Subscribe(symbol, subscriptionType string) error
	Unsubscribe(symbol, subscriptionType string) error
}

type managedAccount struct {
	broker      string
	accountID   string
	environment string
	client      brokerClient
	state       *accountState
	api         *rest.Client
}

// Manager owns every broker connection and the per-account state behind the
// getters. It is built by the DI container and torn down through lifecycle
// hooks; nothing in the package is a process-wide singleton.
type Manager struct {
	cfg    *config.Config
	store  *storage.Store
	api    *rest.Client
	bus    *events.Bus
	logger *zap.Logger

	// factory is swapped by tests to inject fake connections.
	factory tradovate.ClientFactory

	mu       sync.RWMutex
	accounts map[string]*managedAccount

	reconcileCancel context.CancelFunc
	reconcileDone   chan struct{}
}

func NewManager(cfg *config.Config, store *storage.Store, api *rest.Client, bus *events.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		api:      api,
		bus:      bus,
		logger:   logger,
		accounts: make(map[string]*managedAccount),
	}
}

func accountKey(broker, accountID string) string {
	return broker + ":" + accountID
}

// EnsureConnection connects a broker account, or returns the existing entry's
// outcome when one is already registered. Repeat calls for the same account
// never open a second socket.
func (m *Manager) EnsureConnection(ctx context.Context, broker, accountID, environment string) error {
	key := accountKey(broker, accountID)

	m.mu.Lock()
	if _, exists := m.accounts[key]; exists {
		m.mu.Unlock()
		return nil
	}

	account, err := m.buildAccount(broker, accountID, environment)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.accounts[key] = account
	m.mu.Unlock()

	if err := account.client.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.accounts, key)
		m.mu.Unlock()
		return fmt.Errorf("failed to connect %s/%s: %w", broker, accountID, err)
	}

	m.logger.Info("broker connection established",
		zap.String("broker", broker),
		zap.String("account_id", accountID),
		zap.String("environment", environment))
	return nil
}

func (m *Manager) buildAccount(broker, accountID, environment string) (*managedAccount, error) {
	if broker != tradovate.Broker {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBroker, broker)
	}

	endpoint, err := brokers.ResolveEndpoint(m.cfg, broker, environment)
	if err != nil {
		return nil, err
	}

	auth := security.NewAuthManager(m.store.Tokens(broker, accountID), m.api, m.logger)
	state := newAccountState(broker, accountID, m.bus)

	ws := m.cfg.WebSocket
	client := tradovate.NewClient(tradovate.Options{
		Endpoint:              endpoint,
		AccountID:             accountID,
		HeartbeatInterval:     m.cfg.Brokers.HeartbeatInterval(broker, ws.HeartbeatInterval),
		ConnectTimeout:        ws.ConnectTimeout,
		InitialReconnectDelay: ws.InitialReconnectDelay,
		MaxReconnectDelay:     ws.MaxReconnectDelay,
		BackoffFactor:         ws.BackoffFactor,
		MaxReconnectAttempts:  ws.MaxReconnectAttempts,
		QueueCapacity:         ws.QueueCapacity,
	}, auth, m, m.logger, m.factory)

	return &managedAccount{
		broker:      broker,
		accountID:   accountID,
		environment: environment,
		client:      client,
		state:       state,
		api:         m.api.WithAuth(auth),
	}, nil
}

func (m *Manager) account(broker, accountID string) (*managedAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[accountKey(broker, accountID)]
	return account, ok
}

// Subscribe requests market data for a symbol on a connected account.
func (m *Manager) Subscribe(broker, accountID, symbol, subscriptionType string) error {
	account, ok := m.account(broker, accountID)
	if !ok {
		return connection.ErrNotConnected
	}
	return account.client.Subscribe(symbol, subscriptionType)
}

// Unsubscribe cancels a market data subscription.
func (m *Manager) Unsubscribe(broker, accountID, symbol, subscriptionType string) error {
	account, ok := m.account(broker, accountID)
	if !ok {
		return connection.ErrNotConnected
	}
	return account.client.Unsubscribe(symbol, subscriptionType)
}

// GetPositions returns a copy of the account's open positions. Unknown
// accounts yield an empty slice, not an error.
func (m *Manager) GetPositions(broker, accountID string) []base.PositionUpdate {
	account, ok := m.account(broker, accountID)
	if !ok {
		return []base.PositionUpdate{}
	}
	return account.state.Positions()
}

// GetOrders returns a copy of the account's known orders.
func (m *Manager) GetOrders(broker, accountID string) []base.OrderUpdate {
	account, ok := m.account(broker, accountID)
	if !ok {
		return []base.OrderUpdate{}
	}
	return account.state.Orders()
}

// GetAccount returns the latest balance snapshot for an account.
func (m *Manager) GetAccount(broker, accountID string) (base.AccountUpdate, bool) {
	account, ok := m.account(broker, accountID)
	if !ok {
		return base.AccountUpdate{}, false
	}
	return account.state.Account()
}

// GetQuote returns the latest tick seen for a symbol on an account's feed.
func (m *Manager) GetQuote(broker, accountID, symbol string) (base.Quote, bool) {
	account, ok := m.account(broker, accountID)
	if !ok {
		return base.Quote{}, false
	}
	return account.state.Quote(symbol)
}

// ConnectionState reports the lifecycle state of an account's connection.
func (m *Manager) ConnectionState(broker, accountID string) connection.State {
	account, ok := m.account(broker, accountID)
	if !ok {
		return connection.StateIdle
	}
	return account.client.State()
}

// RemoveAccount disconnects an account and discards its state.
func (m *Manager) RemoveAccount(broker, accountID string) error {
	key := accountKey(broker, accountID)

	m.mu.Lock()
	account, ok := m.accounts[key]
	delete(m.accounts, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := account.client.Disconnect(); err != nil {
		m.logger.Warn("error disconnecting account",
			zap.String("broker", broker),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
	m.logger.Info("account removed",
		zap.String("broker", broker),
		zap.String("account_id", accountID))
	return nil
}

// Start launches the background reconciliation loop.
func (m *Manager) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.reconcileCancel = cancel
	m.reconcileDone = make(chan struct{})
	go m.reconcileLoop(loopCtx)
}

// Shutdown stops reconciliation and disconnects every account.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.reconcileCancel != nil {
		m.reconcileCancel()
		select {
		case <-m.reconcileDone:
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	accounts := make([]*managedAccount, 0, len(m.accounts))
	for key, account := range m.accounts {
		accounts = append(accounts, account)
		delete(m.accounts, key)
	}
	m.mu.Unlock()

	for _, account := range accounts {
		if err := account.client.Disconnect(); err != nil {
			m.logger.Warn("error disconnecting account during shutdown",
				zap.String("broker", account.broker),
				zap.String("account_id", account.accountID),
				zap.Error(err))
		}
	}
	m.logger.Info("all broker connections closed", zap.Int("count", len(accounts)))
}

// Handler implementation: broker clients push normalized events here and the
// shared apply functions fan them out.

func (m *Manager) OnQuote(broker, accountID string, quote base.Quote) {
	if account, ok := m.account(broker, accountID); ok {
		account.state.applyQuote(quote)
	}
}

func (m *Manager) OnPositionUpdate(broker, accountID string, position base.PositionUpdate) {
	if account, ok := m.account(broker, accountID); ok {
		account.state.applyPosition(position)
	}
}

func (m *Manager) OnOrderUpdate(broker, accountID string, order base.OrderUpdate) {
	if account, ok := m.account(broker, accountID); ok {
		account.state.applyOrder(order)
	}
}

func (m *Manager) OnAccountUpdate(broker, accountID string, account base.AccountUpdate) {
	if entry, ok := m.account(broker, accountID); ok {
		entry.state.applyAccount(account)
	}
}

func (m *Manager) OnUserData(broker, accountID string, data base.UserData) {
	if account, ok := m.account(broker, accountID); ok {
		account.state.applySnapshot(data)
	}
}

func (m *Manager) OnServerError(broker, accountID string, serverErr base.ServerError) {
	m.logger.Warn("broker reported error",
		zap.String("broker", broker),
		zap.String("account_id", accountID),
		zap.Int("code", serverErr.Code),
		zap.String("message", serverErr.Message))
}

func (m *Manager) OnConnectionState(broker, accountID string, state connection.State, reason error) {
	m.bus.Publish(events.Event{
		Type:      events.TypeConnectionState,
		Broker:    broker,
		AccountID: accountID,
		Payload:   ConnectionStatus{State: state, Reason: reason},
	})
}

// ConnectionStatus is the payload of connectionState events.
type ConnectionStatus struct {
	State  connection.State
	Reason error
}
