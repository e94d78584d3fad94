package registry

import (
	"sync"

	"github.com/atomik-trading/broker-link/internal/events"
	"github.com/atomik-trading/broker-link/pkg/websocket/base"
)

// accountState is the materialized view of one broker account. The WebSocket
// path and the reconciliation loop both mutate it through the same apply
// functions, so lifecycle events fire identically for either source.
//
// Positions with zero quantity are never stored; a zero-quantity update
// removes the entry and fires exactly one positionClosed.
type accountState struct {
	broker    string
	accountID string
	bus       *events.Bus

	mu        sync.RWMutex
	positions map[string]base.PositionUpdate
	orders    map[string]base.OrderUpdate
	account   *base.AccountUpdate
	quotes    map[string]base.Quote
}

func newAccountState(broker, accountID string, bus *events.Bus) *accountState {
	return &accountState{
		broker:    broker,
		accountID: accountID,
		bus:       bus,
		positions: make(map[string]base.PositionUpdate),
		orders:    make(map[string]base.OrderUpdate),
		quotes:    make(map[string]base.Quote),
	}
}

func (s *accountState) publish(eventType events.Type, payload any) {
	s.bus.Publish(events.Event{
		Type:      eventType,
		Broker:    s.broker,
		AccountID: s.accountID,
		Payload:   payload,
	})
}

func (s *accountState) applyQuote(quote base.Quote) {
	s.mu.Lock()
	s.quotes[quote.Symbol] = quote
	s.mu.Unlock()

	s.publish(events.TypeMarketData, quote)
}

// applyPosition updates one position. The transition of the stored quantity
// decides the lifecycle event: zero to nonzero opens, nonzero to zero closes.
// positionUpdate fires for every update regardless.
func (s *accountState) applyPosition(position base.PositionUpdate) {
	s.mu.Lock()
	previous, existed := s.positions[position.Symbol]
	if position.Quantity.IsZero() {
		delete(s.positions, position.Symbol)
	} else {
		s.positions[position.Symbol] = position
	}
	s.mu.Unlock()

	switch {
	case !existed && !position.Quantity.IsZero():
		s.publish(events.TypePositionOpened, position)
	case existed && position.Quantity.IsZero():
		s.publish(events.TypePositionClosed, previous)
	}
	s.publish(events.TypePositionUpdate, position)
}

func (s *accountState) applyOrder(order base.OrderUpdate) {
	s.mu.Lock()
	s.orders[order.OrderID] = order
	s.mu.Unlock()

	s.publish(events.TypeOrderUpdate, order)
}

func (s *accountState) applyAccount(account base.AccountUpdate) {
	s.mu.Lock()
	copied := account
	s.account = &copied
	s.mu.Unlock()

	s.publish(events.TypeAccountUpdate, account)
}

// applySnapshot reconciles the full account view against an authoritative
// snapshot. Positions absent from the snapshot are closed through
// applyPosition so consumers see the same events as for live updates.
// Terminal orders not present in the snapshot are pruned.
func (s *accountState) applySnapshot(data base.UserData) {
	s.mu.RLock()
	stale := make([]string, 0, len(s.positions))
	inSnapshot := make(map[string]bool, len(data.Positions))
	for _, position := range data.Positions {
		inSnapshot[position.Symbol] = true
	}
	for symbol := range s.positions {
		if !inSnapshot[symbol] {
			stale = append(stale, symbol)
		}
	}
	s.mu.RUnlock()

	for _, position := range data.Positions {
		s.applyPosition(position)
	}
	for _, symbol := range stale {
		s.applyPosition(base.PositionUpdate{Symbol: symbol})
	}

	for _, order := range data.Orders {
		s.applyOrder(order)
	}
	s.pruneTerminalOrders(data.Orders)

	for _, account := range data.Accounts {
		s.applyAccount(account)
	}

	s.publish(events.TypePositionsSnapshot, data.Positions)
	s.publish(events.TypeUserDataSynced, data)
}

func (s *accountState) pruneTerminalOrders(snapshot []base.OrderUpdate) {
	inSnapshot := make(map[string]bool, len(snapshot))
	for _, order := range snapshot {
		inSnapshot[order.OrderID] = true
	}

	s.mu.Lock()
	for id, order := range s.orders {
		if order.Status.Terminal() && !inSnapshot[id] {
			delete(s.orders, id)
		}
	}
	s.mu.Unlock()
}

// Positions returns a copy of the open positions.
func (s *accountState) Positions() []base.PositionUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]base.PositionUpdate, 0, len(s.positions))
	for _, position := range s.positions {
		out = append(out, position)
	}
	return out
}

// Orders returns a copy of the known orders.
func (s *accountState) Orders() []base.OrderUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]base.OrderUpdate, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, order)
	}
	return out
}

// Account returns the latest balance snapshot, or false before the first one.
func (s *accountState) Account() (base.AccountUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.account == nil {
		return base.AccountUpdate{}, false
	}
	return *s.account, true
}

// Quote returns the latest tick for a symbol.
func (s *accountState) Quote(symbol string) (base.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[symbol]
	return quote, ok
}
