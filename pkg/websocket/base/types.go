package base

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a market data tick for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid,omitempty"`
	Ask       decimal.Decimal `json:"ask,omitempty"`
	Volume    decimal.Decimal `json:"volume,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// PositionUpdate reports the current state of one position. Quantity is
// signed on the wire; Side is derived by the broker client.
type PositionUpdate struct {
	Symbol        string          `json:"symbol"`
	ContractID    string          `json:"contract_id,omitempty"`
	Side          string          `json:"side,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl,omitempty"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl,omitempty"`
	Timestamp     time.Time       `json:"timestamp,omitempty"`
}

// OrderStatus values are normalized by the broker client before they reach
// the registry.
type OrderStatus string

const (
	OrderStatusWorking   OrderStatus = "working"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the order can receive no further updates.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderUpdate reports the current state of one order.
type OrderUpdate struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	FilledQty    decimal.Decimal `json:"filled_quantity,omitempty"`
	RemainingQty decimal.Decimal `json:"remaining_quantity,omitempty"`
	FillPrice    decimal.Decimal `json:"fill_price,omitempty"`
	Status       OrderStatus     `json:"status"`
	Timestamp    time.Time       `json:"timestamp,omitempty"`
}

// AccountUpdate reports balances for one account.
type AccountUpdate struct {
	AccountID       string          `json:"account_id"`
	Balance         decimal.Decimal `json:"balance"`
	MarginUsed      decimal.Decimal `json:"margin_used,omitempty"`
	AvailableMargin decimal.Decimal `json:"available_margin,omitempty"`
	Timestamp       time.Time       `json:"timestamp,omitempty"`
}

// UserData is the full per-account snapshot sent after connect or on demand.
// Consumers treat it as a refresh, not a delta.
type UserData struct {
	Accounts  []AccountUpdate  `json:"accounts,omitempty"`
	Positions []PositionUpdate `json:"positions,omitempty"`
	Orders    []OrderUpdate    `json:"orders,omitempty"`
}

// SubscribeRequest is the payload of subscribe/unsubscribe frames.
type SubscribeRequest struct {
	Symbol           string `json:"symbol,omitempty"`
	SubscriptionType string `json:"subscription_type,omitempty"`
	Channel          string `json:"channel,omitempty"`
}

// ServerError is the payload of error frames.
type ServerError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}
