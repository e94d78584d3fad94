package brokers

import (
	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
)

// Handler receives normalized events from a broker client. The registry
// implements it; broker clients never mutate account state themselves.
type Handler interface {
	OnQuote(broker, accountID string, quote base.Quote)
	OnPositionUpdate(broker, accountID string, position base.PositionUpdate)
	OnOrderUpdate(broker, accountID string, order base.OrderUpdate)
	OnAccountUpdate(broker, accountID string, account base.AccountUpdate)
	OnUserData(broker, accountID string, data base.UserData)
	OnServerError(broker, accountID string, serverErr base.ServerError)
	OnConnectionState(broker, accountID string, state connection.State, reason error)
}
