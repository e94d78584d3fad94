package registry

import (
	"context"
	"time"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
	"go.uber.org/zap"
)

// reconcileLoop periodically replaces each connected account's view with the
// backend's authoritative snapshot. WebSocket frames lost during reconnect
// windows are healed here, through the exact same apply functions the live
// path uses.
func (m *Manager) reconcileLoop(ctx context.Context) {
	defer close(m.reconcileDone)

	interval := m.cfg.WebSocket.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileAll(ctx)
		}
	}
}

func (m *Manager) reconcileAll(ctx context.Context) {
	m.mu.RLock()
	accounts := make([]*managedAccount, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, account)
	}
	m.mu.RUnlock()

	for _, account := range accounts {
		if account.client.State() != connection.StateConnected {
			continue
		}
		if err := m.reconcileAccount(ctx, account); err != nil {
			m.logger.Warn("reconciliation failed",
				zap.String("broker", account.broker),
				zap.String("account_id", account.accountID),
				zap.Error(err))
		}
	}
}

func (m *Manager) reconcileAccount(ctx context.Context, account *managedAccount) error {
	positions, err := account.api.GetPositions(ctx, account.broker, account.accountID)
	if err != nil {
		return err
	}
	orders, err := account.api.GetOrders(ctx, account.broker, account.accountID)
	if err != nil {
		return err
	}
	summary, err := account.api.GetAccount(ctx, account.broker, account.accountID)
	if err != nil {
		return err
	}

	account.state.applySnapshot(base.UserData{
		Accounts:  []base.AccountUpdate{*summary},
		Positions: positions,
		Orders:    orders,
	})
	return nil
}
