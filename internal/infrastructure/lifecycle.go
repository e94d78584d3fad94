package infrastructure

import (
	"context"
	"time"

	"github.com/atomik-trading/broker-link/internal/events"
	"github.com/atomik-trading/broker-link/internal/registry"
	"github.com/atomik-trading/broker-link/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RegisterLifecycle sets up application startup and shutdown hooks
func RegisterLifecycle(
	lc fx.Lifecycle,
	manager *registry.Manager,
	store *storage.Store,
	bus *events.Bus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.Start(ctx)
			logger.Info("Connection manager started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down connection manager...")

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			manager.Shutdown(shutdownCtx)
			bus.Close()

			if err := store.Close(); err != nil {
				logger.Error("Failed to close state store", zap.Error(err))
			}

			logger.Info("Connection manager stopped")
			return nil
		},
	})
}
