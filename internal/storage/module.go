package storage

import (
	"fmt"

	"github.com/atomik-trading/broker-link/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the local state store
var Module = fx.Module("storage",
	fx.Provide(ProvideStore),
)

// ProvideStore creates the state store from config
func ProvideStore(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	logger.Info("Opening state store", zap.String("path", cfg.Database.Path))
	store, err := NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}
