package rest

import (
	"github.com/atomik-trading/broker-link/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the backend REST client
var Module = fx.Module("rest",
	fx.Provide(ProvideClient),
)

// ProvideClient creates the REST client from config
func ProvideClient(cfg *config.Config, logger *zap.Logger) *Client {
	return NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger)
}
