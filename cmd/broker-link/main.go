package main

import (
	"github.com/atomik-trading/broker-link/internal/cli"
	"github.com/atomik-trading/broker-link/internal/config"
	"github.com/atomik-trading/broker-link/internal/events"
	"github.com/atomik-trading/broker-link/internal/infrastructure"
	"github.com/atomik-trading/broker-link/internal/registry"
	"github.com/atomik-trading/broker-link/internal/rest"
	"github.com/atomik-trading/broker-link/internal/storage"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		// Configuration
		fx.Provide(config.LoadConfig),

		// Infrastructure (logging, lifecycle)
		infrastructure.Module,

		// Event bus
		events.Module,

		// Local state store
		storage.Module,

		// Backend REST client
		rest.Module,

		// Connection manager
		registry.Module,

		// CLI commands
		cli.Module,
	).Run()
}
