package events

import (
	"go.uber.org/fx"
)

// Module provides the event bus
var Module = fx.Module("events",
	fx.Provide(NewBus),
)
