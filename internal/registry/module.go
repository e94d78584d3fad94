package registry

import (
	"go.uber.org/fx"
)

// Module provides the connection manager
var Module = fx.Module("registry",
	fx.Provide(NewManager),
)
