package brokers

import (
	"errors"
	"fmt"

	"github.com/atomik-trading/broker-link/internal/config"
)

// ErrNoEndpoint is returned when no WebSocket endpoint is configured for a
// broker/environment pair.
var ErrNoEndpoint = errors.New("no endpoint configured")

// ResolveEndpoint looks up the WebSocket endpoint for a broker in the given
// environment ("demo" or "live").
func ResolveEndpoint(cfg *config.Config, broker, environment string) (string, error) {
	url, ok := cfg.Brokers.Endpoint(broker, environment)
	if !ok {
		return "", fmt.Errorf("%w for %s/%s", ErrNoEndpoint, broker, environment)
	}
	return url, nil
}
