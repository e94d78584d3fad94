package security

import (
	"fmt"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
)

// ValidationConfig bounds inbound frames before they reach dispatch.
type ValidationConfig struct {
	MaxMessageSize int
	AllowedKinds   map[base.Kind]bool
	AllowUnknown   bool
}

// MessageValidator rejects oversized frames and, optionally, unknown kinds.
type MessageValidator interface {
	Validate(raw []byte, env base.Envelope) error
}

type messageValidator struct {
	config ValidationConfig
}

func NewMessageValidator(config ValidationConfig) MessageValidator {
	return &messageValidator{config: config}
}

func (mv *messageValidator) Validate(raw []byte, env base.Envelope) error {
	if mv.config.MaxMessageSize > 0 && len(raw) > mv.config.MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(raw), mv.config.MaxMessageSize)
	}

	if env.Kind == base.KindUnknown {
		if mv.config.AllowUnknown {
			return nil
		}
		return fmt.Errorf("unknown message type: %q", env.Tag)
	}

	if len(mv.config.AllowedKinds) > 0 && !mv.config.AllowedKinds[env.Kind] {
		return fmt.Errorf("message kind not allowed: %s", env.Kind)
	}

	return nil
}
