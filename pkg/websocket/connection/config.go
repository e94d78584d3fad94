package connection

import (
	"fmt"
	"time"
)

// Config holds everything a single WebSocket session needs. The URL is
// already resolved; broker clients build it before constructing the client.
type Config struct {
	URL string `json:"url" validate:"required,url"`

	// Connection settings
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`

	// Buffer settings
	ReadBufferSize  int   `json:"read_buffer_size"`
	WriteBufferSize int   `json:"write_buffer_size"`
	MaxMessageSize  int64 `json:"max_message_size"`

	// Heartbeat: a frame is sent every HeartbeatInterval; the connection is
	// declared dead when nothing was heard for twice that long.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// Reconnection settings
	InitialReconnectDelay time.Duration `json:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `json:"max_reconnect_delay"`
	BackoffFactor         float64       `json:"backoff_factor"`
	MaxReconnectAttempts  int           `json:"max_reconnect_attempts"`

	// Close codes that terminate the session permanently instead of
	// triggering the reconnect policy.
	PermanentCloseCodes []int `json:"permanent_close_codes"`

	// Outbound queue used while disconnected. Bounded; the oldest entry is
	// dropped when full.
	QueueCapacity int `json:"queue_capacity"`

	// Rate limiting of outbound sends.
	RateLimitCapacity int           `json:"rate_limit_capacity"`
	RateLimitRefill   time.Duration `json:"rate_limit_refill"`

	// Circuit breaker over consecutive dial failures.
	BreakerThreshold int           `json:"breaker_threshold"`
	BreakerReset     time.Duration `json:"breaker_reset"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        10 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ReadBufferSize:        4096,
		WriteBufferSize:       4096,
		MaxMessageSize:        1024 * 1024, // 1MB
		HeartbeatInterval:     15 * time.Second,
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     30 * time.Second,
		BackoffFactor:         2.0,
		MaxReconnectAttempts:  5,
		QueueCapacity:         1000,
		RateLimitCapacity:     1000,
		RateLimitRefill:       time.Second,
		BreakerThreshold:      5,
		BreakerReset:          60 * time.Second,
	}
}

// ApplyDefaults fills in missing values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.InitialReconnectDelay == 0 {
		c.InitialReconnectDelay = defaults.InitialReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaults.QueueCapacity
	}
	if c.RateLimitCapacity == 0 {
		c.RateLimitCapacity = defaults.RateLimitCapacity
	}
	if c.RateLimitRefill == 0 {
		c.RateLimitRefill = defaults.RateLimitRefill
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = defaults.BreakerThreshold
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = defaults.BreakerReset
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	if c.InitialReconnectDelay <= 0 || c.MaxReconnectDelay < c.InitialReconnectDelay {
		return fmt.Errorf("reconnect delays must be positive and max >= initial")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	return nil
}
