package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Brokers   BrokersConfig   `mapstructure:"brokers"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig configures the REST backend client.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BrokersConfig maps broker id -> environment -> WebSocket endpoint.
type BrokersConfig struct {
	Endpoints map[string]map[string]string `mapstructure:"endpoints"`

	// HeartbeatIntervals overrides the generic heartbeat cadence per broker
	// (Tradovate expects 2.5s; most brokers are fine with the default).
	HeartbeatIntervals map[string]time.Duration `mapstructure:"heartbeat_intervals"`
}

// Endpoint returns the WebSocket endpoint for a broker/environment pair.
func (bc BrokersConfig) Endpoint(broker, environment string) (string, bool) {
	envs, ok := bc.Endpoints[broker]
	if !ok {
		return "", false
	}
	url, ok := envs[environment]
	return url, ok
}

// HeartbeatInterval returns the broker's heartbeat cadence, falling back to
// the generic default.
func (bc BrokersConfig) HeartbeatInterval(broker string, fallback time.Duration) time.Duration {
	if d, ok := bc.HeartbeatIntervals[broker]; ok && d > 0 {
		return d
	}
	return fallback
}

// WebSocketConfig carries connection-level settings shared by all brokers.
type WebSocketConfig struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	InitialReconnectDelay time.Duration `mapstructure:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `mapstructure:"max_reconnect_delay"`
	BackoffFactor         float64       `mapstructure:"backoff_factor"`
	MaxReconnectAttempts  int           `mapstructure:"max_reconnect_attempts"`
	QueueCapacity         int           `mapstructure:"queue_capacity"`
	ReconcileInterval     time.Duration `mapstructure:"reconcile_interval"`
}

// DatabaseConfig locates the local state store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BROKER_LINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "https://api.atomiktrading.io")
	v.SetDefault("api.request_timeout", 15*time.Second)

	// Broker endpoint defaults
	v.SetDefault("brokers.endpoints.tradovate.demo", "wss://ws.atomiktrading.io/ws/tradovate")
	v.SetDefault("brokers.endpoints.tradovate.live", "wss://ws-live.atomiktrading.io/ws/tradovate")
	v.SetDefault("brokers.heartbeat_intervals.tradovate", 2500*time.Millisecond)

	// WebSocket defaults
	v.SetDefault("websocket.connect_timeout", 10*time.Second)
	v.SetDefault("websocket.heartbeat_interval", 15*time.Second)
	v.SetDefault("websocket.initial_reconnect_delay", time.Second)
	v.SetDefault("websocket.max_reconnect_delay", 30*time.Second)
	v.SetDefault("websocket.backoff_factor", 2.0)
	v.SetDefault("websocket.max_reconnect_attempts", 5)
	v.SetDefault("websocket.queue_capacity", 1000)
	v.SetDefault("websocket.reconcile_interval", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "broker-link.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

func validateConfig(config *Config) error {
	if config.WebSocket.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %v", config.WebSocket.BackoffFactor)
	}
	if config.WebSocket.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	if config.WebSocket.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	for broker, envs := range config.Brokers.Endpoints {
		for env, url := range envs {
			if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
				return fmt.Errorf("broker %s/%s endpoint must be a ws:// or wss:// URL, got %q", broker, env, url)
			}
		}
	}
	return nil
}
