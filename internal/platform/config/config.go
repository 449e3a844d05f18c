package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minProductionSecretLength = 32

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8000"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8000"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// JWTSecret enables /ws/secure when set.
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE" default:"65536"`
	PingInterval   time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT" default:"60s"`
	SendTimeout    time.Duration `env:"SEND_TIMEOUT" default:"2s"`

	DispatchWorkers      int `env:"DISPATCH_WORKERS" default:"4"`
	DispatchQueueSize    int `env:"DISPATCH_QUEUE_SIZE" default:"1024"`
	BroadcastConcurrency int `env:"BROADCAST_CONCURRENCY" default:"32"`

	TestEventsEnabled bool `env:"TEST_EVENTS_ENABLED" default:"true"`
}

func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// SecureEndpointEnabled reports whether token-authenticated connections are accepted.
func (c *Config) SecureEndpointEnabled() bool { return c.JWTSecret != "" }

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.AppEnv {
	case "development", "production", "test":
	default:
		return fmt.Errorf("APP_ENV must be one of development, production, test; got %q", cfg.AppEnv)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json; got %q", cfg.LogFormat)
	}

	if cfg.AppURL != "" {
		u, err := url.Parse(cfg.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_URL must be an absolute URL; got %q", cfg.AppURL)
		}
	}

	nonNegative := map[string]int64{
		"MAX_WEBSOCKET_CONNECTIONS": int64(cfg.MaxWebSocketConnections),
		"MAX_CONNECTIONS_PER_IP":    int64(cfg.MaxConnectionsPerIP),
		"CONNECTION_BURST":          int64(cfg.ConnectionBurst),
		"MAX_MESSAGE_SIZE":          cfg.MaxMessageSize,
		"PING_INTERVAL":             int64(cfg.PingInterval),
	}
	for name, value := range nonNegative {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.ConnectionRatePerSecond < 0 {
		return errors.New("CONNECTION_RATE_PER_SECOND must not be negative")
	}

	positive := map[string]int64{
		"SEND_TIMEOUT":          int64(cfg.SendTimeout),
		"DISPATCH_WORKERS":      int64(cfg.DispatchWorkers),
		"DISPATCH_QUEUE_SIZE":   int64(cfg.DispatchQueueSize),
		"BROADCAST_CONCURRENCY": int64(cfg.BroadcastConcurrency),
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.PingInterval > 0 && cfg.PongTimeout <= cfg.PingInterval {
		return fmt.Errorf("PONG_TIMEOUT (%s) must be longer than PING_INTERVAL (%s)", cfg.PongTimeout, cfg.PingInterval)
	}

	if cfg.IsProduction() && cfg.JWTSecret != "" && len(cfg.JWTSecret) < minProductionSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minProductionSecretLength)
	}

	return nil
}
