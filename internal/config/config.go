// Package config loads server tunables from the environment. A local .env
// file is honored for development; real environment variables win over it.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every server tunable. Defaults match the protocol's
// documented limits, so an empty environment yields a working server.
type Config struct {
	// Protocol limits
	HistoryInit        int           `env:"LINECHAT_HISTORY_INIT" envDefault:"20"`
	RateLimit          int           `env:"LINECHAT_RATE_LIMIT" envDefault:"20"`
	RateWindow         time.Duration `env:"LINECHAT_RATE_WINDOW" envDefault:"60m"`
	ComplaintThreshold int           `env:"LINECHAT_COMPLAINT_THRESHOLD" envDefault:"3"`
	BanDuration        time.Duration `env:"LINECHAT_BAN_DURATION" envDefault:"240m"`
	Retention          time.Duration `env:"LINECHAT_RETENTION" envDefault:"60m"`

	// Housekeeping and delivery
	ReapInterval time.Duration `env:"LINECHAT_REAP_INTERVAL" envDefault:"1s"`
	DeliveryRate int           `env:"LINECHAT_DELIVERY_RATE" envDefault:"1000"` // replay frames per second

	// Transport
	SendBuffer int `env:"LINECHAT_SEND_BUFFER" envDefault:"256"` // outbound frames buffered per session
	FrameRate  int `env:"LINECHAT_FRAME_RATE" envDefault:"100"`  // inbound frames per second per session
	FrameBurst int `env:"LINECHAT_FRAME_BURST" envDefault:"200"`

	// Operations
	OpsAddr string `env:"LINECHAT_OPS_ADDR" envDefault:":8081"` // empty disables the ops HTTP server

	// Logging
	LogLevel  string `env:"LINECHAT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LINECHAT_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (optional) and environment
// variables, then validates it.
func Load() (*Config, error) {
	// Missing .env is fine; environment variables alone are enough.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger from the configured level and format.
// The pretty format is for local development; json goes to log shippers.
func (c *Config) Logger(service string) zerolog.Logger {
	var level zerolog.Level
	switch c.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var output io.Writer = os.Stderr
	if c.LogFormat == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.HistoryInit < 0 {
		return fmt.Errorf("LINECHAT_HISTORY_INIT must be >= 0, got %d", c.HistoryInit)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("LINECHAT_RATE_LIMIT must be > 0, got %d", c.RateLimit)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("LINECHAT_RATE_WINDOW must be positive, got %s", c.RateWindow)
	}
	if c.ComplaintThreshold < 1 {
		return fmt.Errorf("LINECHAT_COMPLAINT_THRESHOLD must be > 0, got %d", c.ComplaintThreshold)
	}
	if c.BanDuration <= 0 {
		return fmt.Errorf("LINECHAT_BAN_DURATION must be positive, got %s", c.BanDuration)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("LINECHAT_RETENTION must be positive, got %s", c.Retention)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("LINECHAT_REAP_INTERVAL must be positive, got %s", c.ReapInterval)
	}
	if c.DeliveryRate < 1 {
		return fmt.Errorf("LINECHAT_DELIVERY_RATE must be > 0, got %d", c.DeliveryRate)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("LINECHAT_SEND_BUFFER must be > 0, got %d", c.SendBuffer)
	}
	if c.FrameRate < 1 || c.FrameBurst < 1 {
		return fmt.Errorf("LINECHAT_FRAME_RATE and LINECHAT_FRAME_BURST must be > 0, got %d and %d",
			c.FrameRate, c.FrameBurst)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LINECHAT_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("LINECHAT_LOG_FORMAT must be json or pretty (got %q)", c.LogFormat)
	}
	return nil
}
