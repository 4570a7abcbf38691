// Package config defines the top-level configuration for the simtrader
// session client and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIMTRADER_* environment variables.
type Config struct {
	Exchange  ExchangeConfig `toml:"exchange"`
	Session   SessionConfig  `toml:"session"`
	Strategy  StrategyConfig `toml:"strategy"`
	Redis     RedisConfig    `toml:"redis"`
	Notify    NotifyConfig   `toml:"notify"`
	Server    ServerConfig   `toml:"server"`
	Archive   ArchiveConfig  `toml:"archive"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// ExchangeConfig holds the simulator endpoint and registration credentials.
type ExchangeConfig struct {
	Host     string `toml:"host"`
	Scenario string `toml:"scenario"`
	Name     string `toml:"name"`
	Password string `toml:"password"`
	Secure   bool   `toml:"secure"`
	// The classroom simulator serves a self-signed certificate, so
	// verification is skipped by default when secure is set.
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	RegisterTimeout    Duration `toml:"register_timeout"`
	HandshakeTimeout   Duration `toml:"handshake_timeout"`
	ReadyTimeout       Duration `toml:"ready_timeout"`
	// PingInterval enables WebSocket keepalive pings when > 0. The stock
	// simulator does not require them, so the default is off.
	PingInterval Duration `toml:"ping_interval"`
}

// SessionConfig holds per-run processing parameters.
type SessionConfig struct {
	Ticker string `toml:"ticker"`
	// Process selects snapshot handling: "every" forwards every tick to the
	// strategy, "changed" forwards only fingerprint-changed ticks. Empty
	// means the mode default (trade → every, observe → changed).
	Process       string `toml:"process"`
	Depth         int    `toml:"depth"`
	AutoAdvance   bool   `toml:"auto_advance"`
	LatencyWindow int    `toml:"latency_window"`
}

// StrategyConfig holds trading strategy parameters.
type StrategyConfig struct {
	Name          string `toml:"name"`
	TradeInterval int64  `toml:"trade_interval"`
	OrderQty      int64  `toml:"order_qty"`
	MaxInventory  int64  `toml:"max_inventory"`
}

// RedisConfig holds connection parameters for the optional event stream.
// An empty addr disables publishing entirely.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	StreamPrefix string `toml:"stream_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// ArchiveConfig holds S3-compatible object storage parameters for run
// archives. Archiving is off unless enabled.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Endpoint overrides the AWS S3 endpoint for compatible providers
	// (MinIO, R2). Empty means standard AWS S3.
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix is the key prefix archives are written under.
	Prefix string `toml:"prefix"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "10s" or "5m".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Host:               "localhost:8080",
			Scenario:           "normal_market",
			Secure:             false,
			InsecureSkipVerify: true,
			RegisterTimeout:    Duration{10 * time.Second},
			HandshakeTimeout:   Duration{15 * time.Second},
			ReadyTimeout:       Duration{10 * time.Second},
			PingInterval:       Duration{0},
		},
		Session: SessionConfig{
			Ticker:        "SYM",
			Process:       "",
			Depth:         10,
			AutoAdvance:   true,
			LatencyWindow: 10_000,
		},
		Strategy: StrategyConfig{
			Name:          "stepper",
			TradeInterval: 50,
			OrderQty:      100,
			MaxInventory:  200,
		},
		Redis: RedisConfig{
			Addr:         "",
			DB:           0,
			PoolSize:     10,
			MaxRetries:   3,
			StreamPrefix: "simtrader:events",
			StreamMaxLen: 10_000,
		},
		Notify: NotifyConfig{
			Events: []string{"fill", "server_error", "anomaly", "session_end"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Region:  "us-east-1",
			UseSSL:  true,
			Prefix:  "runs",
		},
		Mode:      ModeTrade,
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Run modes.
const (
	ModeTrade   = "trade"
	ModeObserve = "observe"
)

// Snapshot processing modes.
const (
	ProcessEvery   = "every"
	ProcessChanged = "changed"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeTrade:   true,
	ModeObserve: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for Config.LogFormat.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// validProcessModes enumerates the accepted values for Session.Process.
var validProcessModes = map[string]bool{
	"":             true,
	ProcessEvery:   true,
	ProcessChanged: true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, observe)", c.Mode))
	}

	// Logging
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Exchange
	if c.Exchange.Host == "" {
		errs = append(errs, "exchange: host must not be empty")
	}
	if c.Exchange.Scenario == "" {
		errs = append(errs, "exchange: scenario must not be empty")
	}
	if c.Exchange.Name == "" {
		errs = append(errs, "exchange: name must not be empty (it is the bearer credential)")
	}
	if c.Exchange.RegisterTimeout.Duration <= 0 {
		errs = append(errs, "exchange: register_timeout must be > 0")
	}
	if c.Exchange.HandshakeTimeout.Duration <= 0 {
		errs = append(errs, "exchange: handshake_timeout must be > 0")
	}
	if c.Exchange.ReadyTimeout.Duration <= 0 {
		errs = append(errs, "exchange: ready_timeout must be > 0")
	}
	if c.Exchange.PingInterval.Duration < 0 {
		errs = append(errs, "exchange: ping_interval must be >= 0")
	}

	// Session
	if c.Session.Ticker == "" {
		errs = append(errs, "session: ticker must not be empty")
	}
	if !validProcessModes[strings.ToLower(c.Session.Process)] {
		errs = append(errs, fmt.Sprintf("session: unknown process mode %q (valid: every, changed)", c.Session.Process))
	}
	if c.Session.Depth < 1 {
		errs = append(errs, "session: depth must be >= 1")
	}
	if c.Session.LatencyWindow < 1 {
		errs = append(errs, "session: latency_window must be >= 1")
	}

	// Strategy (only meaningful in trade mode)
	if strings.ToLower(c.Mode) == ModeTrade {
		if c.Strategy.Name == "" {
			errs = append(errs, "strategy: name must not be empty in trade mode")
		}
		if c.Strategy.TradeInterval < 1 {
			errs = append(errs, "strategy: trade_interval must be >= 1")
		}
		if c.Strategy.OrderQty < 1 {
			errs = append(errs, "strategy: order_qty must be >= 1")
		}
		if c.Strategy.MaxInventory < 0 {
			errs = append(errs, "strategy: max_inventory must be >= 0")
		}
	}

	// Redis (only when the event stream is enabled)
	if c.Redis.Addr != "" {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamPrefix == "" {
			errs = append(errs, "redis: stream_prefix must not be empty")
		}
		if c.Redis.StreamMaxLen < 1 {
			errs = append(errs, "redis: stream_max_len must be >= 1")
		}
	}

	// Telegram needs both the token and the chat id.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Archive (only when run archiving is enabled)
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty")
		}
		if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
			errs = append(errs, "archive: access_key and secret_key must be set together")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProcessMode resolves the effective snapshot processing mode: an explicit
// session.process wins, otherwise trade mode processes every tick and
// observe mode only changed ones.
func (c *Config) ProcessMode() string {
	if p := strings.ToLower(c.Session.Process); p != "" {
		return p
	}
	if strings.ToLower(c.Mode) == ModeObserve {
		return ProcessChanged
	}
	return ProcessEvery
}
