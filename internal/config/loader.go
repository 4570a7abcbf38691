package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIMTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIMTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets participants inject credentials at launch time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Host, "SIMTRADER_EXCHANGE_HOST")
	setStr(&cfg.Exchange.Scenario, "SIMTRADER_EXCHANGE_SCENARIO")
	setStr(&cfg.Exchange.Name, "SIMTRADER_EXCHANGE_NAME")
	setStr(&cfg.Exchange.Password, "SIMTRADER_EXCHANGE_PASSWORD")
	setBool(&cfg.Exchange.Secure, "SIMTRADER_EXCHANGE_SECURE")
	setBool(&cfg.Exchange.InsecureSkipVerify, "SIMTRADER_EXCHANGE_INSECURE_SKIP_VERIFY")
	setDuration(&cfg.Exchange.RegisterTimeout, "SIMTRADER_EXCHANGE_REGISTER_TIMEOUT")
	setDuration(&cfg.Exchange.HandshakeTimeout, "SIMTRADER_EXCHANGE_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Exchange.ReadyTimeout, "SIMTRADER_EXCHANGE_READY_TIMEOUT")
	setDuration(&cfg.Exchange.PingInterval, "SIMTRADER_EXCHANGE_PING_INTERVAL")

	// ── Session ──
	setStr(&cfg.Session.Ticker, "SIMTRADER_SESSION_TICKER")
	setStr(&cfg.Session.Process, "SIMTRADER_SESSION_PROCESS")
	setInt(&cfg.Session.Depth, "SIMTRADER_SESSION_DEPTH")
	setBool(&cfg.Session.AutoAdvance, "SIMTRADER_SESSION_AUTO_ADVANCE")
	setInt(&cfg.Session.LatencyWindow, "SIMTRADER_SESSION_LATENCY_WINDOW")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "SIMTRADER_STRATEGY_NAME")
	setInt64(&cfg.Strategy.TradeInterval, "SIMTRADER_STRATEGY_TRADE_INTERVAL")
	setInt64(&cfg.Strategy.OrderQty, "SIMTRADER_STRATEGY_ORDER_QTY")
	setInt64(&cfg.Strategy.MaxInventory, "SIMTRADER_STRATEGY_MAX_INVENTORY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIMTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIMTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIMTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIMTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIMTRADER_REDIS_MAX_RETRIES")
	setStr(&cfg.Redis.StreamPrefix, "SIMTRADER_REDIS_STREAM_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "SIMTRADER_REDIS_STREAM_MAX_LEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIMTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIMTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIMTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIMTRADER_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIMTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIMTRADER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIMTRADER_SERVER_CORS_ORIGINS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SIMTRADER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "SIMTRADER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "SIMTRADER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "SIMTRADER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "SIMTRADER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "SIMTRADER_ARCHIVE_SECRET_KEY")
	setStr(&cfg.Archive.Prefix, "SIMTRADER_ARCHIVE_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIMTRADER_MODE")
	setStr(&cfg.LogLevel, "SIMTRADER_LOG_LEVEL")
	setStr(&cfg.LogFormat, "SIMTRADER_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
