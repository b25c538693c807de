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
// built-in defaults, applies VOLUMEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VOLUMEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Driver, "VOLUMEBOT_EXCHANGE_DRIVER")
	setStr(&cfg.Exchange.Symbol, "VOLUMEBOT_EXCHANGE_SYMBOL")
	setInt(&cfg.Exchange.Leverage, "VOLUMEBOT_EXCHANGE_LEVERAGE")
	setInt(&cfg.Exchange.BookDepth, "VOLUMEBOT_EXCHANGE_BOOK_DEPTH")

	// ── Quote ──
	setInt(&cfg.Quote.NumOrders, "VOLUMEBOT_QUOTE_NUM_ORDERS")
	setFloat64(&cfg.Quote.MinSpreadPct, "VOLUMEBOT_QUOTE_MIN_SPREAD_PCT")
	setFloat64(&cfg.Quote.MaxSpreadPct, "VOLUMEBOT_QUOTE_MAX_SPREAD_PCT")
	setFloat64(&cfg.Quote.PriceTolerancePct, "VOLUMEBOT_QUOTE_PRICE_TOLERANCE_PCT")
	setInt(&cfg.Quote.ImbalanceDepth, "VOLUMEBOT_QUOTE_IMBALANCE_DEPTH")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.BaseOrderUSD, "VOLUMEBOT_SIZING_BASE_ORDER_USD")
	setFloat64(&cfg.Sizing.MaxOrderUSD, "VOLUMEBOT_SIZING_MAX_ORDER_USD")
	setFloat64(&cfg.Sizing.BiasOverUSD, "VOLUMEBOT_SIZING_BIAS_OVER_USD")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionUSD, "VOLUMEBOT_RISK_MAX_POSITION_USD")
	setFloat64(&cfg.Risk.RebalanceThresholdUSD, "VOLUMEBOT_RISK_REBALANCE_THRESHOLD_USD")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "VOLUMEBOT_RISK_MAX_DAILY_LOSS_USD")
	setFloat64(&cfg.Risk.MaxTotalLossUSD, "VOLUMEBOT_RISK_MAX_TOTAL_LOSS_USD")

	// ── Intervals ──
	setDuration(&cfg.Intervals.OrderRefresh, "VOLUMEBOT_INTERVALS_ORDER_REFRESH")
	setDuration(&cfg.Intervals.PositionCheck, "VOLUMEBOT_INTERVALS_POSITION_CHECK")
	setDuration(&cfg.Intervals.LedgerRefresh, "VOLUMEBOT_INTERVALS_LEDGER_REFRESH")
	setDuration(&cfg.Intervals.StatsLog, "VOLUMEBOT_INTERVALS_STATS_LOG")

	// ── Signal ──
	setBool(&cfg.Signal.Enabled, "VOLUMEBOT_SIGNAL_ENABLED")
	setStr(&cfg.Signal.WSURL, "VOLUMEBOT_SIGNAL_WS_URL")
	setDuration(&cfg.Signal.StaleAfter, "VOLUMEBOT_SIGNAL_STALE_AFTER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VOLUMEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VOLUMEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VOLUMEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VOLUMEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VOLUMEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VOLUMEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VOLUMEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VOLUMEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VOLUMEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VOLUMEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VOLUMEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VOLUMEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VOLUMEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VOLUMEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VOLUMEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VOLUMEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VOLUMEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VOLUMEBOT_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VOLUMEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VOLUMEBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VOLUMEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VOLUMEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VOLUMEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VOLUMEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VOLUMEBOT_MODE")
	setStr(&cfg.LogLevel, "VOLUMEBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *duration, key string) {
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
