// Package config defines the top-level configuration for the volume bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VOLUMEBOT_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Quote     QuoteConfig     `toml:"quote"`
	Sizing    SizingConfig    `toml:"sizing"`
	Risk      RiskConfig      `toml:"risk"`
	Intervals IntervalsConfig `toml:"intervals"`
	Signal    SignalConfig    `toml:"signal"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds venue selection and market parameters.
type ExchangeConfig struct {
	Driver    string `toml:"driver"` // "paper" or a live adapter name
	Symbol    string `toml:"symbol"`
	Leverage  int    `toml:"leverage"`
	BookDepth int    `toml:"book_depth"`
}

// QuoteConfig holds ladder planning parameters.
type QuoteConfig struct {
	NumOrders         int     `toml:"num_orders"` // per side
	MinSpreadPct      float64 `toml:"min_spread_pct"`
	MaxSpreadPct      float64 `toml:"max_spread_pct"`
	PriceTolerancePct float64 `toml:"price_tolerance_pct"`
	ImbalanceDepth    int     `toml:"imbalance_depth"`
}

// SizingConfig holds per-level order sizing parameters in USD notional.
type SizingConfig struct {
	BaseOrderUSD float64 `toml:"base_order_usd"`
	MaxOrderUSD  float64 `toml:"max_order_usd"`
	BiasOverUSD  float64 `toml:"bias_over_usd"` // exposure above this biases sizes toward reduction
}

// RiskConfig holds exposure and loss limits.
type RiskConfig struct {
	MaxPositionUSD        float64 `toml:"max_position_usd"`
	RebalanceThresholdUSD float64 `toml:"rebalance_threshold_usd"`
	MaxDailyLossUSD       float64 `toml:"max_daily_loss_usd"`
	MaxTotalLossUSD       float64 `toml:"max_total_loss_usd"`
}

// IntervalsConfig holds the engine cadences.
type IntervalsConfig struct {
	OrderRefresh  duration `toml:"order_refresh"`
	PositionCheck duration `toml:"position_check"`
	LedgerRefresh duration `toml:"ledger_refresh"`
	StatsLog      duration `toml:"stats_log"`
}

// SignalConfig holds the external model-server connection parameters.
type SignalConfig struct {
	Enabled    bool     `toml:"enabled"`
	WSURL      string   `toml:"ws_url"`
	StaleAfter duration `toml:"stale_after"`
}

// PostgresConfig holds PostgreSQL connection parameters for the fill store.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the stats cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Driver:    "paper",
			Symbol:    "SOL/USDT:USDT",
			Leverage:  5,
			BookDepth: 20,
		},
		Quote: QuoteConfig{
			NumOrders:         3,
			MinSpreadPct:      0.05,
			MaxSpreadPct:      0.50,
			PriceTolerancePct: 0.001,
			ImbalanceDepth:    10,
		},
		Sizing: SizingConfig{
			BaseOrderUSD: 20.0,
			MaxOrderUSD:  100.0,
			BiasOverUSD:  50.0,
		},
		Risk: RiskConfig{
			MaxPositionUSD:        500.0,
			RebalanceThresholdUSD: 200.0,
			MaxDailyLossUSD:       50.0,
			MaxTotalLossUSD:       150.0,
		},
		Intervals: IntervalsConfig{
			OrderRefresh:  duration{30 * time.Second},
			PositionCheck: duration{2 * time.Minute},
			LedgerRefresh: duration{5 * time.Minute},
			StatsLog:      duration{10 * time.Minute},
		},
		Signal: SignalConfig{
			Enabled:    false,
			WSURL:      "ws://localhost:8765/signal",
			StaleAfter: duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "volumebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events: []string{"rebalance", "liquidation_risk", "emergency_close", "safety_stop", "session_recap"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Symbol == "" {
		errs = append(errs, "exchange: symbol must not be empty")
	}
	if c.Exchange.Driver == "" {
		errs = append(errs, "exchange: driver must not be empty")
	}
	if c.Exchange.Leverage < 1 || c.Exchange.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("exchange: leverage must be 1-125, got %d", c.Exchange.Leverage))
	}
	if c.Exchange.BookDepth < 1 {
		errs = append(errs, "exchange: book_depth must be >= 1")
	}

	// Quote
	if c.Quote.NumOrders < 1 {
		errs = append(errs, "quote: num_orders must be >= 1")
	}
	if c.Quote.MinSpreadPct <= 0 {
		errs = append(errs, "quote: min_spread_pct must be > 0")
	}
	if c.Quote.MaxSpreadPct < c.Quote.MinSpreadPct {
		errs = append(errs, "quote: max_spread_pct must be >= min_spread_pct")
	}
	if c.Quote.PriceTolerancePct <= 0 {
		errs = append(errs, "quote: price_tolerance_pct must be > 0")
	}
	if c.Quote.ImbalanceDepth < 1 {
		errs = append(errs, "quote: imbalance_depth must be >= 1")
	}

	// Sizing
	if c.Sizing.BaseOrderUSD <= 0 {
		errs = append(errs, "sizing: base_order_usd must be > 0")
	}
	if c.Sizing.MaxOrderUSD < c.Sizing.BaseOrderUSD {
		errs = append(errs, "sizing: max_order_usd must be >= base_order_usd")
	}

	// Risk
	if c.Risk.RebalanceThresholdUSD <= 0 {
		errs = append(errs, "risk: rebalance_threshold_usd must be > 0")
	}
	if c.Risk.MaxPositionUSD < c.Risk.RebalanceThresholdUSD {
		errs = append(errs, "risk: max_position_usd must be >= rebalance_threshold_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be > 0")
	}
	if c.Risk.MaxTotalLossUSD < c.Risk.MaxDailyLossUSD {
		errs = append(errs, "risk: max_total_loss_usd must be >= max_daily_loss_usd")
	}

	// Intervals
	if c.Intervals.OrderRefresh.Duration < time.Second {
		errs = append(errs, "intervals: order_refresh must be >= 1s")
	}
	if c.Intervals.PositionCheck.Duration < c.Intervals.OrderRefresh.Duration {
		errs = append(errs, "intervals: position_check must be >= order_refresh")
	}

	// Signal
	if c.Signal.Enabled {
		if c.Signal.WSURL == "" {
			errs = append(errs, "signal: ws_url is required when enabled")
		}
		if c.Signal.StaleAfter.Duration <= 0 {
			errs = append(errs, "signal: stale_after must be > 0")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
