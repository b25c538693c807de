package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kzhou42/volumebot/internal/cache/redis"
	"github.com/kzhou42/volumebot/internal/config"
	"github.com/kzhou42/volumebot/internal/domain"
	"github.com/kzhou42/volumebot/internal/engine"
	"github.com/kzhou42/volumebot/internal/exchange/paper"
	"github.com/kzhou42/volumebot/internal/notify"
	"github.com/kzhou42/volumebot/internal/pnl"
	"github.com/kzhou42/volumebot/internal/position"
	"github.com/kzhou42/volumebot/internal/quote"
	"github.com/kzhou42/volumebot/internal/reconcile"
	"github.com/kzhou42/volumebot/internal/server"
	"github.com/kzhou42/volumebot/internal/signal"
	"github.com/kzhou42/volumebot/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange domain.Exchange
	Engine   *engine.Engine
	Server   *server.Server // nil when the HTTP server is disabled

	// SignalFeed is the WebSocket signal connection; nil when the engine runs
	// on the static neutral provider. Trade mode owns its Run loop.
	SignalFeed *signal.WSProvider

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange adapter ---
	ex, err := buildExchange(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: exchange: %w", err)
	}
	deps.Exchange = ex

	// --- Signal provider ---
	var signals signal.Provider = signal.StaticProvider{}
	if cfg.Signal.Enabled {
		ws := signal.NewWSProvider(cfg.Signal.WSURL, cfg.Signal.StaleAfter.Duration, logger)
		deps.SignalFeed = ws
		signals = ws
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- PostgreSQL fill store (optional) ---
	var fills engine.FillStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		fills = postgres.NewFillStore(pgClient.Pool())
	}

	// --- Redis stats cache (optional) ---
	var stats engine.StatsPublisher
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		stats = redis.NewStatsCache(redisClient)
	}

	// --- Core trading stack ---
	symbol := cfg.Exchange.Symbol
	reconciler := reconcile.New(ex, symbol, cfg.Quote.PriceTolerancePct, logger)
	positions := position.New(ex, reconciler, symbol, cfg.Risk.RebalanceThresholdUSD, logger)
	sizer := quote.Sizer{
		BaseOrderUSD: cfg.Sizing.BaseOrderUSD,
		MaxOrderUSD:  cfg.Sizing.MaxOrderUSD,
		BiasOverUSD:  cfg.Sizing.BiasOverUSD,
	}

	deps.Engine = engine.New(engine.Config{
		Symbol:          symbol,
		BookDepth:       cfg.Exchange.BookDepth,
		NumOrders:       cfg.Quote.NumOrders,
		MinSpreadPct:    cfg.Quote.MinSpreadPct,
		MaxSpreadPct:    cfg.Quote.MaxSpreadPct,
		MaxDailyLossUSD: cfg.Risk.MaxDailyLossUSD,
		MaxTotalLossUSD: cfg.Risk.MaxTotalLossUSD,
		OrderRefresh:    cfg.Intervals.OrderRefresh.Duration,
		PositionCheck:   cfg.Intervals.PositionCheck.Duration,
		LedgerRefresh:   cfg.Intervals.LedgerRefresh.Duration,
		StatsLog:        cfg.Intervals.StatsLog.Duration,
		Leverage:        cfg.Exchange.Leverage,
	}, ex, reconciler, positions, pnl.NewLedger(), sizer, signals, deps.Notifier, fills, stats, logger)

	if cfg.Server.Enabled {
		deps.Server = server.NewServer(server.Config{Port: cfg.Server.Port}, deps.Engine, logger)
	}

	return deps, cleanup, nil
}

// buildExchange selects the venue adapter. Only the paper venue ships with
// the bot; live adapters register their driver name here.
func buildExchange(cfg *config.Config) (domain.Exchange, error) {
	switch cfg.Exchange.Driver {
	case "paper":
		ex := paper.New()
		// A static book around a reference price so dry runs quote
		// immediately instead of skipping every cycle on an empty book.
		ex.SeedBook(cfg.Exchange.Symbol,
			[]domain.BookLevel{{Price: 99.95, Size: 250}, {Price: 99.90, Size: 400}, {Price: 99.80, Size: 600}},
			[]domain.BookLevel{{Price: 100.05, Size: 250}, {Price: 100.10, Size: 400}, {Price: 100.20, Size: 600}},
		)
		return ex, nil
	default:
		return nil, fmt.Errorf("unknown driver %q (built-in: paper)", cfg.Exchange.Driver)
	}
}
