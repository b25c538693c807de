// Package engine runs the quoting control loop for one symbol: plan a
// ladder, reconcile it against live orders, check position risk on a slower
// cadence, and keep the PnL ledger fresh from trade history.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kzhou42/volumebot/internal/domain"
	"github.com/kzhou42/volumebot/internal/notify"
	"github.com/kzhou42/volumebot/internal/pnl"
	"github.com/kzhou42/volumebot/internal/position"
	"github.com/kzhou42/volumebot/internal/quote"
	"github.com/kzhou42/volumebot/internal/reconcile"
	"github.com/kzhou42/volumebot/internal/signal"
)

const (
	tradeFetchLimit = 50
	shutdownTimeout = 30 * time.Second
)

// Config holds the engine's planning parameters and cadences.
type Config struct {
	Symbol       string
	BookDepth    int
	NumOrders    int
	MinSpreadPct float64
	MaxSpreadPct float64

	MaxDailyLossUSD float64
	MaxTotalLossUSD float64

	OrderRefresh  time.Duration
	PositionCheck time.Duration
	LedgerRefresh time.Duration
	StatsLog      time.Duration

	Leverage int
}

// FillStore persists fills across sessions. Optional; a nil store keeps the
// ledger process-local.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []domain.TradeRecord) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error)
	InsertSnapshot(ctx context.Context, symbol string, snap pnl.Snapshot) error
}

// StatsPublisher pushes live state to external monitors. Optional.
type StatsPublisher interface {
	SetSnapshot(ctx context.Context, symbol string, snap any) error
	SetBBO(ctx context.Context, symbol string, bid, ask float64) error
	PublishEvent(ctx context.Context, event string, fields map[string]any) error
}

// Status is the engine's externally visible state, served over HTTP.
type Status struct {
	Symbol    string                 `json:"symbol"`
	Running   bool                   `json:"running"`
	StartedAt time.Time              `json:"started_at"`
	Cycles    int64                  `json:"cycles"`
	Position  domain.NetPosition     `json:"position"`
	Risk      domain.LiquidationRisk `json:"risk"`
	PnL       pnl.Snapshot           `json:"pnl"`
	Margin    domain.MarginInfo      `json:"margin"`
	LastCycle time.Time              `json:"last_cycle"`
	StopCause string                 `json:"stop_cause,omitempty"`
}

// Engine drives one symbol. All collaborators are injected; the engine holds
// no exchange state of its own beyond the ledger and cycle counters.
type Engine struct {
	cfg        Config
	ex         domain.Exchange
	reconciler *reconcile.Reconciler
	positions  *position.Manager
	ledger     *pnl.Ledger
	sizer      quote.Sizer
	signals    signal.Provider
	notifier   *notify.Notifier
	fills      FillStore      // may be nil
	stats      StatsPublisher // may be nil
	logger     *slog.Logger

	vol volEstimator

	mu     sync.RWMutex
	status Status
}

// New wires an Engine from its collaborators. fills and stats may be nil.
func New(cfg Config, ex domain.Exchange, rec *reconcile.Reconciler, pos *position.Manager,
	ledger *pnl.Ledger, sizer quote.Sizer, signals signal.Provider, notifier *notify.Notifier,
	fills FillStore, stats StatsPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		ex:         ex,
		reconciler: rec,
		positions:  pos,
		ledger:     ledger,
		sizer:      sizer,
		signals:    signals,
		notifier:   notifier,
		fills:      fills,
		stats:      stats,
		logger:     logger.With(slog.String("component", "engine"), slog.String("symbol", cfg.Symbol)),
		status:     Status{Symbol: cfg.Symbol},
	}
}

// Run executes the control loop until ctx is cancelled or a safety limit
// trips. One cycle completes fully before the next starts; a slow cycle
// delays the next rather than overlapping it.
func (e *Engine) Run(ctx context.Context) error {
	e.startup(ctx)

	e.mu.Lock()
	e.status.Running = true
	e.status.StartedAt = time.Now()
	e.mu.Unlock()

	defer e.shutdown()

	var (
		lastPositionCheck time.Time
		lastLedgerRefresh time.Time
		lastStatsLog      time.Time
		dayStart          = time.Now()
		// baseline after startup's fill replay, so losses realized in prior
		// sessions never count against today's floor
		dayStartPnL = e.ledger.Stats().MatchedPnL
	)

	ticker := time.NewTicker(e.cfg.OrderRefresh)
	defer ticker.Stop()

	for {
		e.cycle(ctx)

		now := time.Now()
		if now.Sub(lastLedgerRefresh) >= e.cfg.LedgerRefresh {
			e.refreshLedger(ctx)
			lastLedgerRefresh = now
		}
		if now.Sub(lastPositionCheck) >= e.cfg.PositionCheck {
			e.checkPosition(ctx)
			lastPositionCheck = now
		}
		if now.Sub(lastStatsLog) >= e.cfg.StatsLog {
			e.logStats(ctx)
			lastStatsLog = now
		}

		// loss floors roll daily
		if now.Sub(dayStart) >= 24*time.Hour {
			dayStart = now
			dayStartPnL = e.ledger.Stats().MatchedPnL
		}
		if cause := e.safetyStop(dayStartPnL); cause != "" {
			e.logger.ErrorContext(ctx, "safety limit hit, stopping", slog.String("cause", cause))
			e.notifier.Notifyf(ctx, notify.EventSafetyStop, "Safety stop", "%s on %s", cause, e.cfg.Symbol)
			e.mu.Lock()
			e.status.StopCause = cause
			e.mu.Unlock()
			return fmt.Errorf("engine: %s", cause)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startup applies leverage and replays persisted fills into the ledger.
// Both are best effort; a fresh ledger is degraded, not fatal.
func (e *Engine) startup(ctx context.Context) {
	if e.cfg.Leverage > 0 {
		if err := e.ex.SetLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage); err != nil {
			e.logger.WarnContext(ctx, "set leverage failed",
				slog.Int("leverage", e.cfg.Leverage), slog.String("error", err.Error()))
		}
	}

	if e.fills != nil {
		replay, err := e.fills.ListRecent(ctx, e.cfg.Symbol, 1000)
		if err != nil {
			e.logger.WarnContext(ctx, "fill replay failed", slog.String("error", err.Error()))
			return
		}
		if n := e.ledger.Record(replay); n > 0 {
			e.logger.InfoContext(ctx, "replayed persisted fills", slog.Int("count", n))
		}
	}
}

// cycle runs one quoting pass. Any fetch failure skips the cycle; the loop
// never dies on upstream errors.
func (e *Engine) cycle(ctx context.Context) {
	book, err := e.ex.FetchOrderBook(ctx, e.cfg.Symbol, e.cfg.BookDepth)
	if err != nil {
		e.logger.WarnContext(ctx, "order book fetch failed, skipping cycle", slog.String("error", err.Error()))
		return
	}
	mid := book.MidPrice()
	if mid <= 0 || book.Crossed() {
		e.logger.WarnContext(ctx, "unusable book, skipping cycle",
			slog.Float64("best_bid", book.BestBid()), slog.Float64("best_ask", book.BestAsk()))
		return
	}
	e.vol.add(mid)

	sig, err := e.signals.Signal(ctx)
	if err != nil {
		sig = signal.Neutral()
	}

	spread := quote.PlanSpread(book, e.cfg.MinSpreadPct, e.cfg.MaxSpreadPct, e.vol.value())
	if sig.Direction != domain.SignalNeutral {
		// confident directional view: retreat from the touch
		spread *= 1 + 0.5*sig.Confidence
		if spread > e.cfg.MaxSpreadPct {
			spread = e.cfg.MaxSpreadPct
		}
	}

	buys, sells := quote.PlanLevels(book, e.cfg.NumOrders, spread, sig.Skew())
	if len(buys) == 0 && len(sells) == 0 {
		return
	}

	pos, err := e.positions.Current(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "position fetch failed, skipping cycle", slog.String("error", err.Error()))
		return
	}
	exposure := pos.NetContracts * mid

	ladder := e.sizer.SizeLadder(e.ex, e.cfg.Symbol, buys, sells, exposure, sig)
	stats, err := e.reconciler.Reconcile(ctx, ladder)
	if err != nil {
		e.logger.WarnContext(ctx, "reconcile failed", slog.String("error", err.Error()))
		return
	}

	e.mu.Lock()
	e.status.Cycles++
	e.status.LastCycle = time.Now()
	e.status.Position = pos
	e.mu.Unlock()

	if e.stats != nil {
		if err := e.stats.SetBBO(ctx, e.cfg.Symbol, book.BestBid(), book.BestAsk()); err != nil {
			e.logger.DebugContext(ctx, "bbo publish failed", slog.String("error", err.Error()))
		}
	}

	e.logger.DebugContext(ctx, "cycle complete",
		slog.Float64("mid", mid),
		slog.Float64("spread_pct", spread),
		slog.Int("kept", stats.Kept),
		slog.Int("cancelled", stats.Cancelled),
		slog.Int("placed", stats.Placed))
}

// checkPosition runs the slower risk cadence: liquidation distance first
// (CRITICAL forces a reduction regardless of threshold), then ordinary
// exposure-triggered rebalancing.
func (e *Engine) checkPosition(ctx context.Context) {
	risk, err := e.positions.LiquidationRisk(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "liquidation risk check failed", slog.String("error", err.Error()))
		return
	}

	e.mu.Lock()
	e.status.Risk = risk
	e.mu.Unlock()

	force := false
	switch risk.Level {
	case domain.RiskCritical:
		force = true
		e.logger.ErrorContext(ctx, "liquidation critical",
			slog.Float64("distance_pct", risk.DistancePct),
			slog.Float64("liq_price", risk.LiqPrice))
		e.notifier.Notifyf(ctx, notify.EventLiquidationRisk, "Liquidation risk CRITICAL",
			"%s is %.1f%% from liquidation (liq %.2f, mark %.2f)",
			e.cfg.Symbol, risk.DistancePct, risk.LiqPrice, risk.MarkPrice)
	case domain.RiskHigh:
		e.logger.WarnContext(ctx, "liquidation risk high", slog.Float64("distance_pct", risk.DistancePct))
		e.notifier.Notifyf(ctx, notify.EventLiquidationRisk, "Liquidation risk HIGH",
			"%s is %.1f%% from liquidation", e.cfg.Symbol, risk.DistancePct)
	}

	done, err := e.positions.Rebalance(ctx, force)
	if err != nil {
		e.logger.WarnContext(ctx, "rebalance failed", slog.String("error", err.Error()))
		return
	}
	if done {
		e.notifier.Notifyf(ctx, notify.EventRebalance, "Rebalanced", "%s position reduced", e.cfg.Symbol)
		if e.stats != nil {
			_ = e.stats.PublishEvent(ctx, notify.EventRebalance, map[string]any{"symbol": e.cfg.Symbol})
		}
	}
}

// refreshLedger pulls recent trade history into the ledger and persists any
// new fills.
func (e *Engine) refreshLedger(ctx context.Context) {
	trades, err := e.ex.FetchMyTrades(ctx, e.cfg.Symbol, tradeFetchLimit)
	if err != nil {
		e.logger.WarnContext(ctx, "trade fetch failed", slog.String("error", err.Error()))
		return
	}

	if n := e.ledger.Record(trades); n > 0 {
		e.logger.InfoContext(ctx, "ingested new fills", slog.Int("count", n))
		if e.fills != nil {
			if err := e.fills.InsertBatch(ctx, trades); err != nil {
				e.logger.WarnContext(ctx, "fill persist failed", slog.String("error", err.Error()))
			}
		}
	}

	snap := e.ledger.Stats()
	e.mu.Lock()
	e.status.PnL = snap
	e.mu.Unlock()

	if e.stats != nil {
		if err := e.stats.SetSnapshot(ctx, e.cfg.Symbol, snap); err != nil {
			e.logger.DebugContext(ctx, "stats publish failed", slog.String("error", err.Error()))
		}
	}
}

// logStats emits the periodic session summary and stores a PnL snapshot.
func (e *Engine) logStats(ctx context.Context) {
	snap := e.ledger.Stats()

	margin, err := e.ex.FetchBalance(ctx)
	if err != nil {
		e.logger.DebugContext(ctx, "balance fetch failed", slog.String("error", err.Error()))
	} else {
		e.mu.Lock()
		e.status.Margin = margin
		e.mu.Unlock()
	}

	e.logger.InfoContext(ctx, "session stats",
		slog.Float64("volume_usd", snap.TotalVolume),
		slog.Int("trades", snap.TradeCount),
		slog.Float64("matched_pnl", snap.MatchedPnL),
		slog.Float64("unmatched_value", snap.UnmatchedValue),
		slog.Float64("fees", snap.TotalFees))

	if e.fills != nil {
		if err := e.fills.InsertSnapshot(ctx, e.cfg.Symbol, snap); err != nil {
			e.logger.WarnContext(ctx, "pnl snapshot persist failed", slog.String("error", err.Error()))
		}
	}
}

// safetyStop returns a non-empty cause when a loss floor is breached.
func (e *Engine) safetyStop(dayStartPnL float64) string {
	snap := e.ledger.Stats()
	if e.cfg.MaxTotalLossUSD > 0 && -snap.MatchedPnL > e.cfg.MaxTotalLossUSD {
		return fmt.Sprintf("total loss %.2f exceeds limit %.2f", -snap.MatchedPnL, e.cfg.MaxTotalLossUSD)
	}
	dayLoss := dayStartPnL - snap.MatchedPnL
	if e.cfg.MaxDailyLossUSD > 0 && dayLoss > e.cfg.MaxDailyLossUSD {
		return fmt.Sprintf("daily loss %.2f exceeds limit %.2f", dayLoss, e.cfg.MaxDailyLossUSD)
	}
	return ""
}

// shutdown clears the book and position, then emits the session recap. Runs
// on a fresh context; the loop's context is already dead.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	e.logger.InfoContext(ctx, "shutting down, clearing orders and position")

	if _, err := e.reconciler.CancelAll(ctx); err != nil {
		e.logger.ErrorContext(ctx, "cancel all on shutdown failed", slog.String("error", err.Error()))
	}
	if err := e.positions.EmergencyCloseAll(ctx); err != nil {
		e.logger.ErrorContext(ctx, "emergency close on shutdown failed", slog.String("error", err.Error()))
		e.notifier.Notifyf(ctx, notify.EventEmergencyClose, "Emergency close incomplete",
			"%s: %v", e.cfg.Symbol, err)
	}

	e.refreshLedger(ctx)
	snap := e.ledger.Stats()
	rebalances, _ := e.positions.RebalanceStats()

	e.mu.Lock()
	e.status.Running = false
	started := e.status.StartedAt
	cycles := e.status.Cycles
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "session recap",
		slog.Duration("uptime", time.Since(started)),
		slog.Int64("cycles", cycles),
		slog.Int("rebalances", rebalances),
		slog.Float64("volume_usd", snap.TotalVolume),
		slog.Int("trades", snap.TradeCount),
		slog.Float64("matched_pnl", snap.MatchedPnL),
		slog.Float64("fees", snap.TotalFees))

	e.notifier.Notifyf(ctx, notify.EventSessionRecap, "Session recap",
		"%s: %d cycles, %d trades, $%.2f volume, $%.4f matched PnL, $%.4f fees",
		e.cfg.Symbol, cycles, snap.TradeCount, snap.TotalVolume, snap.MatchedPnL, snap.TotalFees)
}

// Status returns a copy of the engine's current state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}
