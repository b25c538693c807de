// Package position aggregates raw exchange position legs into a net exposure
// view and owns the rebalancing and liquidation-risk policy.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kzhou42/volumebot/internal/domain"
)

// Fraction of net contracts reduced per rebalance. A soft nibble rather than
// a full close, so a position that is still working is not over-corrected.
const reduceFraction = 0.25

// Positions below this notional are too small to reduce safely.
const minRebalanceNotionalUSD = 5.0

// Liquidation distance thresholds in percent.
const (
	criticalDistancePct = 5
	highDistancePct     = 10
	mediumDistancePct   = 20
)

// OrderCanceller clears resting orders before a position reduction. The
// reconciler satisfies it.
type OrderCanceller interface {
	CancelAll(ctx context.Context) (int, error)
}

// Manager translates raw, possibly hedge-mode position legs into net
// exposure and executes reduce-only rebalancing. It holds no cached position
// state; every query re-fetches the legs.
type Manager struct {
	ex        domain.Exchange
	orders    OrderCanceller
	symbol    string
	threshold float64 // gross exposure USD that triggers rebalancing
	logger    *slog.Logger

	mu             sync.Mutex
	rebalanceCount int
	lastRebalance  time.Time
}

// New builds a Manager for symbol. rebalanceThresholdUSD is compared against
// gross exposure, not net: a hedged long+short pair nets to nothing but still
// consumes margin on both legs.
func New(ex domain.Exchange, orders OrderCanceller, symbol string, rebalanceThresholdUSD float64, logger *slog.Logger) *Manager {
	return &Manager{
		ex:        ex,
		orders:    orders,
		symbol:    symbol,
		threshold: rebalanceThresholdUSD,
		logger:    logger.With(slog.String("component", "position"), slog.String("symbol", symbol)),
	}
}

// Current fetches the raw legs and aggregates them. Net contracts are the
// signed sum across legs; unrealized PnL and margin add unconditionally; the
// average entry is weighted by leg magnitude.
func (m *Manager) Current(ctx context.Context) (domain.NetPosition, error) {
	legs, err := m.ex.FetchPositions(ctx, m.symbol)
	if err != nil {
		return domain.NetPosition{}, fmt.Errorf("position: fetch positions: %w", err)
	}
	return Aggregate(m.symbol, legs), nil
}

// Aggregate folds raw legs into a net view. Pure so it is recomputed on every
// read; a cached net value would drift from the underlying legs.
func Aggregate(symbol string, legs []domain.PositionLeg) domain.NetPosition {
	pos := domain.NetPosition{Symbol: symbol, Side: domain.PositionNeutral}

	var weightedEntry, totalContracts float64
	for _, leg := range legs {
		if leg.Contracts <= 0 {
			continue
		}
		notional := leg.NotionalUSD()
		switch leg.Side {
		case domain.PositionLong:
			pos.NetContracts += leg.Contracts
			pos.LongValueUSD += notional
		case domain.PositionShort:
			pos.NetContracts -= leg.Contracts
			pos.ShortValueUSD += notional
		default:
			continue
		}
		pos.UnrealizedPnL += leg.UnrealizedPnL
		pos.MarginUsed += leg.MarginUsed
		weightedEntry += leg.EntryPrice * leg.Contracts
		totalContracts += leg.Contracts
	}

	if totalContracts > 0 {
		pos.AvgEntryPrice = weightedEntry / totalContracts
	}
	pos.GrossExposureUSD = math.Max(pos.LongValueUSD, pos.ShortValueUSD)
	pos.NotionalUSD = math.Abs(pos.NetContracts) * pos.AvgEntryPrice

	switch {
	case pos.NetContracts > 0:
		pos.Side = domain.PositionLong
	case pos.NetContracts < 0:
		pos.Side = domain.PositionShort
	}
	return pos
}

// NeedsRebalance reports whether gross exposure exceeds the threshold.
func (m *Manager) NeedsRebalance(ctx context.Context) (bool, error) {
	pos, err := m.Current(ctx)
	if err != nil {
		return false, err
	}
	return pos.GrossExposureUSD > m.threshold, nil
}

// Rebalance reduces the net position by a quarter with a reduce-only market
// order. Resting orders are cancelled first so the reduction sizes against a
// clean book. Returns false when nothing was done (below threshold without
// force, dust position, or reduction below venue floors).
func (m *Manager) Rebalance(ctx context.Context, force bool) (bool, error) {
	pos, err := m.Current(ctx)
	if err != nil {
		return false, err
	}

	if !force && pos.GrossExposureUSD <= m.threshold {
		return false, nil
	}
	if pos.NotionalUSD < minRebalanceNotionalUSD || pos.Side == domain.PositionNeutral {
		m.logger.DebugContext(ctx, "position too small to rebalance",
			slog.Float64("notional_usd", pos.NotionalUSD))
		return false, nil
	}

	if n, err := m.orders.CancelAll(ctx); err != nil {
		return false, fmt.Errorf("position: cancel orders before rebalance: %w", err)
	} else if n > 0 {
		m.logger.InfoContext(ctx, "cancelled resting orders before rebalance", slog.Int("count", n))
	}

	reduce := m.ex.AmountToPrecision(m.symbol, math.Abs(pos.NetContracts)*reduceFraction)
	if reduce < m.ex.MinAmount(m.symbol) || reduce*pos.AvgEntryPrice < m.ex.MinNotional(m.symbol) {
		m.logger.InfoContext(ctx, "reduction below venue floors, skipping",
			slog.Float64("reduce", reduce))
		return false, nil
	}

	side := pos.Side.ClosingSide()
	legID := m.closingLegID(ctx, pos.Side)

	id, err := m.ex.CreateReduceOnlyMarketOrder(ctx, m.symbol, side, reduce, legID)
	if errors.Is(err, domain.ErrSideMismatch) {
		// hedge-mode venues disagree about which direction closes; try once
		// the other way before surfacing
		m.logger.WarnContext(ctx, "reduce-only side mismatch, retrying opposite",
			slog.String("side", string(side)))
		id, err = m.ex.CreateReduceOnlyMarketOrder(ctx, m.symbol, side.Opposite(), reduce, legID)
	}
	if err != nil {
		return false, fmt.Errorf("position: reduce-only order: %w", err)
	}

	m.mu.Lock()
	m.rebalanceCount++
	m.lastRebalance = time.Now()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "rebalanced position",
		slog.String("order_id", id),
		slog.String("side", string(side)),
		slog.Float64("contracts", reduce),
		slog.Float64("gross_exposure_usd", pos.GrossExposureUSD))
	return true, nil
}

// closingLegID resolves which hedge-mode leg a reduction targets by matching
// the net side against the raw legs. Empty in netting mode or on fetch error.
func (m *Manager) closingLegID(ctx context.Context, side domain.PositionSide) string {
	legs, err := m.ex.FetchPositions(ctx, m.symbol)
	if err != nil {
		return ""
	}
	for _, leg := range legs {
		if leg.Side == side && leg.Contracts > 0 {
			return leg.LegID
		}
	}
	return ""
}

// LiquidationRisk classifies how close the nearest leg sits to liquidation.
// A venue-reported liquidation price of zero is surfaced as UNKNOWN rather
// than treated as safe.
func (m *Manager) LiquidationRisk(ctx context.Context) (domain.LiquidationRisk, error) {
	legs, err := m.ex.FetchPositions(ctx, m.symbol)
	if err != nil {
		return domain.LiquidationRisk{}, fmt.Errorf("position: fetch positions: %w", err)
	}

	risk := domain.LiquidationRisk{Level: domain.RiskNone}
	for _, leg := range legs {
		if leg.Contracts <= 0 {
			continue
		}
		price := leg.MarkPrice
		if price <= 0 {
			price = leg.EntryPrice
		}
		if leg.LiqPrice <= 0 || price <= 0 {
			if risk.Level == domain.RiskNone {
				risk = domain.LiquidationRisk{Level: domain.RiskUnknown, MarkPrice: price}
			}
			continue
		}

		dist := math.Abs(price-leg.LiqPrice) / price * 100
		level := classifyDistance(dist)
		if risk.Level == domain.RiskNone || risk.Level == domain.RiskUnknown || severity(level) > severity(risk.Level) {
			risk = domain.LiquidationRisk{
				Level:       level,
				DistancePct: dist,
				LiqPrice:    leg.LiqPrice,
				MarkPrice:   price,
			}
		}
	}
	return risk, nil
}

func classifyDistance(distPct float64) domain.RiskLevel {
	switch {
	case distPct < criticalDistancePct:
		return domain.RiskCritical
	case distPct < highDistancePct:
		return domain.RiskHigh
	case distPct < mediumDistancePct:
		return domain.RiskMedium
	}
	return domain.RiskLow
}

func severity(l domain.RiskLevel) int {
	switch l {
	case domain.RiskCritical:
		return 4
	case domain.RiskHigh:
		return 3
	case domain.RiskMedium:
		return 2
	case domain.RiskLow:
		return 1
	}
	return 0
}

// EmergencyCloseAll cancels all resting orders, then closes every raw leg
// with a reduce-only market order in the leg's closing direction. Raw legs,
// not the netted view: netting would hide a hedged leg that still needs
// closing. Per-leg failures are logged and do not block the others.
func (m *Manager) EmergencyCloseAll(ctx context.Context) error {
	if _, err := m.orders.CancelAll(ctx); err != nil {
		m.logger.ErrorContext(ctx, "cancel all before emergency close failed",
			slog.String("error", err.Error()))
	}

	legs, err := m.ex.FetchPositions(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("position: fetch positions: %w", err)
	}

	var failed int
	for _, leg := range legs {
		if leg.Contracts <= 0 {
			continue
		}
		size := m.ex.AmountToPrecision(m.symbol, leg.Contracts)
		if size <= 0 {
			continue
		}
		side := leg.Side.ClosingSide()
		if _, err := m.ex.CreateReduceOnlyMarketOrder(ctx, m.symbol, side, size, leg.LegID); err != nil {
			failed++
			m.logger.ErrorContext(ctx, "emergency close of leg failed",
				slog.String("leg_id", leg.LegID),
				slog.String("side", string(leg.Side)),
				slog.Float64("contracts", leg.Contracts),
				slog.String("error", err.Error()))
			continue
		}
		m.logger.InfoContext(ctx, "emergency closed leg",
			slog.String("leg_id", leg.LegID),
			slog.String("side", string(leg.Side)),
			slog.Float64("contracts", leg.Contracts))
	}
	if failed > 0 {
		return fmt.Errorf("position: emergency close: %d leg(s) failed", failed)
	}
	return nil
}

// RebalanceStats reports how many rebalances have run and when the last one
// finished.
func (m *Manager) RebalanceStats() (int, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebalanceCount, m.lastRebalance
}
