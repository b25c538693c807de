// Package paper is an in-memory exchange used for dry runs and engine tests.
// It keeps a seeded order book, resting orders, hedge-mode position legs and
// a fill history behind the same contract as a live venue adapter.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kzhou42/volumebot/internal/domain"
)

const takerFeeRate = 0.0006 // 6 bps, typical perp taker fee

// Exchange simulates a hedge-mode derivatives venue for one or more symbols.
type Exchange struct {
	mu sync.Mutex

	books  map[string]domain.OrderBookSnapshot
	orders map[string]domain.LiveOrder
	legs   map[string]map[domain.PositionSide]*domain.PositionLeg
	trades map[string][]domain.TradeRecord

	priceTick float64
	sizeStep  float64
	minAmount float64
	minNotl   float64
	leverage  map[string]int
	balance   domain.MarginInfo
}

// New returns a paper exchange with SOL-perp-like precision rules and a
// seeded USDT balance.
func New() *Exchange {
	return &Exchange{
		books:     map[string]domain.OrderBookSnapshot{},
		orders:    map[string]domain.LiveOrder{},
		legs:      map[string]map[domain.PositionSide]*domain.PositionLeg{},
		trades:    map[string][]domain.TradeRecord{},
		priceTick: 0.01,
		sizeStep:  0.01,
		minAmount: 0.01,
		minNotl:   5.0,
		leverage:  map[string]int{},
		balance:   domain.MarginInfo{Currency: "USDT", Total: 10_000, Available: 10_000},
	}
}

// SeedBook installs an order book snapshot for symbol. Market orders fill
// against its touch prices.
func (e *Exchange) SeedBook(symbol string, bids, asks []domain.BookLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[symbol] = domain.OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}
}

// SeedLeg installs a raw position leg, replacing any existing leg on the
// same side.
func (e *Exchange) SeedLeg(leg domain.PositionLeg) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.legs[leg.Symbol] == nil {
		e.legs[leg.Symbol] = map[domain.PositionSide]*domain.PositionLeg{}
	}
	cp := leg
	e.legs[leg.Symbol][leg.Side] = &cp
}

func (e *Exchange) FetchOrderBook(_ context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("paper: no book for %s: %w", symbol, domain.ErrInsufficientData)
	}
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

func (e *Exchange) FetchOpenOrders(_ context.Context, symbol string) ([]domain.LiveOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.LiveOrder
	for _, o := range e.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e *Exchange) PlaceLimitOrder(_ context.Context, symbol string, side domain.OrderSide, price, size float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price = e.quantize(price, e.priceTick)
	size = e.quantize(size, e.sizeStep)
	if price <= 0 || size < e.minAmount || price*size < e.minNotl {
		return "", fmt.Errorf("paper: price=%v size=%v below venue floors: %w", price, size, domain.ErrOrderRejected)
	}

	id := uuid.NewString()
	e.orders[id] = domain.LiveOrder{ID: id, Symbol: symbol, Side: side, Price: price, Size: size}
	return id, nil
}

func (e *Exchange) CancelOrder(_ context.Context, _, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[id]; !ok {
		return fmt.Errorf("paper: order %s: %w", id, domain.ErrNotFound)
	}
	delete(e.orders, id)
	return nil
}

// CancelOrders is the bulk-cancel capability. Unknown IDs are ignored, as
// venues with batch endpoints do.
func (e *Exchange) CancelOrders(_ context.Context, _ string, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.orders, id)
	}
	return nil
}

func (e *Exchange) FetchPositions(_ context.Context, symbol string) ([]domain.PositionLeg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.PositionLeg
	for _, leg := range e.legs[symbol] {
		if leg.Contracts > 0 {
			out = append(out, *leg)
		}
	}
	return out, nil
}

// CreateReduceOnlyMarketOrder fills immediately at the book's touch and
// shrinks the targeted leg. A closing direction that does not reduce any leg
// is rejected with ErrSideMismatch, mirroring hedge-mode venues.
func (e *Exchange) CreateReduceOnlyMarketOrder(_ context.Context, symbol string, side domain.OrderSide, size float64, legID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	size = e.quantize(size, e.sizeStep)
	if size <= 0 {
		return "", fmt.Errorf("paper: zero reduce size: %w", domain.ErrOrderRejected)
	}

	// a sell reduces the long leg, a buy reduces the short leg
	target := domain.PositionLong
	if side == domain.SideBuy {
		target = domain.PositionShort
	}

	leg := e.findLeg(symbol, target, legID)
	if leg == nil || leg.Contracts <= 0 {
		return "", fmt.Errorf("paper: no %s leg to reduce: %w", target, domain.ErrSideMismatch)
	}

	price := e.fillPrice(symbol, side)
	if price <= 0 {
		return "", fmt.Errorf("paper: no book for %s: %w", symbol, domain.ErrInsufficientData)
	}

	filled := math.Min(size, leg.Contracts)
	leg.Contracts -= filled

	id := uuid.NewString()
	e.recordFill(symbol, id, side, price, filled)
	return id, nil
}

func (e *Exchange) FetchMyTrades(_ context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	trades := e.trades[symbol]
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]domain.TradeRecord, len(trades))
	copy(out, trades)
	return out, nil
}

func (e *Exchange) AmountToPrecision(_ string, value float64) float64 {
	return e.quantize(value, e.sizeStep)
}

func (e *Exchange) PriceToPrecision(_ string, value float64) float64 {
	return e.quantize(value, e.priceTick)
}

func (e *Exchange) MinAmount(string) float64   { return e.minAmount }
func (e *Exchange) MinNotional(string) float64 { return e.minNotl }

func (e *Exchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if leverage < 1 {
		return fmt.Errorf("paper: leverage %d: %w", leverage, domain.ErrOrderRejected)
	}
	e.leverage[symbol] = leverage
	return nil
}

func (e *Exchange) FetchBalance(context.Context) (domain.MarginInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// FillOrder simulates the market trading through a resting order: the order
// is removed, a fill is recorded and the matching position leg grows. Tests
// and dry runs drive fills explicitly with this.
func (e *Exchange) FillOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", id, domain.ErrNotFound)
	}
	delete(e.orders, id)

	side := domain.PositionLong
	if o.Side == domain.SideSell {
		side = domain.PositionShort
	}
	leg := e.findLeg(o.Symbol, side, "")
	if leg == nil {
		if e.legs[o.Symbol] == nil {
			e.legs[o.Symbol] = map[domain.PositionSide]*domain.PositionLeg{}
		}
		leg = &domain.PositionLeg{Symbol: o.Symbol, Side: side, LegID: string(side)}
		e.legs[o.Symbol][side] = leg
	}

	// weighted entry over the grown leg
	total := leg.Contracts + o.Size
	if total > 0 {
		leg.EntryPrice = (leg.EntryPrice*leg.Contracts + o.Price*o.Size) / total
	}
	leg.Contracts = total
	leg.MarkPrice = o.Price

	e.recordFill(o.Symbol, o.ID, o.Side, o.Price, o.Size)
	return nil
}

func (e *Exchange) findLeg(symbol string, side domain.PositionSide, legID string) *domain.PositionLeg {
	for _, leg := range e.legs[symbol] {
		if legID != "" && leg.LegID == legID {
			return leg
		}
		if legID == "" && leg.Side == side {
			return leg
		}
	}
	return nil
}

func (e *Exchange) fillPrice(symbol string, side domain.OrderSide) float64 {
	book := e.books[symbol]
	if side == domain.SideBuy {
		return book.BestAsk()
	}
	return book.BestBid()
}

func (e *Exchange) recordFill(symbol, orderID string, side domain.OrderSide, price, size float64) {
	e.trades[symbol] = append(e.trades[symbol], domain.TradeRecord{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    size,
		Fee:       price * size * takerFeeRate,
		Timestamp: time.Now(),
	})
}

func (e *Exchange) quantize(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+1e-9) * step
}
