// Package pnl maintains a session ledger of trade fills: deduplicated
// ingestion, FIFO lot matching for realized PnL, and unmatched inventory
// value. Accounting is done in decimals; float64 only crosses the boundary
// in snapshots.
package pnl

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kzhou42/volumebot/internal/domain"
)

// lot is one fill plus the quantity not yet consumed by matching.
type lot struct {
	price     decimal.Decimal
	amount    decimal.Decimal
	fee       decimal.Decimal
	remaining decimal.Decimal
}

// feeShare returns the slice of the lot's fee proportional to qty.
func (l *lot) feeShare(qty decimal.Decimal) decimal.Decimal {
	if l.amount.IsZero() {
		return decimal.Zero
	}
	return l.fee.Mul(qty).Div(l.amount)
}

// Ledger accumulates fills for one session. The control loop is the only
// writer; the mutex exists because snapshots are read from the status server.
type Ledger struct {
	mu sync.Mutex

	seen  map[string]struct{}
	buys  []*lot
	sells []*lot

	// matching cursors: lots before these indexes are fully consumed
	buyIdx  int
	sellIdx int

	realized    decimal.Decimal
	totalVolume decimal.Decimal
	totalFees   decimal.Decimal
	tradeCount  int
}

// NewLedger returns an empty ledger. It is queryable immediately and reports
// all-zero metrics until fills arrive.
func NewLedger() *Ledger {
	return &Ledger{seen: map[string]struct{}{}}
}

// Record ingests fills, skipping any whose composite key has been seen
// before. Exchange trade feeds repeat and occasionally omit native IDs, so
// identity is the full (id, order, time, side, amount) tuple. Returns the
// number of fills actually ingested.
func (l *Ledger) Record(trades []domain.TradeRecord) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var added int
	for _, t := range trades {
		key := t.Key()
		if _, dup := l.seen[key]; dup {
			continue
		}
		l.seen[key] = struct{}{}

		amount := decimal.NewFromFloat(t.Amount)
		price := decimal.NewFromFloat(t.Price)
		entry := &lot{
			price:     price,
			amount:    amount,
			fee:       decimal.NewFromFloat(t.Fee),
			remaining: amount,
		}
		if t.Side == domain.SideBuy {
			l.buys = append(l.buys, entry)
		} else {
			l.sells = append(l.sells, entry)
		}

		l.tradeCount++
		l.totalVolume = l.totalVolume.Add(price.Mul(amount))
		l.totalFees = l.totalFees.Add(entry.fee)
		added++
	}

	if added > 0 {
		l.match()
	}
	return added
}

// match runs FIFO lot matching over the unconsumed portions of both queues:
// oldest buy against oldest sell, quantity the smaller remainder, profit
// (sellPrice − buyPrice) × qty minus each side's proportional fee share.
// Fees are charged here, exactly once per matched quantity; no aggregate
// fee subtraction happens elsewhere.
func (l *Ledger) match() {
	for l.buyIdx < len(l.buys) && l.sellIdx < len(l.sells) {
		buy, sell := l.buys[l.buyIdx], l.sells[l.sellIdx]
		if buy.remaining.IsZero() {
			l.buyIdx++
			continue
		}
		if sell.remaining.IsZero() {
			l.sellIdx++
			continue
		}

		qty := decimal.Min(buy.remaining, sell.remaining)
		gross := sell.price.Sub(buy.price).Mul(qty)
		net := gross.Sub(buy.feeShare(qty)).Sub(sell.feeShare(qty))
		l.realized = l.realized.Add(net)

		buy.remaining = buy.remaining.Sub(qty)
		sell.remaining = sell.remaining.Sub(qty)
	}
}

// MatchedPnL returns the cumulative realized PnL, fees included.
func (l *Ledger) MatchedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// UnmatchedValue returns the signed notional of still-open inventory implied
// by fills alone: sell remainders minus buy remainders at their fill prices.
// Useful as a cross-check against the exchange's own position notional.
func (l *Ledger) UnmatchedValue() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unmatchedValueLocked()
}

func (l *Ledger) unmatchedValueLocked() decimal.Decimal {
	v := decimal.Zero
	for _, s := range l.sells[l.sellIdx:] {
		v = v.Add(s.price.Mul(s.remaining))
	}
	for _, b := range l.buys[l.buyIdx:] {
		v = v.Sub(b.price.Mul(b.remaining))
	}
	return v
}

// Snapshot is the ledger's externally visible state.
type Snapshot struct {
	TotalVolume    float64 `json:"total_volume"`
	TradeCount     int     `json:"trade_count"`
	TotalFees      float64 `json:"total_fees"`
	MatchedPnL     float64 `json:"matched_pnl"`
	UnmatchedValue float64 `json:"unmatched_value"`
	EstimatedPnL   float64 `json:"estimated_pnl"`
}

// Stats returns the current snapshot. Fees are already inside MatchedPnL, so
// EstimatedPnL equals MatchedPnL rather than subtracting fees a second time.
func (l *Ledger) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched, _ := l.realized.Float64()
	volume, _ := l.totalVolume.Float64()
	fees, _ := l.totalFees.Float64()
	unmatched, _ := l.unmatchedValueLocked().Float64()

	return Snapshot{
		TotalVolume:    volume,
		TradeCount:     l.tradeCount,
		TotalFees:      fees,
		MatchedPnL:     matched,
		UnmatchedValue: unmatched,
		EstimatedPnL:   matched,
	}
}
