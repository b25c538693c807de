// Package quote turns an order-book snapshot into a target quote ladder:
// a spread, per-side price levels, and per-level sizes.
package quote

import "github.com/kzhou42/volumebot/internal/domain"

// Multiplier clamp bounds for ladder skew. A skew of ±1 would otherwise
// collapse one side onto the mid or push the other side arbitrarily far.
const (
	minSideMultiplier = 0.2
	maxSideMultiplier = 3.0
)

// PlanSpread computes the spread percentage to quote at. It targets a
// fraction of the current market spread (base 0.6, widened by up to 0.2 with
// volatility, capped at 0.9) and clamps the result to [minPct, maxPct].
// An empty book or zero market spread yields minPct.
func PlanSpread(book domain.OrderBookSnapshot, minPct, maxPct, volatility float64) float64 {
	market := book.SpreadPct()
	if market <= 0 {
		return minPct
	}

	frac := 0.6 + 0.2*volatility
	if frac > 0.9 {
		frac = 0.9
	}

	spread := market * frac
	if spread < minPct {
		spread = minPct
	}
	if spread > maxPct {
		spread = maxPct
	}
	return spread
}

// PlanLevels builds numOrders price levels per side around the mid price.
// skew in [-1,1] biases the ladder: positive tightens buys and widens sells,
// negative the reverse. Level i sits at step (i+0.5)/numOrders of the skewed
// half-spread, so levels diverge evenly in relative terms, closest first.
// A zero mid price (empty book) returns empty slices; callers skip the cycle.
func PlanLevels(book domain.OrderBookSnapshot, numOrders int, spreadPct, skew float64) (buys, sells []float64) {
	mid := book.MidPrice()
	if mid <= 0 || numOrders < 1 {
		return nil, nil
	}

	buyMult := clampMultiplier(1 - skew)
	sellMult := clampMultiplier(1 + skew)
	spreadDec := spreadPct / 100

	buys = make([]float64, numOrders)
	sells = make([]float64, numOrders)
	for i := 0; i < numOrders; i++ {
		step := (float64(i) + 0.5) / float64(numOrders)
		buys[i] = mid * (1 - spreadDec*buyMult*step)
		sells[i] = mid * (1 + spreadDec*sellMult*step)
	}
	return buys, sells
}

func clampMultiplier(m float64) float64 {
	if m < minSideMultiplier {
		return minSideMultiplier
	}
	if m > maxSideMultiplier {
		return maxSideMultiplier
	}
	return m
}

// Imbalance measures bid-vs-ask notional over the top depth levels.
// Ratio is bid notional over total; the direction flips to bullish or bearish
// when the ratio deviates more than 20 points from an even book.
type Imbalance struct {
	Ratio     float64 // bid notional / total notional, [0,1]
	Pct       float64 // deviation from 50/50 in percent, signed
	Direction domain.SignalDirection
}

// BookImbalance computes the order-book imbalance over the top depth levels
// on each side. Returns a neutral zero value when either side is empty.
func BookImbalance(book domain.OrderBookSnapshot, depth int) Imbalance {
	bidNotional := sideNotional(book.Bids, depth)
	askNotional := sideNotional(book.Asks, depth)
	total := bidNotional + askNotional
	if total <= 0 {
		return Imbalance{Ratio: 0.5, Direction: domain.SignalNeutral}
	}

	ratio := bidNotional / total
	pct := (ratio - 0.5) * 100

	dir := domain.SignalNeutral
	switch {
	case pct > 20:
		dir = domain.SignalBullish
	case pct < -20:
		dir = domain.SignalBearish
	}
	return Imbalance{Ratio: ratio, Pct: pct, Direction: dir}
}

// DepthPressure returns the normalized bid-minus-ask size over the top levels,
// in [-1,1]. Positive means more resting size on the bid side.
func DepthPressure(book domain.OrderBookSnapshot, levels int) float64 {
	bidSize := sideSize(book.Bids, levels)
	askSize := sideSize(book.Asks, levels)
	total := bidSize + askSize
	if total <= 0 {
		return 0
	}
	return (bidSize - askSize) / total
}

func sideNotional(side []domain.BookLevel, depth int) float64 {
	var total float64
	for i, lvl := range side {
		if i >= depth {
			break
		}
		total += lvl.Price * lvl.Size
	}
	return total
}

func sideSize(side []domain.BookLevel, depth int) float64 {
	var total float64
	for i, lvl := range side {
		if i >= depth {
			break
		}
		total += lvl.Size
	}
	return total
}
