package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzhou42/volumebot/internal/domain"
)

func book(bids, asks []domain.BookLevel) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{Symbol: "SOL/USDT:USDT", Bids: bids, Asks: asks}
}

func TestPlanSpreadWithinBounds(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 100, Size: 10}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	// market spread is 1%; for a range of volatilities the result stays clamped
	for _, vol := range []float64{0, 0.3, 1.0, 2.5} {
		got := PlanSpread(b, 0.05, 0.50, vol)
		assert.GreaterOrEqual(t, got, 0.05, "vol=%v", vol)
		assert.LessOrEqual(t, got, 0.50, "vol=%v", vol)
	}
}

func TestPlanSpreadTargetsFractionOfMarket(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 100, Size: 10}},
		[]domain.BookLevel{{Price: 100.2, Size: 10}},
	)
	// market spread 0.2%; zero volatility → 0.6 fraction → 0.12%
	got := PlanSpread(b, 0.05, 0.50, 0)
	assert.InDelta(t, 0.12, got, 1e-9)

	// high volatility caps the fraction at 0.9 → 0.18%
	got = PlanSpread(b, 0.05, 0.50, 5.0)
	assert.InDelta(t, 0.18, got, 1e-9)
}

func TestPlanSpreadEmptyBook(t *testing.T) {
	assert.Equal(t, 0.05, PlanSpread(domain.OrderBookSnapshot{}, 0.05, 0.50, 0.2))

	// zero market spread behaves like an empty book
	b := book(
		[]domain.BookLevel{{Price: 100, Size: 1}},
		[]domain.BookLevel{{Price: 100, Size: 1}},
	)
	assert.Equal(t, 0.05, PlanSpread(b, 0.05, 0.50, 0.2))
}

func TestPlanLevelsDivergeFromMid(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 99, Size: 10}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	mid := b.MidPrice()
	require.Equal(t, 100.0, mid)

	buys, sells := PlanLevels(b, 4, 0.4, 0)
	require.Len(t, buys, 4)
	require.Len(t, sells, 4)

	for i := range buys {
		assert.Less(t, buys[i], mid, "buy level %d below mid", i)
		assert.Greater(t, sells[i], mid, "sell level %d above mid", i)
		if i > 0 {
			assert.Less(t, buys[i], buys[i-1], "buys diverge")
			assert.Greater(t, sells[i], sells[i-1], "sells diverge")
		}
	}
}

func TestPlanLevelsZeroSkewIsSymmetric(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 99, Size: 10}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	buys, sells := PlanLevels(b, 3, 0.4, 0)
	mid := b.MidPrice()
	for i := range buys {
		assert.InDelta(t, mid-buys[i], sells[i]-mid, 1e-9, "level %d symmetric", i)
	}
}

func TestPlanLevelsSkewClamped(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 99, Size: 10}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	mid := b.MidPrice()
	spread := 0.4

	// full bullish skew: buy multiplier floors at 0.2, sell caps at 3.0 (here 2.0 uncapped)
	buys, sells := PlanLevels(b, 1, spread, 1)
	step := 0.5
	dec := spread / 100
	assert.InDelta(t, mid*(1-dec*0.2*step), buys[0], 1e-9)
	assert.InDelta(t, mid*(1+dec*2.0*step), sells[0], 1e-9)

	// an out-of-range skew still cannot push the sell multiplier past 3.0
	_, sells = PlanLevels(b, 1, spread, 2.5)
	assert.InDelta(t, mid*(1+dec*3.0*step), sells[0], 1e-9)
}

func TestPlanLevelsEmptyBook(t *testing.T) {
	buys, sells := PlanLevels(domain.OrderBookSnapshot{}, 3, 0.4, 0)
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}

func TestBookImbalance(t *testing.T) {
	// heavy bids → bullish
	b := book(
		[]domain.BookLevel{{Price: 100, Size: 80}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	imb := BookImbalance(b, 10)
	assert.Equal(t, domain.SignalBullish, imb.Direction)
	assert.Greater(t, imb.Pct, 20.0)

	// heavy asks → bearish
	b = book(
		[]domain.BookLevel{{Price: 100, Size: 10}},
		[]domain.BookLevel{{Price: 101, Size: 80}},
	)
	imb = BookImbalance(b, 10)
	assert.Equal(t, domain.SignalBearish, imb.Direction)

	// balanced → neutral
	b = book(
		[]domain.BookLevel{{Price: 100, Size: 50}},
		[]domain.BookLevel{{Price: 100.5, Size: 50}},
	)
	imb = BookImbalance(b, 10)
	assert.Equal(t, domain.SignalNeutral, imb.Direction)

	// empty book → neutral, even ratio
	imb = BookImbalance(domain.OrderBookSnapshot{}, 10)
	assert.Equal(t, domain.SignalNeutral, imb.Direction)
	assert.Equal(t, 0.5, imb.Ratio)
}

func TestDepthPressure(t *testing.T) {
	b := book(
		[]domain.BookLevel{{Price: 100, Size: 30}},
		[]domain.BookLevel{{Price: 101, Size: 10}},
	)
	assert.InDelta(t, 0.5, DepthPressure(b, 5), 1e-9)

	assert.Equal(t, 0.0, DepthPressure(domain.OrderBookSnapshot{}, 5))

	// pressure is bounded
	b = book([]domain.BookLevel{{Price: 100, Size: 100}}, nil)
	assert.Equal(t, 1.0, DepthPressure(b, 5))
}
