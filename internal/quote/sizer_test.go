package quote

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzhou42/volumebot/internal/domain"
)

// fakeVenue quantizes to 2dp prices / 1dp amounts with a 0.1 min amount and
// $5 min notional.
type fakeVenue struct{}

func (fakeVenue) AmountToPrecision(_ string, v float64) float64 {
	return math.Floor(v*10) / 10
}
func (fakeVenue) PriceToPrecision(_ string, v float64) float64 {
	return math.Floor(v*100) / 100
}
func (fakeVenue) MinAmount(string) float64   { return 0.1 }
func (fakeVenue) MinNotional(string) float64 { return 5.0 }

func TestSizeLadderNeutral(t *testing.T) {
	s := Sizer{BaseOrderUSD: 20, MaxOrderUSD: 100, BiasOverUSD: 50}
	ladder := s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		[]float64{99.5, 99.0}, []float64{100.5, 101.0}, 0, domain.Signal{Direction: domain.SignalNeutral})

	require.Len(t, ladder, 4)
	var buys, sells int
	for _, lvl := range ladder {
		assert.Greater(t, lvl.Size, 0.0)
		assert.GreaterOrEqual(t, lvl.Price*lvl.Size, 5.0*0.9) // floors respected modulo rounding
		if lvl.Side == domain.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	assert.Equal(t, 2, buys)
	assert.Equal(t, 2, sells)
}

func TestSizeLadderExposureBias(t *testing.T) {
	s := Sizer{BaseOrderUSD: 20, MaxOrderUSD: 100, BiasOverUSD: 50}

	// long exposure above the bias floor: sells sized up, buys sized down
	ladder := s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		[]float64{100}, []float64{100}, 120, domain.Signal{Direction: domain.SignalNeutral})
	require.Len(t, ladder, 2)

	var buySize, sellSize float64
	for _, lvl := range ladder {
		if lvl.Side == domain.SideBuy {
			buySize = lvl.Size
		} else {
			sellSize = lvl.Size
		}
	}
	assert.Greater(t, sellSize, buySize)

	// short exposure flips the bias
	ladder = s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		[]float64{100}, []float64{100}, -120, domain.Signal{Direction: domain.SignalNeutral})
	for _, lvl := range ladder {
		if lvl.Side == domain.SideBuy {
			buySize = lvl.Size
		} else {
			sellSize = lvl.Size
		}
	}
	assert.Greater(t, buySize, sellSize)
}

func TestSizeLadderSignalBias(t *testing.T) {
	s := Sizer{BaseOrderUSD: 20, MaxOrderUSD: 100, BiasOverUSD: 50}
	ladder := s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		[]float64{100}, []float64{100}, 0, domain.Signal{Direction: domain.SignalBullish, Confidence: 0.8})

	var buySize, sellSize float64
	for _, lvl := range ladder {
		if lvl.Side == domain.SideBuy {
			buySize = lvl.Size
		} else {
			sellSize = lvl.Size
		}
	}
	assert.Greater(t, buySize, sellSize)
}

func TestSizeLadderCapsAtMaxOrder(t *testing.T) {
	s := Sizer{BaseOrderUSD: 90, MaxOrderUSD: 100, BiasOverUSD: 50}
	// exposure and signal both inflate the sell side: 90 × 1.2 × 1.3 > 100
	ladder := s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		nil, []float64{100}, 120, domain.Signal{Direction: domain.SignalBearish, Confidence: 1})
	require.Len(t, ladder, 1)
	assert.LessOrEqual(t, ladder[0].Price*ladder[0].Size, 100.0)
}

func TestSizeLadderBumpsToVenueMinimums(t *testing.T) {
	s := Sizer{BaseOrderUSD: 1, MaxOrderUSD: 100, BiasOverUSD: 50}
	// $1 at price 100 is 0.01 contracts, below both floors; bumped up to the
	// 0.1 min amount, which also clears the $5 min notional
	ladder := s.SizeLadder(fakeVenue{}, "SOL/USDT:USDT",
		[]float64{100}, nil, 0, domain.Signal{Direction: domain.SignalNeutral})
	require.Len(t, ladder, 1)
	assert.Equal(t, 0.1, ladder[0].Size)
}
