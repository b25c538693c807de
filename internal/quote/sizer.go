package quote

import "github.com/kzhou42/volumebot/internal/domain"

// Venue is the quantization subset of the exchange contract the sizer needs.
type Venue interface {
	AmountToPrecision(symbol string, value float64) float64
	PriceToPrecision(symbol string, value float64) float64
	MinAmount(symbol string) float64
	MinNotional(symbol string) float64
}

// Sizer converts planned price levels into sized quote levels, biased by
// current exposure and the external signal, then quantized to venue minimums.
type Sizer struct {
	BaseOrderUSD float64
	MaxOrderUSD  float64
	BiasOverUSD  float64 // net exposure above this triggers size biasing
}

// Bias multipliers. Exposure bias leans sizes toward reducing the position;
// signal bias leans toward the expected direction.
const (
	exposureBiasUp   = 1.2
	exposureBiasDown = 0.8
	signalBiasUp     = 1.3
	signalBiasDown   = 0.7
)

// SizeLadder produces the target ladder for one cycle from planned buy/sell
// prices. Sizes start at BaseOrderUSD and are biased by the signed net
// exposure (long inventory grows sells and shrinks buys, and vice versa) and
// by a non-neutral signal. Each level is quantized through the exchange's
// precision rules, bumping sizes up to the venue's minimum amount and
// notional.
func (s Sizer) SizeLadder(ex Venue, symbol string, buys, sells []float64, netExposureUSD float64, sig domain.Signal) []domain.QuoteLevel {
	buyUSD, sellUSD := s.BaseOrderUSD, s.BaseOrderUSD

	if netExposureUSD > s.BiasOverUSD {
		// long: work off inventory
		sellUSD *= exposureBiasUp
		buyUSD *= exposureBiasDown
	} else if netExposureUSD < -s.BiasOverUSD {
		buyUSD *= exposureBiasUp
		sellUSD *= exposureBiasDown
	}

	switch sig.Direction {
	case domain.SignalBullish:
		buyUSD *= signalBiasUp
		sellUSD *= signalBiasDown
	case domain.SignalBearish:
		sellUSD *= signalBiasUp
		buyUSD *= signalBiasDown
	}

	if buyUSD > s.MaxOrderUSD {
		buyUSD = s.MaxOrderUSD
	}
	if sellUSD > s.MaxOrderUSD {
		sellUSD = s.MaxOrderUSD
	}

	ladder := make([]domain.QuoteLevel, 0, len(buys)+len(sells))
	for _, px := range buys {
		if lvl, ok := quantize(ex, symbol, domain.SideBuy, px, buyUSD); ok {
			ladder = append(ladder, lvl)
		}
	}
	for _, px := range sells {
		if lvl, ok := quantize(ex, symbol, domain.SideSell, px, sellUSD); ok {
			ladder = append(ladder, lvl)
		}
	}
	return ladder
}

// quantize converts a USD notional at a price into a venue-precise quote
// level, bumping the size up to the venue's minimum amount and minimum
// notional when needed.
func quantize(ex Venue, symbol string, side domain.OrderSide, price, usd float64) (domain.QuoteLevel, bool) {
	if price <= 0 || usd <= 0 {
		return domain.QuoteLevel{}, false
	}

	px := ex.PriceToPrecision(symbol, price)
	if px <= 0 {
		return domain.QuoteLevel{}, false
	}

	size := usd / px
	if min := ex.MinAmount(symbol); size < min {
		size = min
	}
	if minNtl := ex.MinNotional(symbol); px*size < minNtl {
		size = minNtl / px
	}
	size = ex.AmountToPrecision(symbol, size)
	if size <= 0 {
		return domain.QuoteLevel{}, false
	}
	return domain.QuoteLevel{Side: side, Price: px, Size: size}, true
}
