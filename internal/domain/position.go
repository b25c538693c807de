package domain

// PositionSide labels the direction of a position or leg.
type PositionSide string

const (
	PositionLong    PositionSide = "long"
	PositionShort   PositionSide = "short"
	PositionNeutral PositionSide = "neutral"
)

// ClosingSide returns the order side that reduces a position on this side.
func (p PositionSide) ClosingSide() OrderSide {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// PositionLeg is one raw position entry as reported by the venue. In hedge
// mode a symbol may carry one long and one short leg at the same time.
// Contracts is a magnitude; direction lives in Side, never in a sign.
type PositionLeg struct {
	Symbol        string
	Side          PositionSide
	Contracts     float64
	EntryPrice    float64
	MarkPrice     float64
	LiqPrice      float64
	UnrealizedPnL float64
	MarginUsed    float64
	LegID         string
}

// NotionalUSD returns the leg's notional at its mark price, falling back to
// entry price when the venue omits a mark.
func (l PositionLeg) NotionalUSD() float64 {
	px := l.MarkPrice
	if px <= 0 {
		px = l.EntryPrice
	}
	return l.Contracts * px
}

// NetPosition is the aggregated view over all legs for one symbol. It is
// recomputed on every query, never mutated in place.
type NetPosition struct {
	Symbol           string
	NetContracts     float64
	Side             PositionSide
	AvgEntryPrice    float64
	NotionalUSD      float64
	LongValueUSD     float64
	ShortValueUSD    float64
	GrossExposureUSD float64
	UnrealizedPnL    float64
	MarginUsed       float64
}

// IsFlat reports whether there is no meaningful exposure in either direction.
func (p NetPosition) IsFlat() bool {
	return p.GrossExposureUSD == 0
}

// RiskLevel classifies liquidation proximity.
type RiskLevel string

const (
	RiskNone     RiskLevel = "NONE"     // no position
	RiskUnknown  RiskLevel = "UNKNOWN"  // venue reported no liquidation price
	RiskLow      RiskLevel = "LOW"      // >= 20% away
	RiskMedium   RiskLevel = "MEDIUM"   // < 20%
	RiskHigh     RiskLevel = "HIGH"     // < 10%
	RiskCritical RiskLevel = "CRITICAL" // < 5%
)

// LiquidationRisk is the distance from the current price to the nearest
// liquidation price, expressed as a percentage of the current price.
type LiquidationRisk struct {
	Level       RiskLevel
	DistancePct float64
	LiqPrice    float64
	MarkPrice   float64
}

// MarginInfo is the account margin summary surfaced on the status endpoint.
type MarginInfo struct {
	Currency  string
	Total     float64
	Available float64
	Used      float64
}
