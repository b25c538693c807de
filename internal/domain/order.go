package domain

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// QuoteLevel is one target quote in a ladder: side, price and size in base
// units. A full ladder for one cycle is just []QuoteLevel; it is owned by
// that cycle and never persisted.
type QuoteLevel struct {
	Side  OrderSide
	Price float64
	Size  float64
}

// LiveOrder is the exchange's view of a resting order. The engine treats it
// as read-only and eventually consistent: it re-fetches every cycle and never
// assumes an order it placed still exists.
type LiveOrder struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Price      float64
	Size       float64
	FilledSize float64
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Kept      int
	Cancelled int
	Placed    int
	Failed    int
}
