package domain

import (
	"fmt"
	"time"
)

// TradeRecord is one fill as reported by the venue. Immutable after
// ingestion; only the ledger's remaining-amount bookkeeping changes.
type TradeRecord struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      OrderSide
	Price     float64
	Amount    float64
	Fee       float64
	Timestamp time.Time
}

// Key returns the composite dedup identity for the fill. Venues occasionally
// reuse or omit native trade IDs, so identity is the full tuple rather than
// ID alone.
func (t TradeRecord) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s|%.10f", t.ID, t.OrderID, t.Timestamp.UnixMilli(), t.Side, t.Amount)
}
