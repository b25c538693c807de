package domain

import "time"

// BookLevel is a single price+size entry in an order book.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time view of the order book for one symbol.
// Bids are sorted descending by price, asks ascending. Either side may be
// empty when the market is thin or the fetch was partial.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 when there are no bids.
func (b OrderBookSnapshot) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when there are no asks.
func (b OrderBookSnapshot) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice returns the bid/ask midpoint, or 0 when either side is empty.
func (b OrderBookSnapshot) MidPrice() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadPct returns the current market spread as a percentage of the best
// bid, or 0 when the book is empty on either side.
func (b OrderBookSnapshot) SpreadPct() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (ask - bid) / bid * 100
}

// Crossed reports whether the snapshot is internally inconsistent
// (best bid at or above best ask). Crossed books are treated the same as
// empty ones: skip the cycle rather than quote into garbage.
func (b OrderBookSnapshot) Crossed() bool {
	bid, ask := b.BestBid(), b.BestAsk()
	return bid > 0 && ask > 0 && bid >= ask
}
