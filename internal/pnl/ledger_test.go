package pnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzhou42/volumebot/internal/domain"
)

func fill(id string, side domain.OrderSide, price, amount, fee float64, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID:        id,
		OrderID:   "ord-" + id,
		Symbol:    "SOL/USDT:USDT",
		Side:      side,
		Price:     price,
		Amount:    amount,
		Fee:       fee,
		Timestamp: at,
	}
}

func TestEmptyLedgerQueryable(t *testing.T) {
	l := NewLedger()
	s := l.Stats()
	assert.Zero(t, s.TradeCount)
	assert.Zero(t, s.TotalVolume)
	assert.Zero(t, s.MatchedPnL)
	assert.Zero(t, s.UnmatchedValue)
	assert.Zero(t, s.EstimatedPnL)
}

func TestFIFOMatching(t *testing.T) {
	now := time.Now()
	l := NewLedger()

	added := l.Record([]domain.TradeRecord{
		fill("t1", domain.SideBuy, 100, 1.0, 0.10, now),
		fill("t2", domain.SideBuy, 105, 1.0, 0.10, now.Add(time.Second)),
		fill("t3", domain.SideSell, 110, 1.5, 0.15, now.Add(2*time.Second)),
	})
	require.Equal(t, 3, added)

	// first match: 1.0 of buy@100 vs 1.0 of the sell
	//   (110-100)×1.0 − 0.10 − 0.15×(1.0/1.5) = 10 − 0.10 − 0.10 = 9.80
	// second match: 0.5 of buy@105 vs remaining 0.5
	//   (110-105)×0.5 − 0.10×0.5 − 0.15×(0.5/1.5) = 2.5 − 0.05 − 0.05 = 2.40
	matched, _ := l.MatchedPnL().Float64()
	assert.InDelta(t, 12.20, matched, 1e-9)

	// unmatched inventory: 0.5 of the second buy at 105
	unmatched, _ := l.UnmatchedValue().Float64()
	assert.InDelta(t, -52.5, unmatched, 1e-9)

	s := l.Stats()
	assert.Equal(t, 3, s.TradeCount)
	assert.InDelta(t, 100+105+110*1.5, s.TotalVolume, 1e-9)
	assert.InDelta(t, 0.35, s.TotalFees, 1e-9)
	assert.Equal(t, s.MatchedPnL, s.EstimatedPnL, "fees charged once, inside matching")
}

func TestDuplicateFillIgnored(t *testing.T) {
	now := time.Now()
	l := NewLedger()
	f := fill("t1", domain.SideBuy, 100, 1.0, 0.10, now)

	assert.Equal(t, 1, l.Record([]domain.TradeRecord{f}))
	assert.Equal(t, 0, l.Record([]domain.TradeRecord{f}), "identical composite key skipped")
	assert.Equal(t, 1, l.Stats().TradeCount)
}

func TestCompositeKeyDistinguishesMissingIDs(t *testing.T) {
	now := time.Now()
	l := NewLedger()

	// venue omitted native IDs; differing amounts keep them distinct
	a := fill("", domain.SideBuy, 100, 1.0, 0.10, now)
	a.OrderID = ""
	b := fill("", domain.SideBuy, 100, 2.0, 0.20, now)
	b.OrderID = ""

	assert.Equal(t, 2, l.Record([]domain.TradeRecord{a, b}))
	assert.Equal(t, 2, l.Stats().TradeCount)
}

func TestIncrementalMatchingAccumulates(t *testing.T) {
	now := time.Now()
	l := NewLedger()

	l.Record([]domain.TradeRecord{fill("b1", domain.SideBuy, 100, 1.0, 0, now)})
	l.Record([]domain.TradeRecord{fill("s1", domain.SideSell, 110, 1.0, 0, now.Add(time.Second))})
	m1, _ := l.MatchedPnL().Float64()
	assert.InDelta(t, 10.0, m1, 1e-9)

	// a second round trip adds to, not replaces, the realized total
	l.Record([]domain.TradeRecord{
		fill("b2", domain.SideBuy, 100, 1.0, 0, now.Add(2*time.Second)),
		fill("s2", domain.SideSell, 105, 1.0, 0, now.Add(3*time.Second)),
	})
	m2, _ := l.MatchedPnL().Float64()
	assert.InDelta(t, 15.0, m2, 1e-9)
}

func TestSellBeforeBuyStillMatches(t *testing.T) {
	now := time.Now()
	l := NewLedger()

	l.Record([]domain.TradeRecord{fill("s1", domain.SideSell, 110, 1.0, 0, now)})
	unmatched, _ := l.UnmatchedValue().Float64()
	assert.InDelta(t, 110.0, unmatched, 1e-9, "open short inventory is positive value")

	l.Record([]domain.TradeRecord{fill("b1", domain.SideBuy, 100, 1.0, 0, now.Add(time.Second))})
	m, _ := l.MatchedPnL().Float64()
	assert.InDelta(t, 10.0, m, 1e-9)
	unmatched, _ = l.UnmatchedValue().Float64()
	assert.Zero(t, unmatched)
}
