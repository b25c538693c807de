package domain

import "context"

// Exchange is the venue capability set the engine runs against. Wire-level
// request formats, signing and authentication live behind implementations;
// the engine only sees this contract.
type Exchange interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBookSnapshot, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]LiveOrder, error)

	// PlaceLimitOrder fails with ErrOrderRejected on invalid size, price or
	// margin; such failures must not be retried with the same parameters.
	PlaceLimitOrder(ctx context.Context, symbol string, side OrderSide, price, size float64) (string, error)

	// CancelOrder returns ErrNotFound when the order is already gone, which
	// callers treat as success.
	CancelOrder(ctx context.Context, symbol, id string) error

	FetchPositions(ctx context.Context, symbol string) ([]PositionLeg, error)

	// CreateReduceOnlyMarketOrder closes part of an existing position. legID
	// targets a specific hedge-mode leg and may be empty in netting mode.
	// Returns ErrSideMismatch when the venue rejects the closing direction.
	CreateReduceOnlyMarketOrder(ctx context.Context, symbol string, side OrderSide, size float64, legID string) (string, error)

	FetchMyTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)

	// Venue quantization rules. All prices and sizes are re-quantized through
	// these immediately before submission.
	AmountToPrecision(symbol string, value float64) float64
	PriceToPrecision(symbol string, value float64) float64
	MinAmount(symbol string) float64
	MinNotional(symbol string) float64

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	FetchBalance(ctx context.Context) (MarginInfo, error)
}

// BulkCanceler is an optional exchange capability. Implementations that can
// cancel several orders in one request expose it; the reconciler checks for
// it once at construction and falls back to per-order cancels otherwise.
type BulkCanceler interface {
	CancelOrders(ctx context.Context, symbol string, ids []string) error
}
