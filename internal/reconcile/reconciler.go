// Package reconcile diffs a target quote ladder against live resting orders
// and issues the minimal set of cancel and place operations.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kzhou42/volumebot/internal/domain"
)

const (
	defaultBatchSize    = 5
	defaultBatchDelay   = 500 * time.Millisecond
	defaultCancelChunk  = 10
	placeAttempts       = 3
	cancelAttempts      = 2
	defaultRetryBackoff = 300 * time.Millisecond
)

// Reconciler owns the cancel/place cycle for one symbol. It never caches
// live orders across cycles; every call re-fetches from the exchange.
type Reconciler struct {
	ex     domain.Exchange
	bulk   domain.BulkCanceler // nil when the venue has no bulk cancel
	symbol string

	tolerancePct float64
	batchSize    int
	batchDelay   time.Duration
	cancelChunk  int
	retryBackoff time.Duration

	logger *slog.Logger
}

// New builds a Reconciler for symbol. The bulk-cancel capability is probed
// once here; venues without it get per-order cancellation.
func New(ex domain.Exchange, symbol string, tolerancePct float64, logger *slog.Logger) *Reconciler {
	bulk, _ := ex.(domain.BulkCanceler)
	return &Reconciler{
		ex:           ex,
		bulk:         bulk,
		symbol:       symbol,
		tolerancePct: tolerancePct,
		batchSize:    defaultBatchSize,
		batchDelay:   defaultBatchDelay,
		cancelChunk:  defaultCancelChunk,
		retryBackoff: defaultRetryBackoff,
		logger:       logger.With(slog.String("component", "reconciler"), slog.String("symbol", symbol)),
	}
}

// Reconcile fetches live orders and converges them toward target. Orders
// whose price already sits within tolerance of a same-side target level are
// left untouched to preserve queue priority; everything else is cancelled and
// the unmatched target levels are placed in throttled batches.
//
// Crowd control: when live orders exceed twice the target count, a prior
// cycle's cancels have likely stuck. All live orders are cancelled and
// nothing is placed this cycle.
func (r *Reconciler) Reconcile(ctx context.Context, target []domain.QuoteLevel) (domain.ReconcileStats, error) {
	var stats domain.ReconcileStats

	live, err := r.ex.FetchOpenOrders(ctx, r.symbol)
	if err != nil {
		return stats, fmt.Errorf("reconcile: fetch open orders: %w", err)
	}

	if len(live) > 2*len(target) && len(live) > 0 {
		r.logger.WarnContext(ctx, "order accumulation detected, cancelling all",
			slog.Int("live", len(live)), slog.Int("target", len(target)))
		stats.Cancelled = r.cancelOrders(ctx, orderIDs(live))
		return stats, nil
	}

	matched := make([]bool, len(target))
	var toCancel []string
	for _, o := range live {
		idx := r.matchTarget(o, target, matched)
		if idx < 0 {
			toCancel = append(toCancel, o.ID)
			continue
		}
		matched[idx] = true
		stats.Kept++
	}

	// Cancels settle before placements so the intended order count is not
	// exceeded; the crowd-control guard covers the cases where they don't.
	stats.Cancelled = r.cancelOrders(ctx, toCancel)

	var toPlace []domain.QuoteLevel
	for i, lvl := range target {
		if !matched[i] {
			toPlace = append(toPlace, lvl)
		}
	}
	stats.Placed, stats.Failed = r.placeBatched(ctx, toPlace)

	r.logger.DebugContext(ctx, "reconcile cycle done",
		slog.Int("kept", stats.Kept),
		slog.Int("cancelled", stats.Cancelled),
		slog.Int("placed", stats.Placed),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// CancelAll cancels every resting order for the symbol. Used before
// rebalancing and at shutdown.
func (r *Reconciler) CancelAll(ctx context.Context) (int, error) {
	live, err := r.ex.FetchOpenOrders(ctx, r.symbol)
	if err != nil {
		return 0, fmt.Errorf("reconcile: fetch open orders: %w", err)
	}
	if len(live) == 0 {
		return 0, nil
	}
	return r.cancelOrders(ctx, orderIDs(live)), nil
}

// matchTarget returns the index of an unmatched same-side target level within
// price tolerance of the live order, or -1.
func (r *Reconciler) matchTarget(o domain.LiveOrder, target []domain.QuoteLevel, matched []bool) int {
	for i, lvl := range target {
		if matched[i] || lvl.Side != o.Side || o.Price <= 0 {
			continue
		}
		if math.Abs(o.Price-lvl.Price)/o.Price < r.tolerancePct {
			return i
		}
	}
	return -1
}

// cancelOrders cancels ids, preferring the bulk capability in chunks and
// falling back to concurrent per-order cancels chunk by chunk. A failed
// chunk never aborts the remaining chunks. Returns the number of orders
// believed cancelled.
func (r *Reconciler) cancelOrders(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	var cancelled int
	for start := 0; start < len(ids); start += r.cancelChunk {
		end := start + r.cancelChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		if r.bulk != nil {
			if err := r.bulk.CancelOrders(ctx, r.symbol, chunk); err == nil {
				cancelled += len(chunk)
				continue
			} else {
				r.logger.WarnContext(ctx, "bulk cancel failed, falling back to single cancels",
					slog.Int("chunk", len(chunk)), slog.String("error", err.Error()))
			}
		}
		cancelled += r.cancelSingles(ctx, chunk)
	}
	return cancelled
}

// cancelSingles issues concurrent per-order cancels and awaits them all.
func (r *Reconciler) cancelSingles(ctx context.Context, ids []string) int {
	var (
		mu        sync.Mutex
		cancelled int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.cancelWithRetry(gctx, id); err != nil {
				r.logger.WarnContext(gctx, "cancel abandoned for this cycle",
					slog.String("order_id", id), slog.String("error", err.Error()))
				return nil // isolated: siblings keep going
			}
			mu.Lock()
			cancelled++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return cancelled
}

// placeBatched submits levels in batches of batchSize, concurrently within a
// batch, sleeping batchDelay between batches for rate-limit headroom.
func (r *Reconciler) placeBatched(ctx context.Context, levels []domain.QuoteLevel) (placed, failed int) {
	var mu sync.Mutex
	for start := 0; start < len(levels); start += r.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				failed += len(levels) - start
				return placed, failed
			case <-time.After(r.batchDelay):
			}
		}

		end := start + r.batchSize
		if end > len(levels) {
			end = len(levels)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, lvl := range levels[start:end] {
			g.Go(func() error {
				if err := r.placeWithRetry(gctx, lvl); err != nil {
					r.logger.WarnContext(gctx, "placement failed",
						slog.String("side", string(lvl.Side)),
						slog.Float64("price", lvl.Price),
						slog.Float64("size", lvl.Size),
						slog.String("error", err.Error()))
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				placed++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}
	return placed, failed
}

// placeWithRetry re-quantizes immediately before submission and retries
// transient failures. Rejections are deterministic and not retried.
func (r *Reconciler) placeWithRetry(ctx context.Context, lvl domain.QuoteLevel) error {
	price := r.ex.PriceToPrecision(r.symbol, lvl.Price)
	size := r.ex.AmountToPrecision(r.symbol, lvl.Size)
	if price <= 0 || size <= 0 {
		return fmt.Errorf("reconcile: level quantized to zero: %w", domain.ErrOrderRejected)
	}

	var err error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		_, err = r.ex.PlaceLimitOrder(ctx, r.symbol, lvl.Side, price, size)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return fmt.Errorf("reconcile: place order: %w", err)
		}
		if attempt < placeAttempts {
			if serr := sleep(ctx, time.Duration(attempt)*r.retryBackoff); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("reconcile: place order after %d attempts: %w", placeAttempts, err)
}

// cancelWithRetry treats ErrNotFound as success: the order is already gone.
func (r *Reconciler) cancelWithRetry(ctx context.Context, id string) error {
	var err error
	for attempt := 1; attempt <= cancelAttempts; attempt++ {
		err = r.ex.CancelOrder(ctx, r.symbol, id)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if !domain.IsRetryable(err) {
			return fmt.Errorf("reconcile: cancel order: %w", err)
		}
		if attempt < cancelAttempts {
			if serr := sleep(ctx, time.Duration(attempt)*r.retryBackoff); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("reconcile: cancel order after %d attempts: %w", cancelAttempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func orderIDs(orders []domain.LiveOrder) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}
