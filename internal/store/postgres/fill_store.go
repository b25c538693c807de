package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kzhou42/volumebot/internal/domain"
	"github.com/kzhou42/volumebot/internal/pnl"
)

// FillStore persists trade fills and PnL snapshots.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// InsertBatch inserts fills using a pgx batch. Duplicates on the composite
// fill identity are silently skipped via ON CONFLICT DO NOTHING, matching the
// ledger's dedup rule.
func (s *FillStore) InsertBatch(ctx context.Context, fills []domain.TradeRecord) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (trade_id, order_id, symbol, side, price, amount, fee, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (trade_id, order_id, filled_at, side, amount) DO NOTHING`

	for _, f := range fills {
		batch.Queue(query, f.ID, f.OrderID, f.Symbol, string(f.Side), f.Price, f.Amount, f.Fee, f.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the most recent fills for symbol, oldest first so they
// can be replayed straight into the ledger.
func (s *FillStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, order_id, symbol, side, price, amount, fee, filled_at
		FROM (
			SELECT trade_id, order_id, symbol, side, price, amount, fee, filled_at
			FROM fills WHERE symbol = $1
			ORDER BY filled_at DESC LIMIT $2
		) recent
		ORDER BY filled_at ASC`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.TradeRecord
	for rows.Next() {
		var (
			f    domain.TradeRecord
			side string
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &f.Price, &f.Amount, &f.Fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent fills: %w", err)
	}
	return fills, nil
}

// InsertSnapshot records a PnL snapshot for post-session auditing.
func (s *FillStore) InsertSnapshot(ctx context.Context, symbol string, snap pnl.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pnl_snapshots (symbol, total_volume, trade_count, total_fees, matched_pnl, unmatched_value)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		symbol, snap.TotalVolume, snap.TradeCount, snap.TotalFees, snap.MatchedPnL, snap.UnmatchedValue)
	if err != nil {
		return fmt.Errorf("postgres: insert pnl snapshot: %w", err)
	}
	return nil
}
