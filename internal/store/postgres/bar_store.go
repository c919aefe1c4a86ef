package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore creates a new BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// UpsertBatch inserts or replaces bars keyed by (symbol, ts) using pgx Batch.
func (s *BarStore) UpsertBatch(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	const query = `
		INSERT INTO bars (symbol, ts, open, high, low, close, volume, funding_rate, mark_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open         = EXCLUDED.open,
			high         = EXCLUDED.high,
			low          = EXCLUDED.low,
			close        = EXCLUDED.close,
			volume       = EXCLUDED.volume,
			funding_rate = EXCLUDED.funding_rate,
			mark_price   = EXCLUDED.mark_price`

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, b.Symbol, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.FundingRate, b.MarkPrice)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert bar batch item %d: %w", i, err)
		}
	}
	return nil
}

// Range returns the bars of symbol in [from, to], oldest first. A zero bound
// is open.
func (s *BarStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	opts := domain.ListOpts{}
	if !from.IsZero() {
		opts.Since = &from
	}
	if !to.IsZero() {
		opts.Until = &to
	}
	query, args := page(
		`SELECT symbol, ts, open, high, low, close, volume, funding_rate, mark_price FROM bars WHERE symbol = $1`,
		[]any{symbol}, "ts", "ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: range bars %s: %w", symbol, err)
	}
	defer rows.Close()

	bars, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Bar, error) {
		var b domain.Bar
		err := row.Scan(&b.Symbol, &b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FundingRate, &b.MarkPrice)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bars %s: %w", symbol, err)
	}
	return bars, nil
}
