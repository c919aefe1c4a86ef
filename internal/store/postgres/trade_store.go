package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `seq, symbol, side, action, quantity, price, ts,
	pnl, pnl_pct, commission, slippage, entry_price, holding_ns, reason`

// InsertBatch writes a run's trade log with pgx.CopyFrom. The ledger trade id
// becomes the per-run sequence number.
func (s *TradeStore) InsertBatch(ctx context.Context, runID string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	rows := make([][]any, len(trades))
	for i, t := range trades {
		rows[i] = []any{
			runID, t.ID, t.Symbol, string(t.Side), string(t.Action), t.Quantity, t.Price, t.Timestamp,
			t.PnL, t.PnLPct, t.Commission, t.Slippage, t.EntryPrice, int64(t.HoldingTime), string(t.Reason),
		}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"run_trades"},
		[]string{"run_id", "seq", "symbol", "side", "action", "quantity", "price", "ts",
			"pnl", "pnl_pct", "commission", "slippage", "entry_price", "holding_ns", "reason"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trades for run %s: %w", runID, err)
	}
	return nil
}

// ListByRun returns a run's trades in ledger order.
func (s *TradeStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := page(`SELECT `+tradeSelectCols+` FROM run_trades WHERE run_id = $1`,
		[]any{runID}, "ts", "ASC, seq ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for run %s: %w", runID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t            domain.Trade
			side, action string
			reason       string
			holdingNanos int64
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &action, &t.Quantity, &t.Price, &t.Timestamp,
			&t.PnL, &t.PnLPct, &t.Commission, &t.Slippage, &t.EntryPrice, &holdingNanos, &reason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.Action = domain.TradeAction(action)
		t.Reason = domain.CloseReason(reason)
		t.HoldingTime = time.Duration(holdingNanos)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}
