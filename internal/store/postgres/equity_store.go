package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// EquityStore implements domain.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates a new EquityStore backed by the given connection pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// InsertBatch writes a run's equity curve with pgx.CopyFrom.
func (s *EquityStore) InsertBatch(ctx context.Context, runID string, points []domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"run_equity"},
		[]string{"run_id", "ts", "cash", "position_value", "total_equity", "drawdown", "drawdown_pct"},
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			return []any{runID, p.Timestamp, p.Cash, p.PositionValue, p.TotalEquity, p.Drawdown, p.DrawdownPct}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert equity for run %s: %w", runID, err)
	}
	return nil
}

// ListByRun returns a run's equity curve in time order.
func (s *EquityStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.EquityPoint, error) {
	query, args := page(
		`SELECT ts, cash, position_value, total_equity, drawdown, drawdown_pct FROM run_equity WHERE run_id = $1`,
		[]any{runID}, "ts", "ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity for run %s: %w", runID, err)
	}
	defer rows.Close()

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EquityPoint, error) {
		var p domain.EquityPoint
		err := row.Scan(&p.Timestamp, &p.Cash, &p.PositionValue, &p.TotalEquity, &p.Drawdown, &p.DrawdownPct)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan equity: %w", err)
	}
	return points, nil
}
