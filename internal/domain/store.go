package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RunStore persists backtest run headers.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	Finish(ctx context.Context, run Run) error
	GetByID(ctx context.Context, id string) (Run, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (Run, error)
	List(ctx context.Context, opts ListOpts) ([]Run, error)
}

// TradeStore persists a run's trade log.
type TradeStore interface {
	InsertBatch(ctx context.Context, runID string, trades []Trade) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]Trade, error)
}

// EquityStore persists a run's equity curve.
type EquityStore interface {
	InsertBatch(ctx context.Context, runID string, points []EquityPoint) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]EquityPoint, error)
}

// BarStore persists historical candles.
type BarStore interface {
	UpsertBatch(ctx context.Context, bars []Bar) error
	Range(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

// AuditStore provides an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
