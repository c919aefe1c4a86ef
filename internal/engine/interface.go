package engine

import (
	"context"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Feed supplies market snapshots. Timestamps must be non-decreasing.
type Feed interface {
	// Timestamps returns the instants to simulate, taking every step-th bar.
	Timestamps(step int) []time.Time
	// Snapshot returns prices (and funding at settlement instants) for ts.
	// Malformed data is reported by wrapping domain.ErrDataError.
	Snapshot(ctx context.Context, ts time.Time) (domain.Snapshot, error)
}

// View is the read-only side of the ledger handed to decision sources.
type View interface {
	Cash() float64
	Position(symbol string) (domain.Position, bool)
	Positions() []domain.Position
	Equity(prices map[string]float64) float64
}

// DecisionSource decides what to do at one timestamp. It blocks until it has
// a complete answer and must not mutate the ledger.
type DecisionSource interface {
	Name() string
	Decide(ctx context.Context, snap domain.Snapshot, view View) ([]domain.Decision, error)
}

// ProgressEvent is emitted after every processed tick.
type ProgressEvent struct {
	Index         int
	Total         int
	Pct           float64
	Timestamp     time.Time
	Equity        float64
	Cash          float64
	OpenPositions int
	LastAction    domain.ActionKind
}

// ProgressFunc receives progress events. It runs on the engine goroutine.
type ProgressFunc func(ProgressEvent)
