// Package engine drives a ledger through historical time. Each tick runs a
// fixed sequence of steps: snapshot, funding, liquidation, stops, decide,
// execute, sample. Runs are single-threaded; independent runs share nothing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/ledger"
)

// Config holds the execution rules of a run.
type Config struct {
	Step            int           // feed stride, every Nth bar
	EquityStride    int           // sample equity every Nth tick
	MinConfidence   float64       // below this a decision is treated as hold
	MinHold         time.Duration // closes before this are blocked
	SevereLossPct   float64       // unrealized loss (percent) that overrides MinHold
	ReducePct       float64       // default reduce_position percentage
	MaxPositionSize float64       // cap on margin committed per open; zero disables
	Leverage        float64 // zero uses the ledger leverage
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
}

// DefaultConfig returns the execution rules used when none are configured.
func DefaultConfig() Config {
	return Config{
		Step:            1,
		EquityStride:    12,
		MinConfidence:   50,
		MinHold:         3 * time.Hour,
		SevereLossPct:   5,
		ReducePct:       50,
		MaxPositionSize: 1000,
	}
}

// Validate collects every violation into one error.
func (c Config) Validate() error {
	var errs []string
	if c.Step < 1 {
		errs = append(errs, fmt.Sprintf("step must be at least 1, got %d", c.Step))
	}
	if c.EquityStride < 1 {
		errs = append(errs, fmt.Sprintf("equity stride must be at least 1, got %d", c.EquityStride))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("min confidence must be in [0, 100], got %g", c.MinConfidence))
	}
	if c.MinHold < 0 {
		errs = append(errs, "min hold must not be negative")
	}
	if c.SevereLossPct < 0 {
		errs = append(errs, fmt.Sprintf("severe loss pct must not be negative, got %g", c.SevereLossPct))
	}
	if c.ReducePct <= 0 || c.ReducePct > 100 {
		errs = append(errs, fmt.Sprintf("reduce pct must be in (0, 100], got %g", c.ReducePct))
	}
	if c.MaxPositionSize < 0 {
		errs = append(errs, fmt.Sprintf("max position size must not be negative, got %g", c.MaxPositionSize))
	}
	if c.Leverage != 0 && (c.Leverage < 1 || c.Leverage > 125) {
		errs = append(errs, fmt.Sprintf("leverage must be 0 or in [1, 125], got %g", c.Leverage))
	}
	if c.StopLossPct < 0 || c.StopLossPct > 100 {
		errs = append(errs, fmt.Sprintf("stop loss pct must be in [0, 100], got %g", c.StopLossPct))
	}
	if c.TakeProfitPct < 0 {
		errs = append(errs, fmt.Sprintf("take profit pct must not be negative, got %g", c.TakeProfitPct))
	}
	if c.TrailingStopPct < 0 || c.TrailingStopPct > 100 {
		errs = append(errs, fmt.Sprintf("trailing stop pct must be in [0, 100], got %g", c.TrailingStopPct))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Result is what a finished (or cancelled) run produces.
type Result struct {
	Book      *ledger.Portfolio
	Decisions []domain.DecisionRecord
	Start     time.Time
	End       time.Time
	Ticks     int
	Skipped   int
	Cancelled bool
}

// Engine runs one backtest. Create a fresh Engine and Portfolio per run.
type Engine struct {
	cfg      Config
	book     *ledger.Portfolio
	feed     Feed
	source   DecisionSource
	logger   *slog.Logger
	progress ProgressFunc

	stopped    atomic.Bool
	lastPrices map[string]float64
	lastTS     time.Time
	lastGood   time.Time
	decisions  []domain.DecisionRecord
}

// New validates cfg and returns an Engine bound to book, feed and source.
func New(cfg Config, book *ledger.Portfolio, feed Feed, source DecisionSource, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: new: %w", err)
	}
	if book == nil || feed == nil || source == nil {
		return nil, fmt.Errorf("engine: new: book, feed and decision source are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		book:       book,
		feed:       feed,
		source:     source,
		logger:     logger.With(slog.String("component", "engine"), slog.String("source", source.Name())),
		lastPrices: make(map[string]float64),
	}, nil
}

// SetProgress installs a callback invoked after every tick.
func (e *Engine) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

// Stop asks the run to finish at the next timestamp boundary. It is safe to
// call from another goroutine.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

// Run simulates every timestamp the feed offers. Per-tick data errors skip
// the tick; any other error aborts with a *RunError. A stopped or cancelled
// run still closes every position before returning its Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	timestamps := e.feed.Timestamps(e.cfg.Step)
	total := len(timestamps)
	res := &Result{Book: e.book}
	if total > 0 {
		res.Start = timestamps[0]
	}

	e.logger.InfoContext(ctx, "engine: run starting",
		slog.Int("timestamps", total),
		slog.Int("step", e.cfg.Step),
	)

	for i, ts := range timestamps {
		if e.Stopped() || ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		err := e.Tick(ctx, ts, i, i == total-1)
		switch {
		case err == nil:
			res.Ticks++
			e.lastGood = ts
		case errors.Is(err, domain.ErrDataError):
			res.Skipped++
			e.logger.WarnContext(ctx, "engine: skipping tick",
				slog.Time("timestamp", ts),
				slog.String("error", err.Error()),
			)
			continue
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			res.Cancelled = true
		default:
			step := StepSnapshot
			var se *stepError
			if errors.As(err, &se) {
				step = se.step
			}
			return nil, &RunError{At: ts, LastGood: e.lastGood, Step: step, Err: err}
		}
		if res.Cancelled {
			break
		}

		if e.progress != nil {
			e.emitProgress(i, total, ts)
		}
	}

	e.closeOut(ctx)
	res.End = e.lastTS
	res.Decisions = append([]domain.DecisionRecord(nil), e.decisions...)

	e.logger.InfoContext(ctx, "engine: run finished",
		slog.Int("ticks", res.Ticks),
		slog.Int("skipped", res.Skipped),
		slog.Bool("cancelled", res.Cancelled),
		slog.Int("trades", len(e.book.Trades())),
		slog.Float64("cash", e.book.Cash()),
		slog.Int("liquidations", e.book.Counters().Liquidations),
	)
	return res, nil
}

// Tick runs every step for one timestamp.
func (e *Engine) Tick(ctx context.Context, ts time.Time, index int, last bool) error {
	if !e.lastTS.IsZero() && ts.Before(e.lastTS) {
		return fmt.Errorf("engine: timestamp %s before %s: %w", ts, e.lastTS, domain.ErrDataError)
	}
	t := newTick(ts, index, last)
	for _, step := range tickSequence {
		if err := e.runStep(ctx, step, t); err != nil {
			return &stepError{step: step, err: err}
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, step Step, t *tick) error {
	switch step {
	case StepSnapshot:
		return e.stepSnapshot(ctx, t)
	case StepFunding:
		e.stepFunding(t)
	case StepLiquidation:
		e.stepLiquidation(t)
	case StepStops:
		e.book.CheckStops(t.snap.Prices, t.ts)
	case StepDecide:
		return e.stepDecide(ctx, t)
	case StepExecute:
		e.stepExecute(ctx, t)
	case StepSample:
		e.stepSample(t)
	default:
		return fmt.Errorf("unknown step %d", int(step))
	}
	return nil
}

func (e *Engine) stepSnapshot(ctx context.Context, t *tick) error {
	snap, err := e.feed.Snapshot(ctx, t.ts)
	if err != nil {
		return err
	}
	if len(snap.Prices) == 0 {
		return fmt.Errorf("empty snapshot: %w", domain.ErrDataError)
	}
	for sym, px := range snap.Prices {
		if px <= 0 {
			return fmt.Errorf("non-positive price %g for %s: %w", px, sym, domain.ErrDataError)
		}
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = t.ts
	}
	t.snap = snap
	for sym, px := range snap.Prices {
		e.lastPrices[sym] = px
	}
	e.lastTS = t.ts
	return nil
}

func (e *Engine) stepFunding(t *tick) {
	if !t.snap.IsSettlement() {
		return
	}
	for _, sym := range sortedKeys(t.snap.Funding) {
		f := t.snap.Funding[sym]
		mark := f.MarkPrice
		if mark <= 0 {
			mark = t.snap.Prices[sym]
		}
		e.book.ApplyFunding(sym, f.Rate, mark, t.ts)
	}
}

func (e *Engine) stepLiquidation(t *tick) {
	for _, sym := range e.book.CheckLiquidation(t.snap.Prices, t.ts) {
		t.liquidated[sym] = true
	}
}

func (e *Engine) stepDecide(ctx context.Context, t *tick) error {
	decisions, err := e.source.Decide(ctx, t.snap, e.book)
	if err != nil {
		return fmt.Errorf("decision source %s: %w", e.source.Name(), err)
	}
	t.decisions = decisions
	return nil
}

func (e *Engine) stepExecute(ctx context.Context, t *tick) {
	for _, d := range t.decisions {
		if d.Action.Kind == domain.ActionHold || d.Action.Kind == "" {
			continue
		}
		t.acted = true
		t.lastAction = d.Action.Kind

		price, ok := t.snap.Price(d.Symbol)
		rec := domain.DecisionRecord{
			Timestamp:  t.ts,
			Symbol:     d.Symbol,
			Action:     d.Action.Kind,
			Confidence: d.Confidence,
			Reason:     d.Reason,
			Price:      price,
		}
		switch {
		case !ok:
			rec.Note = "no_price"
		case t.liquidated[d.Symbol]:
			rec.Note = "liquidated"
		default:
			rec.Executed, rec.Note = e.execute(d, price, t.ts)
		}
		e.decisions = append(e.decisions, rec)

		if !rec.Executed {
			e.logger.DebugContext(ctx, "engine: decision not executed",
				slog.String("symbol", d.Symbol),
				slog.String("action", string(d.Action.Kind)),
				slog.String("note", rec.Note),
			)
		}
	}
}

func (e *Engine) stepSample(t *tick) {
	if t.index%e.cfg.EquityStride == 0 || t.last || t.acted {
		e.book.RecordEquity(t.ts, t.snap.Prices)
	}
}

// closeOut flattens the book at the last observed prices.
func (e *Engine) closeOut(ctx context.Context) {
	if len(e.book.Positions()) == 0 || e.lastTS.IsZero() {
		return
	}
	closed := e.book.CloseAll(e.lastPrices, e.lastTS, domain.ReasonBacktestEnd)
	e.book.RecordEquity(e.lastTS, e.lastPrices)
	e.logger.InfoContext(ctx, "engine: closed remaining positions",
		slog.Int("count", len(closed)),
		slog.Time("timestamp", e.lastTS),
	)
}

func (e *Engine) emitProgress(i, total int, ts time.Time) {
	ev := ProgressEvent{
		Index:         i,
		Total:         total,
		Timestamp:     ts,
		Equity:        e.book.Equity(e.lastPrices),
		Cash:          e.book.Cash(),
		OpenPositions: len(e.book.Positions()),
		LastAction:    domain.ActionHold,
	}
	if total > 0 {
		ev.Pct = float64(i+1) / float64(total) * 100
	}
	if n := len(e.decisions); n > 0 && e.decisions[n-1].Timestamp.Equal(ts) {
		ev.LastAction = e.decisions[n-1].Action
	}
	e.progress(ev)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
