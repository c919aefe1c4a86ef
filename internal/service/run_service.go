// Package service runs backtests end to end: it loads bars, simulates, builds
// the report, persists and archives it, and tells subscribers what happened.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marginsim/internal/cache/redis"
	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
	"github.com/alanyoungcy/marginsim/internal/feed"
	"github.com/alanyoungcy/marginsim/internal/ledger"
	"github.com/alanyoungcy/marginsim/internal/notify"
	"github.com/alanyoungcy/marginsim/internal/report"
	"github.com/alanyoungcy/marginsim/internal/strategy"
	"github.com/alanyoungcy/marginsim/internal/telemetry"
)

// DefaultLockTTL bounds how long one fingerprint stays locked when none is
// configured.
const DefaultLockTTL = 30 * time.Minute

// Archiver stores a finished bundle and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, b *report.Bundle) (string, error)
}

// Deps are the collaborators of a RunService. Runs, Trades, Equity, Sources
// and Strategies are required; everything else is optional.
type Deps struct {
	Runs       domain.RunStore
	Trades     domain.TradeStore
	Equity     domain.EquityStore
	Audit      domain.AuditStore
	Bus        domain.SignalBus
	Locks      domain.LockManager
	Archiver   Archiver
	Notifier   *notify.Notifier
	Metrics    *telemetry.Metrics
	Sources    map[string]feed.Source
	Strategies *strategy.Registry
	LockTTL    time.Duration
}

// RunService executes backtest runs. It is safe for concurrent use.
type RunService struct {
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*job
	wg     sync.WaitGroup
}

// NewRunService validates deps and returns a RunService.
func NewRunService(deps Deps, logger *slog.Logger) (*RunService, error) {
	if deps.Runs == nil || deps.Trades == nil || deps.Equity == nil {
		return nil, fmt.Errorf("service: run, trade and equity stores are required")
	}
	if len(deps.Sources) == 0 || deps.Strategies == nil {
		return nil, fmt.Errorf("service: bar sources and a strategy registry are required")
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		deps:   deps,
		logger: logger.With(slog.String("component", "run_service")),
		active: make(map[string]*job),
	}, nil
}

// job is one accepted run between prepare and finish.
type job struct {
	run    domain.Run
	req    config.Run
	unlock func()

	mu      sync.Mutex
	eng     *engine.Engine
	stopped bool
}

func (j *job) attach(e *engine.Engine) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.eng = e
	if j.stopped {
		e.Stop()
	}
}

func (j *job) stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
	if j.eng != nil {
		j.eng.Stop()
	}
}

// Execute runs req to completion on the calling goroutine and returns its
// bundle. A cancelled ctx or Stop still yields a bundle marked Cancelled.
func (s *RunService) Execute(ctx context.Context, req config.Run) (*report.Bundle, error) {
	j, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, j)
}

// Start accepts req and runs it in the background under ctx. When a completed
// run with the same fingerprint exists it is returned instead and existing is
// true.
func (s *RunService) Start(ctx context.Context, req config.Run) (run domain.Run, existing bool, err error) {
	if err := req.Validate(); err != nil {
		return domain.Run{}, false, fmt.Errorf("service: start: %w", err)
	}
	fp, _, err := Fingerprint(req)
	if err != nil {
		return domain.Run{}, false, err
	}
	prev, err := s.deps.Runs.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "service: reusing completed run",
			slog.String("run_id", prev.ID),
			slog.String("fingerprint", fp),
		)
		return prev, true, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Run{}, false, fmt.Errorf("service: start: %w", err)
	}

	j, err := s.prepare(ctx, req)
	if err != nil {
		return domain.Run{}, false, err
	}
	s.wg.Go(func() {
		if _, err := s.execute(ctx, j); err != nil {
			s.logger.Error("service: background run failed",
				slog.String("run_id", j.run.ID),
				slog.String("error", err.Error()),
			)
		}
	})
	return j.run, false, nil
}

// Wait blocks until every background run has finished persisting.
func (s *RunService) Wait() { s.wg.Wait() }

// Stop asks an active run to close out and finish as cancelled.
func (s *RunService) Stop(id string) error {
	s.mu.Lock()
	j, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("service: stop %s: %w", id, domain.ErrNotFound)
	}
	j.stop()
	s.logger.Info("service: stop requested", slog.String("run_id", id))
	return nil
}

// Active returns the ids of runs currently executing.
func (s *RunService) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Get returns one run header.
func (s *RunService) Get(ctx context.Context, id string) (domain.Run, error) {
	run, err := s.deps.Runs.GetByID(ctx, id)
	if err != nil {
		return domain.Run{}, fmt.Errorf("service: get %s: %w", id, err)
	}
	return run, nil
}

// List returns run headers, newest first.
func (s *RunService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Run, error) {
	runs, err := s.deps.Runs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list: %w", err)
	}
	return runs, nil
}

// Trades returns the persisted trade log of a run.
func (s *RunService) Trades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	trades, err := s.deps.Trades.ListByRun(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("service: trades %s: %w", id, err)
	}
	return trades, nil
}

// Equity returns the persisted equity curve of a run.
func (s *RunService) Equity(ctx context.Context, id string, opts domain.ListOpts) ([]domain.EquityPoint, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	points, err := s.deps.Equity.ListByRun(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("service: equity %s: %w", id, err)
	}
	return points, nil
}

// prepare validates req, takes the fingerprint lock and records the run as
// pending.
func (s *RunService) prepare(ctx context.Context, req config.Run) (*job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("service: prepare: %w", err)
	}
	if !s.deps.Strategies.Has(req.Strategy.Name) {
		return nil, fmt.Errorf("service: prepare: strategy %q: %w", req.Strategy.Name, domain.ErrUnknownSource)
	}
	if _, ok := s.deps.Sources[req.Source]; !ok {
		return nil, fmt.Errorf("service: prepare: bar source %q not configured: %w", req.Source, domain.ErrInvalidConfig)
	}
	fp, canonical, err := Fingerprint(req)
	if err != nil {
		return nil, err
	}

	unlock := func() {}
	if s.deps.Locks != nil {
		unlock, err = s.deps.Locks.Acquire(ctx, "run:"+fp, s.deps.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("service: prepare: %w", err)
		}
	}

	run := domain.Run{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Name:        req.Name,
		Strategy:    req.Strategy.Name,
		Symbols:     req.Symbols,
		Status:      domain.RunStatusPending,
		Config:      canonical,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.deps.Runs.Create(ctx, run); err != nil {
		unlock()
		return nil, fmt.Errorf("service: prepare: %w", err)
	}

	j := &job{run: run, req: req, unlock: unlock}
	s.mu.Lock()
	s.active[run.ID] = j
	s.mu.Unlock()
	return j, nil
}

func (s *RunService) execute(ctx context.Context, j *job) (*report.Bundle, error) {
	defer func() {
		s.mu.Lock()
		delete(s.active, j.run.ID)
		s.mu.Unlock()
		j.unlock()
	}()

	started := time.Now().UTC()
	logger := s.logger.With(slog.String("run_id", j.run.ID))
	if err := s.deps.Runs.MarkRunning(ctx, j.run.ID, started); err != nil {
		logger.WarnContext(ctx, "service: mark running failed", slog.String("error", err.Error()))
	}
	j.run.Status = domain.RunStatusRunning
	j.run.StartedAt = &started
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunStarted(j.run.Strategy)
	}
	s.audit(ctx, "run.started", j.run, nil)
	s.lifecycle(ctx, j.run, "run.started", nil)
	logger.InfoContext(ctx, "service: run started",
		slog.String("strategy", j.run.Strategy),
		slog.Any("symbols", j.run.Symbols),
		slog.String("fingerprint", j.run.Fingerprint),
	)

	res, err := s.simulate(ctx, j, logger)
	if err != nil {
		s.fail(ctx, j, started, err)
		return nil, fmt.Errorf("service: run %s: %w", j.run.ID, err)
	}

	b, err := report.NewBundle(report.Meta{
		RunID:    j.run.ID,
		Strategy: j.run.Strategy,
		Symbols:  j.run.Symbols,
		Config:   json.RawMessage(j.run.Config),
	}, res)
	if err != nil {
		s.fail(ctx, j, started, err)
		return nil, fmt.Errorf("service: run %s: %w", j.run.ID, err)
	}

	// Detach from ctx so a cancelled run still persists its close-out.
	pctx := context.WithoutCancel(ctx)
	if err := s.deps.Trades.InsertBatch(pctx, j.run.ID, b.Trades); err != nil {
		logger.WarnContext(ctx, "service: persist trades failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Equity.InsertBatch(pctx, j.run.ID, b.Equity); err != nil {
		logger.WarnContext(ctx, "service: persist equity failed", slog.String("error", err.Error()))
	}
	if s.deps.Archiver != nil {
		prefix, err := s.deps.Archiver.Archive(pctx, b)
		if err != nil {
			logger.WarnContext(ctx, "service: archive failed", slog.String("error", err.Error()))
		}
		j.run.ReportPath = prefix
	}

	finished := time.Now().UTC()
	j.run.Status = domain.RunStatusCompleted
	if res.Cancelled {
		j.run.Status = domain.RunStatusCancelled
	}
	j.run.Metrics = b.Metrics
	j.run.FinishedAt = &finished
	s.finish(pctx, j.run)

	if s.deps.Metrics != nil {
		s.deps.Metrics.RunFinished(j.run.Strategy, j.run.Status, finished.Sub(started))
		s.deps.Metrics.Ticks(res.Ticks, res.Skipped)
		s.deps.Metrics.Trades(b.Trades, b.Liquidations)
		if j.run.Status == domain.RunStatusCompleted {
			s.deps.Metrics.Return(j.run.Strategy, b.Report.TotalReturn)
		}
	}
	logger.InfoContext(ctx, "service: run finished",
		slog.String("status", string(j.run.Status)),
		slog.String("total_return_pct", b.Metrics["total_return_pct"]),
		slog.Int("trades", len(b.Trades)),
		slog.Duration("took", finished.Sub(started)),
	)
	return b, nil
}

// simulate loads bars and drives the engine.
func (s *RunService) simulate(ctx context.Context, j *job, logger *slog.Logger) (*engine.Result, error) {
	req := j.req
	from, to, err := req.Window()
	if err != nil {
		return nil, err
	}
	bars, err := feed.LoadAll(ctx, s.deps.Sources[req.Source], req.Symbols, from, to)
	if err != nil {
		return nil, err
	}
	f, err := feed.NewReplayFeed(bars, feed.WithLookback(req.Engine.Lookback), feed.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	lc, err := req.LedgerConfig()
	if err != nil {
		return nil, err
	}
	book, err := ledger.NewPortfolio(lc, logger)
	if err != nil {
		return nil, err
	}
	src, err := s.deps.Strategies.New(req.StrategyConfig(), logger)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(req.EngineConfig(), book, f, src, logger)
	if err != nil {
		return nil, err
	}
	if s.deps.Bus != nil {
		eng.SetProgress(s.progressPublisher(ctx, j.run.ID))
	}
	j.attach(eng)
	return eng.Run(ctx)
}

// progressMessage is the payload published on the run channel.
type progressMessage struct {
	RunID         string    `json:"run_id"`
	Index         int       `json:"index"`
	Total         int       `json:"total"`
	Pct           float64   `json:"pct"`
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	OpenPositions int       `json:"open_positions"`
	LastAction    string    `json:"last_action,omitempty"`
}

// progressPublisher publishes at most once per whole percent, plus the final
// tick.
func (s *RunService) progressPublisher(ctx context.Context, runID string) engine.ProgressFunc {
	channel := redis.RunChannel(runID)
	lastPct := -1
	return func(ev engine.ProgressEvent) {
		pct := int(ev.Pct)
		if pct == lastPct && ev.Index < ev.Total-1 {
			return
		}
		lastPct = pct
		payload, err := json.Marshal(progressMessage{
			RunID:         runID,
			Index:         ev.Index,
			Total:         ev.Total,
			Pct:           ev.Pct,
			Timestamp:     ev.Timestamp,
			Equity:        ev.Equity,
			Cash:          ev.Cash,
			OpenPositions: ev.OpenPositions,
			LastAction:    string(ev.LastAction),
		})
		if err != nil {
			return
		}
		if err := s.deps.Bus.Publish(ctx, channel, payload); err != nil {
			s.logger.DebugContext(ctx, "service: publish progress failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *RunService) fail(ctx context.Context, j *job, started time.Time, cause error) {
	finished := time.Now().UTC()
	j.run.Status = domain.RunStatusFailed
	j.run.Error = cause.Error()
	j.run.FinishedAt = &finished
	var re *engine.RunError
	if errors.As(cause, &re) && !re.LastGood.IsZero() {
		last := re.LastGood
		j.run.LastGood = &last
	}
	s.finish(context.WithoutCancel(ctx), j.run)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunFinished(j.run.Strategy, j.run.Status, finished.Sub(started))
	}
	s.logger.ErrorContext(ctx, "service: run failed",
		slog.String("run_id", j.run.ID),
		slog.String("error", cause.Error()),
	)
}

// finish records the terminal state everywhere it is reported.
func (s *RunService) finish(ctx context.Context, run domain.Run) {
	if err := s.deps.Runs.Finish(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "service: finish run failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	event, _, _ := notify.RunMessage(run)
	detail := map[string]any{"report_path": run.ReportPath}
	if run.Error != "" {
		detail["error"] = run.Error
	}
	s.audit(ctx, event, run, detail)
	s.lifecycle(ctx, run, event, run.Metrics)
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyRun(ctx, run); err != nil {
			s.logger.WarnContext(ctx, "service: notify failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *RunService) audit(ctx context.Context, event string, run domain.Run, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if detail == nil {
		detail = make(map[string]any)
	}
	detail["run_id"] = run.ID
	detail["strategy"] = run.Strategy
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// lifecycleMessage is appended to the run stream on every status change.
type lifecycleMessage struct {
	RunID   string            `json:"run_id"`
	Event   string            `json:"event"`
	Status  domain.RunStatus  `json:"status"`
	Error   string            `json:"error,omitempty"`
	Metrics map[string]string `json:"metrics,omitempty"`
	At      time.Time         `json:"at"`
}

func (s *RunService) lifecycle(ctx context.Context, run domain.Run, event string, m map[string]string) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(lifecycleMessage{
		RunID:   run.ID,
		Event:   event,
		Status:  run.Status,
		Error:   run.Error,
		Metrics: m,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.deps.Bus.StreamAppend(ctx, redis.RunStream(run.ID), payload); err != nil {
		s.logger.WarnContext(ctx, "service: stream append failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.deps.Bus.Publish(ctx, redis.RunChannel(run.ID), payload); err != nil {
		s.logger.DebugContext(ctx, "service: publish lifecycle failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}
