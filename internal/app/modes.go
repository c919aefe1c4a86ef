package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marginsim/internal/report"
	"github.com/alanyoungcy/marginsim/internal/server"
	"github.com/alanyoungcy/marginsim/internal/server/handler"
	"github.com/alanyoungcy/marginsim/internal/server/ws"
	"github.com/alanyoungcy/marginsim/internal/sweep"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// BacktestMode executes the configured run once and writes its report under
// the output directory.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	b, err := deps.Service.Execute(ctx, a.cfg.Run)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	dir, err := report.WriteDir(a.cfg.Output.Dir, b)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}
	a.logger.InfoContext(ctx, "app: backtest finished",
		slog.String("run_id", b.RunID),
		slog.String("report_dir", dir),
		slog.Bool("cancelled", b.Cancelled),
		slog.String("final_equity", b.Metrics["final_equity"]),
		slog.String("total_return_pct", b.Metrics["total_return_pct"]),
		slog.String("max_drawdown_pct", b.Metrics["max_drawdown_pct"]),
		slog.String("sharpe_ratio", b.Metrics["sharpe_ratio"]),
		slog.String("total_trades", b.Metrics["total_trades"]),
	)
	return nil
}

// SweepMode runs every variant of the configured grid over the base run and
// writes a ranked summary.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	grid, err := sweep.LoadGrid(a.cfg.Sweep.Grid)
	if err != nil {
		return fmt.Errorf("app: sweep: %w", err)
	}
	a.logger.InfoContext(ctx, "app: sweep starting",
		slog.String("grid", grid.Name),
		slog.Int("variants", grid.Size()),
	)

	start := time.Now()
	outcomes, err := deps.Service.Sweep(ctx, grid, a.cfg.Run, a.cfg.Sweep.Parallelism)
	if err != nil {
		return fmt.Errorf("app: sweep: %w", err)
	}
	summary := sweep.Summarize(grid, outcomes, a.cfg.Sweep.RankBy)
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()

	path, err := a.writeSummary(grid, summary)
	if err != nil {
		return err
	}
	attrs := []any{
		slog.String("summary", path),
		slog.Int("succeeded", len(summary.Ranked)),
		slog.Int("failed", len(summary.Failed)),
	}
	if len(summary.Ranked) > 0 {
		best := summary.Ranked[0]
		attrs = append(attrs,
			slog.String("best", best.Label),
			slog.String(a.cfg.Sweep.RankBy, best.Metrics[a.cfg.Sweep.RankBy]),
		)
	}
	a.logger.InfoContext(ctx, "app: sweep finished", attrs...)
	return nil
}

func (a *App) writeSummary(grid sweep.Grid, s sweep.Summary) (path string, err error) {
	if err := os.MkdirAll(a.cfg.Output.Dir, 0o755); err != nil {
		return "", fmt.Errorf("app: sweep summary: %w", err)
	}
	name := grid.Name
	if name == "" {
		name = "sweep"
	}
	path = filepath.Join(a.cfg.Output.Dir, fmt.Sprintf("%s-%s.yaml", name, time.Now().UTC().Format("20060102T150405Z")))
	fh, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("app: sweep summary: %w", err)
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("app: sweep summary: %w", cerr)
		}
	}()
	if err := s.WriteYAML(fh); err != nil {
		return "", fmt.Errorf("app: sweep summary: %w", err)
	}
	return path, nil
}

// ServeMode runs the HTTP API and, with Redis enabled, the WebSocket hub
// until ctx is cancelled. Background runs are stopped by the same
// cancellation and awaited before returning.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, deps.Service.Active, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks),
		Runs:   handler.NewRunHandler(ctx, deps.Service, a.cfg.Run, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Options{
		Hub:     hub,
		Metrics: deps.Metrics.Handler(),
		Limiter: deps.Limiter,
	}, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err := g.Wait()
	deps.Service.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
