package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunFunc executes one variant and returns its flat metrics.
type RunFunc func(ctx context.Context, v Variant) (map[string]string, error)

// Outcome is the result of one variant. A failed variant carries Err and does
// not stop the others.
type Outcome struct {
	Variant  Variant
	Metrics  map[string]string
	Err      error
	Duration time.Duration
}

// Run executes variants with at most parallelism in flight; zero or less
// means one per CPU. Outcomes come back in variant order. Run returns early
// only when ctx is cancelled, in which case variants that never started are
// reported with the context error.
func Run(ctx context.Context, variants []Variant, parallelism int, fn RunFunc, logger *slog.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	logger.Info("sweep: starting",
		slog.Int("variants", len(variants)),
		slog.Int("parallelism", parallelism),
	)

	out := make([]Outcome, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range variants {
		v := variants[i]
		out[i].Variant = v
		if err := gctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			start := time.Now()
			m, err := fn(gctx, v)
			out[i].Metrics = m
			out[i].Err = err
			out[i].Duration = time.Since(start)
			if err != nil {
				logger.Warn("sweep: variant failed",
					slog.Int("index", v.Index),
					slog.String("label", v.Label),
					slog.String("error", err.Error()),
				)
				return nil
			}
			logger.Info("sweep: variant done",
				slog.Int("index", v.Index),
				slog.String("label", v.Label),
				slog.String("total_return_pct", m["total_return_pct"]),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("sweep: run: %w", err)
	}
	return out, nil
}

// Rank returns the successful outcomes ordered by metric, highest first.
// Outcomes whose metric is missing or not numeric sort last.
func Rank(outcomes []Outcome, metric string) []Outcome {
	var ok []Outcome
	for _, o := range outcomes {
		if o.Err == nil {
			ok = append(ok, o)
		}
	}
	value := func(o Outcome) float64 {
		f, err := strconv.ParseFloat(o.Metrics[metric], 64)
		if err != nil || math.IsNaN(f) {
			return math.Inf(-1)
		}
		return f
	}
	sort.SliceStable(ok, func(a, b int) bool { return value(ok[a]) > value(ok[b]) })
	return ok
}
