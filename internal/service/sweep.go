package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marginsim/internal/config"
	"github.com/alanyoungcy/marginsim/internal/sweep"
)

// Sweep applies grid to base and executes every variant as an independent
// run. Outcomes come back in variant order, ranked by nothing; use
// sweep.Rank for that.
func (s *RunService) Sweep(ctx context.Context, grid sweep.Grid, base config.Run, parallelism int) ([]sweep.Outcome, error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("service: sweep: %w", err)
	}
	doc, err := RunToMap(base)
	if err != nil {
		return nil, err
	}
	variants := grid.Expand(doc)
	if parallelism <= 0 {
		parallelism = grid.Parallelism
	}

	s.logger.InfoContext(ctx, "service: sweep starting",
		slog.String("grid", grid.Name),
		slog.Int("variants", len(variants)),
	)
	return sweep.Run(ctx, variants, parallelism, func(ctx context.Context, v sweep.Variant) (map[string]string, error) {
		req, err := RunFromMap(v.Params)
		if err != nil {
			return nil, err
		}
		if req.Name == "" {
			req.Name = v.Label
		} else {
			req.Name += " " + v.Label
		}
		b, err := s.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		return b.Metrics, nil
	}, s.logger)
}
