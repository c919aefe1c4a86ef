package strategy

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
)

// HoldName is the registry name of the do-nothing strategy.
const HoldName = "hold"

// Hold never trades. It produces a flat benchmark run.
type Hold struct{}

// NewHold returns a Hold source.
func NewHold(Config, *slog.Logger) (engine.DecisionSource, error) { return Hold{}, nil }

func (Hold) Name() string { return HoldName }

func (Hold) Decide(context.Context, domain.Snapshot, engine.View) ([]domain.Decision, error) {
	return nil, nil
}
