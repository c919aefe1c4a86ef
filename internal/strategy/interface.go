package strategy

import (
	"log/slog"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
)

// Config holds strategy configuration. Params carries strategy-specific
// values decoded from TOML, YAML or JSON, so numbers may arrive as int, int64
// or float64.
type Config struct {
	Name    string
	Symbols []string
	Params  map[string]any
}

// Factory builds a decision source from its configuration.
type Factory func(cfg Config, logger *slog.Logger) (engine.DecisionSource, error)

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c Config) stringParam(key, def string) string {
	if v, ok := c.Params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// tradeParams collects the optional sizing and risk overrides shared by the
// built-in strategies. It returns nil when none are set.
func (c Config) tradeParams() *domain.TradeParams {
	p := domain.TradeParams{
		Leverage:        c.floatParam("leverage", 0),
		StopLossPct:     c.floatParam("stop_loss_pct", 0),
		TakeProfitPct:   c.floatParam("take_profit_pct", 0),
		TrailingStopPct: c.floatParam("trailing_stop_pct", 0),
		PositionSizePct: c.floatParam("position_size_pct", 0),
	}
	if p == (domain.TradeParams{}) {
		return nil
	}
	return &p
}
