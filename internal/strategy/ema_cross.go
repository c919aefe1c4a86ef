package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
)

// EMACrossName is the registry name of the EMA crossover strategy.
const EMACrossName = "ema_cross"

const (
	defaultFastPeriod = 20
	defaultSlowPeriod = 50
	defaultConfidence = 70
)

// EMACross goes long on a golden cross (fast EMA crossing above slow) and
// short on a death cross. An opposite cross while a position is open reverses
// it. Symbols with fewer bars than the slow period hold.
type EMACross struct {
	fast       int
	slow       int
	confidence float64
	params     *domain.TradeParams
	symbols    []string
	logger     *slog.Logger
}

// NewEMACross builds the crossover strategy. The following keys are read from
// cfg.Params:
//
//   - "fast" and "slow" (int): EMA spans, default 20 and 50.
//   - "confidence" (float64): confidence attached to signals, default 70.
//   - "leverage", "stop_loss_pct", "take_profit_pct", "trailing_stop_pct",
//     "position_size_pct" (float64): optional trade parameters.
func NewEMACross(cfg Config, logger *slog.Logger) (engine.DecisionSource, error) {
	s := &EMACross{
		fast:       cfg.intParam("fast", defaultFastPeriod),
		slow:       cfg.intParam("slow", defaultSlowPeriod),
		confidence: cfg.floatParam("confidence", defaultConfidence),
		params:     cfg.tradeParams(),
		symbols:    append([]string(nil), cfg.Symbols...),
		logger:     logger.With(slog.String("strategy", EMACrossName)),
	}
	if s.fast < 1 || s.slow <= s.fast {
		return nil, fmt.Errorf("ema periods must satisfy 1 <= fast < slow, got %d/%d: %w", s.fast, s.slow, domain.ErrInvalidConfig)
	}
	sort.Strings(s.symbols)
	return s, nil
}

// Name returns the strategy identifier.
func (s *EMACross) Name() string { return EMACrossName }

// Decide evaluates every configured symbol (or every priced symbol when none
// are configured) on the closes in the snapshot history.
func (s *EMACross) Decide(_ context.Context, snap domain.Snapshot, view engine.View) ([]domain.Decision, error) {
	symbols := s.symbols
	if len(symbols) == 0 {
		for sym := range snap.Prices {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
	}

	var out []domain.Decision
	for _, sym := range symbols {
		if d, ok := s.decide(sym, snap.History[sym], view); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *EMACross) decide(symbol string, bars []domain.Bar, view engine.View) (domain.Decision, bool) {
	if len(bars) < s.slow {
		return domain.Decision{}, false
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	fast := EMA(closes, s.fast)
	slow := EMA(closes, s.slow)
	n := len(closes)
	fastNow, slowNow := fast[n-1], slow[n-1]
	fastPrev, slowPrev := fast[n-2], slow[n-2]

	pos, held := view.Position(symbol)
	switch {
	case fastNow > slowNow && fastPrev <= slowPrev:
		if held && pos.Side == domain.SideLong {
			return domain.Decision{}, false
		}
		reason := "golden_cross"
		if held {
			reason = "golden_cross_reverse"
		}
		return domain.Decision{Symbol: symbol, Action: domain.Long(s.params), Confidence: s.confidence, Reason: reason}, true

	case fastNow < slowNow && fastPrev >= slowPrev:
		if held && pos.Side == domain.SideShort {
			return domain.Decision{}, false
		}
		reason := "death_cross"
		if held {
			reason = "death_cross_reverse"
		}
		return domain.Decision{Symbol: symbol, Action: domain.Short(s.params), Confidence: s.confidence, Reason: reason}, true
	}
	return domain.Decision{}, false
}

// EMA returns the exponential moving average of xs with smoothing
// 2/(span+1), seeded with the first value.
func EMA(xs []float64, span int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}
