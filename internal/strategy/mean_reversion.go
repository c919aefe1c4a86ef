package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
)

// MeanReversionName is the registry name of the z-score strategy.
const MeanReversionName = "mean_reversion"

const (
	defaultWindow = 20
	defaultEntryZ = 2.0
	defaultExitZ  = 0.5
)

// MeanReversion fades moves away from the trailing mean. The latest close is
// scored against the mean and standard deviation of the preceding window; a
// close entryZ deviations below opens a long, one above opens a short, and a
// held position is closed once the score is back within exitZ.
type MeanReversion struct {
	window     int
	entryZ     float64
	exitZ      float64
	confidence float64
	params     *domain.TradeParams
	symbols    []string
	logger     *slog.Logger
}

// NewMeanReversion builds the strategy. The following keys are read from
// cfg.Params:
//
//   - "window" (int): bars in the trailing window, default 20.
//   - "entry_z" and "exit_z" (float64): score thresholds, default 2 and 0.5.
//   - "confidence" (float64): confidence attached to signals, default 70.
//   - the optional trade parameters shared with ema_cross.
func NewMeanReversion(cfg Config, logger *slog.Logger) (engine.DecisionSource, error) {
	s := &MeanReversion{
		window:     cfg.intParam("window", defaultWindow),
		entryZ:     cfg.floatParam("entry_z", defaultEntryZ),
		exitZ:      cfg.floatParam("exit_z", defaultExitZ),
		confidence: cfg.floatParam("confidence", defaultConfidence),
		params:     cfg.tradeParams(),
		symbols:    append([]string(nil), cfg.Symbols...),
		logger:     logger.With(slog.String("strategy", MeanReversionName)),
	}
	if s.window < 2 {
		return nil, fmt.Errorf("window must be at least 2, got %d: %w", s.window, domain.ErrInvalidConfig)
	}
	if s.exitZ < 0 || s.entryZ <= s.exitZ {
		return nil, fmt.Errorf("thresholds must satisfy 0 <= exit_z < entry_z, got %g/%g: %w", s.exitZ, s.entryZ, domain.ErrInvalidConfig)
	}
	sort.Strings(s.symbols)
	return s, nil
}

// Name returns the strategy identifier.
func (s *MeanReversion) Name() string { return MeanReversionName }

// Decide scores every configured symbol, or every priced one when none are
// configured.
func (s *MeanReversion) Decide(_ context.Context, snap domain.Snapshot, view engine.View) ([]domain.Decision, error) {
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

func (s *MeanReversion) decide(symbol string, bars []domain.Bar, view engine.View) (domain.Decision, bool) {
	z, ok := ZScore(bars, s.window)
	if !ok {
		return domain.Decision{}, false
	}
	pos, held := view.Position(symbol)
	reason := fmt.Sprintf("zscore_%.2f", z)

	switch {
	case held && math.Abs(z) <= s.exitZ:
		return domain.Decision{Symbol: symbol, Action: domain.Close(), Confidence: s.confidence, Reason: "mean_reverted_" + reason}, true
	case z <= -s.entryZ && !(held && pos.Side == domain.SideLong):
		return domain.Decision{Symbol: symbol, Action: domain.Long(s.params), Confidence: s.confidence, Reason: reason}, true
	case z >= s.entryZ && !(held && pos.Side == domain.SideShort):
		return domain.Decision{Symbol: symbol, Action: domain.Short(s.params), Confidence: s.confidence, Reason: reason}, true
	}
	return domain.Decision{}, false
}

// ZScore scores the last close against the window closes before it. It
// reports false until window+1 bars exist or when the window is flat.
func ZScore(bars []domain.Bar, window int) (float64, bool) {
	n := len(bars)
	if window < 2 || n < window+1 {
		return 0, false
	}
	prior := bars[n-1-window : n-1]

	var sum float64
	for _, b := range prior {
		sum += b.Close
	}
	mean := sum / float64(window)

	var sq float64
	for _, b := range prior {
		d := b.Close - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(window-1))
	if std == 0 {
		return 0, false
	}
	return (bars[n-1].Close - mean) / std, true
}
