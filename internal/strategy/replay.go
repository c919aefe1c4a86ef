package strategy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
)

// ReplayName is the registry name of the recorded-decision source.
const ReplayName = "replay"

// replayLine is one JSONL record. It accepts the decision log written by a
// previous run, so a session can be re-simulated under another cost model.
type replayLine struct {
	Timestamp  time.Time           `json:"timestamp"`
	Symbol     string              `json:"symbol"`
	Action     string              `json:"action"`
	Confidence float64             `json:"confidence"`
	Reason     string              `json:"reason"`
	Params     *domain.TradeParams `json:"params,omitempty"`
	ReducePct  float64             `json:"reduce_pct,omitempty"`
}

// Replay returns recorded decisions at the timestamps they were recorded.
type Replay struct {
	byTime map[int64][]domain.Decision
	count  int
	logger *slog.Logger
}

// NewReplayFromConfig opens the JSONL file named by the "path" param.
// Records without a symbol use the first configured symbol.
func NewReplayFromConfig(cfg Config, logger *slog.Logger) (engine.DecisionSource, error) {
	path := cfg.stringParam("path", "")
	if path == "" {
		return nil, fmt.Errorf("replay: path param is required: %w", domain.ErrInvalidConfig)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()

	var fallback string
	if len(cfg.Symbols) > 0 {
		fallback = cfg.Symbols[0]
	}
	return NewReplay(f, fallback, logger)
}

// NewReplay parses JSONL decisions from r. Blank lines are ignored; any
// malformed line fails the whole load.
func NewReplay(r io.Reader, fallbackSymbol string, logger *slog.Logger) (*Replay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rp := &Replay{
		byTime: make(map[int64][]domain.Decision),
		logger: logger.With(slog.String("strategy", ReplayName)),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ln replayLine
		if err := json.Unmarshal([]byte(text), &ln); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		kind, ok := domain.ParseActionKind(strings.ToLower(ln.Action))
		if !ok {
			return nil, fmt.Errorf("replay: line %d: unknown action %q", lineNo, ln.Action)
		}
		if ln.Timestamp.IsZero() {
			return nil, fmt.Errorf("replay: line %d: missing timestamp", lineNo)
		}
		sym := ln.Symbol
		if sym == "" {
			sym = fallbackSymbol
		}
		if sym == "" {
			return nil, fmt.Errorf("replay: line %d: missing symbol", lineNo)
		}

		key := ln.Timestamp.UnixNano()
		rp.byTime[key] = append(rp.byTime[key], domain.Decision{
			Symbol:     sym,
			Action:     domain.Action{Kind: kind, Params: ln.Params, ReducePct: ln.ReducePct},
			Confidence: ln.Confidence,
			Reason:     ln.Reason,
		})
		rp.count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}

	rp.logger.Info("replay: decisions loaded", slog.Int("count", rp.count), slog.Int("timestamps", len(rp.byTime)))
	return rp, nil
}

// Name returns the strategy identifier.
func (rp *Replay) Name() string { return ReplayName }

// Len returns the number of recorded decisions.
func (rp *Replay) Len() int { return rp.count }

// Decide returns the decisions recorded at exactly snap.Timestamp.
func (rp *Replay) Decide(_ context.Context, snap domain.Snapshot, _ engine.View) ([]domain.Decision, error) {
	return rp.byTime[snap.Timestamp.UnixNano()], nil
}
