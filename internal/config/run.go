package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
	"github.com/alanyoungcy/marginsim/internal/feed"
	"github.com/alanyoungcy/marginsim/internal/ledger"
	"github.com/alanyoungcy/marginsim/internal/strategy"
)

// Bar sources a run can read from.
const (
	SourceFile     = "file"
	SourceS3       = "s3"
	SourcePostgres = "postgres"
)

// Run describes one backtest. It is the [run] table of the config file, the
// body of POST /api/runs and the base document a sweep grid is applied to.
type Run struct {
	Name           string         `toml:"name" json:"name,omitempty"`
	Symbols        []string       `toml:"symbols" json:"symbols"`
	Start          string         `toml:"start" json:"start,omitempty"` // 2006-01-02 or RFC 3339
	End            string         `toml:"end" json:"end,omitempty"`
	Source         string         `toml:"source" json:"source"`
	InitialCapital float64        `toml:"initial_capital" json:"initial_capital"`
	Leverage       float64        `toml:"leverage" json:"leverage"`
	MarginMode     string         `toml:"margin_mode" json:"margin_mode"`
	ContractType   string         `toml:"contract_type" json:"contract_type"`
	ContractSize   float64        `toml:"contract_size" json:"contract_size"`
	Fees           FeesConfig     `toml:"fees" json:"fees"`
	Engine         EngineConfig   `toml:"engine" json:"engine"`
	Strategy       StrategyConfig `toml:"strategy" json:"strategy"`
}

// FeesConfig selects a fee preset and overrides individual rates.
type FeesConfig struct {
	Preset             string   `toml:"preset" json:"preset,omitempty"`
	CommissionRate     *float64 `toml:"commission_rate" json:"commission_rate,omitempty"`
	SlippageRate       float64  `toml:"slippage_rate" json:"slippage_rate"`
	LiquidationFeeRate *float64 `toml:"liquidation_fee_rate" json:"liquidation_fee_rate,omitempty"`
	Tiers              []Tier   `toml:"tiers" json:"tiers,omitempty"`
}

// Tier is one maintenance-margin row. A zero MaxNotional means unbounded.
type Tier struct {
	MaxNotional float64 `toml:"max_notional" json:"max_notional"`
	Rate        float64 `toml:"rate" json:"rate"`
}

// EngineConfig holds the execution rules of a run.
type EngineConfig struct {
	Step            int      `toml:"step" json:"step"`
	EquityStride    int      `toml:"equity_stride" json:"equity_stride"`
	Lookback        int      `toml:"lookback" json:"lookback"`
	MinConfidence   float64  `toml:"min_confidence" json:"min_confidence"`
	MinHold         Duration `toml:"min_hold" json:"min_hold"`
	SevereLossPct   float64  `toml:"severe_loss_pct" json:"severe_loss_pct"`
	ReducePct       float64  `toml:"reduce_pct" json:"reduce_pct"`
	MaxPositionSize float64  `toml:"max_position_size" json:"max_position_size"`
	StopLossPct     float64  `toml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct   float64  `toml:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct float64  `toml:"trailing_stop_pct" json:"trailing_stop_pct"`
}

// StrategyConfig names a decision source and its parameters.
type StrategyConfig struct {
	Name   string         `toml:"name" json:"name"`
	Params map[string]any `toml:"params" json:"params,omitempty"`
}

// DefaultRun returns a run over the default cost model and execution rules.
func DefaultRun() Run {
	ec := engine.DefaultConfig()
	return Run{
		Source:         SourceFile,
		InitialCapital: 10_000,
		Leverage:       1,
		MarginMode:     string(domain.MarginCross),
		ContractType:   string(domain.ContractLinear),
		ContractSize:   1,
		Fees: FeesConfig{
			Preset:       "vip0",
			SlippageRate: 0.0005,
		},
		Engine: EngineConfig{
			Step:            ec.Step,
			EquityStride:    ec.EquityStride,
			Lookback:        feed.DefaultLookback,
			MinConfidence:   ec.MinConfidence,
			MinHold:         Duration{ec.MinHold},
			SevereLossPct:   ec.SevereLossPct,
			ReducePct:       ec.ReducePct,
			MaxPositionSize: ec.MaxPositionSize,
		},
		Strategy: StrategyConfig{Name: "ema_cross"},
	}
}

// Window parses Start and End. Either may be empty, which leaves that side
// open. A date-only End covers the whole day.
func (r Run) Window() (from, to time.Time, err error) {
	if from, err = parseBound(r.Start, false); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: start: %w", err)
	}
	if to, err = parseBound(r.End, true); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: end: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("config: end %s before start %s: %w", r.End, r.Start, domain.ErrInvalidConfig)
	}
	return from, to, nil
}

func parseBound(s string, end bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if end {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a date nor RFC 3339: %w", s, domain.ErrInvalidConfig)
	}
	return t.UTC(), nil
}

// LedgerConfig builds the portfolio configuration. The preset's taker rate is
// the commission unless CommissionRate is set.
func (r Run) LedgerConfig() (ledger.Config, error) {
	commission := 0.0
	if r.Fees.Preset != "" {
		fs, ok := ledger.Preset(r.Fees.Preset)
		if !ok {
			return ledger.Config{}, fmt.Errorf("config: unknown fee preset %q: %w", r.Fees.Preset, domain.ErrInvalidConfig)
		}
		commission = fs.Taker
	}
	if r.Fees.CommissionRate != nil {
		commission = *r.Fees.CommissionRate
	}
	liqFee := ledger.DefaultLiquidationFee
	if r.Fees.LiquidationFeeRate != nil {
		liqFee = *r.Fees.LiquidationFeeRate
	}
	tiers := ledger.DefaultTiers()
	if len(r.Fees.Tiers) > 0 {
		tiers = make([]ledger.Tier, len(r.Fees.Tiers))
		for i, t := range r.Fees.Tiers {
			tiers[i] = ledger.Tier{MaxNotional: t.MaxNotional, Rate: t.Rate}
		}
		if last := &tiers[len(tiers)-1]; last.MaxNotional == 0 {
			last.MaxNotional = math.Inf(1)
		}
	}
	return ledger.Config{
		InitialCapital: r.InitialCapital,
		Leverage:       r.Leverage,
		MarginMode:     domain.MarginMode(strings.ToLower(r.MarginMode)),
		ContractType:   domain.ContractType(strings.ToLower(r.ContractType)),
		ContractSize:   r.ContractSize,
		Fees: ledger.FeeModel{
			CommissionRate:     commission,
			SlippageRate:       r.Fees.SlippageRate,
			LiquidationFeeRate: liqFee,
			Tiers:              tiers,
		},
	}, nil
}

// EngineConfig builds the engine execution rules.
func (r Run) EngineConfig() engine.Config {
	e := r.Engine
	return engine.Config{
		Step:            e.Step,
		EquityStride:    e.EquityStride,
		MinConfidence:   e.MinConfidence,
		MinHold:         e.MinHold.Duration,
		SevereLossPct:   e.SevereLossPct,
		ReducePct:       e.ReducePct,
		MaxPositionSize: e.MaxPositionSize,
		Leverage:        r.Leverage,
		StopLossPct:     e.StopLossPct,
		TakeProfitPct:   e.TakeProfitPct,
		TrailingStopPct: e.TrailingStopPct,
	}
}

// StrategyConfig builds the decision source configuration.
func (r Run) StrategyConfig() strategy.Config {
	return strategy.Config{
		Name:    r.Strategy.Name,
		Symbols: r.Symbols,
		Params:  r.Strategy.Params,
	}
}

// Validate checks the run and returns one error listing every violation.
func (r Run) Validate() error {
	if errs := r.violations(); len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r Run) violations() []string {
	var errs []string
	if len(r.Symbols) == 0 {
		errs = append(errs, "run.symbols must not be empty")
	}
	for _, s := range r.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "run.symbols must not contain blank entries")
			break
		}
	}
	switch r.Source {
	case SourceFile, SourceS3, SourcePostgres:
	default:
		errs = append(errs, fmt.Sprintf("run.source must be file, s3 or postgres, got %q", r.Source))
	}
	if r.Strategy.Name == "" {
		errs = append(errs, "run.strategy.name is required")
	}
	if _, _, err := r.Window(); err != nil {
		errs = append(errs, err.Error())
	}
	if r.Engine.Lookback < 1 {
		errs = append(errs, fmt.Sprintf("run.engine.lookback must be at least 1, got %d", r.Engine.Lookback))
	}
	if r.ContractSize <= 0 {
		errs = append(errs, fmt.Sprintf("run.contract_size must be positive, got %g", r.ContractSize))
	}

	lc, err := r.LedgerConfig()
	if err != nil {
		errs = append(errs, err.Error())
	} else if err := lc.Validate(); err != nil {
		errs = append(errs, details(err)...)
	}
	if err := r.EngineConfig().Validate(); err != nil {
		errs = append(errs, details(err)...)
	}
	return errs
}

// details splits a collected validation error back into its violations.
func details(err error) []string {
	lines := strings.Split(err.Error(), "\n  - ")
	if len(lines) > 1 {
		return lines[1:]
	}
	return lines
}
