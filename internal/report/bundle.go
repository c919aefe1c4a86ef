// Package report assembles the serializable result of a run: configuration,
// flat metrics, trade log and equity curve.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/engine"
	"github.com/alanyoungcy/marginsim/internal/ledger"
	"github.com/alanyoungcy/marginsim/internal/metrics"
)

// Bundle is everything a report sink needs. Report is excluded from JSON
// because ProfitFactor may be infinite; Metrics carries the same figures as
// strings.
type Bundle struct {
	RunID          string                    `json:"run_id"`
	Strategy       string                    `json:"strategy"`
	Symbols        []string                  `json:"symbols"`
	Config         json.RawMessage           `json:"config,omitempty"`
	InitialCapital float64                   `json:"initial_capital"`
	Start          time.Time                 `json:"start"`
	End            time.Time                 `json:"end"`
	Cancelled      bool                      `json:"cancelled"`
	Ticks          int                       `json:"ticks"`
	SkippedTicks   int                       `json:"skipped_ticks"`
	Metrics        map[string]string         `json:"metrics"`
	Risk           metrics.RiskReport        `json:"risk"`
	Monthly        []metrics.MonthlyReturn   `json:"monthly_returns"`
	Counters       ledger.Counters           `json:"counters"`
	Trades         []domain.Trade            `json:"trade_log"`
	Equity         []domain.EquityPoint      `json:"equity_curve"`
	Funding        []domain.FundingEvent     `json:"funding_history"`
	Liquidations   []domain.LiquidationEvent `json:"liquidation_history"`
	Decisions      []domain.DecisionRecord   `json:"decision_log"`

	Report metrics.Report `json:"-"`
}

// Meta identifies the run a bundle belongs to.
type Meta struct {
	RunID    string
	Strategy string
	Symbols  []string
	Config   json.RawMessage
}

// NewBundle evaluates a finished engine result.
func NewBundle(meta Meta, res *engine.Result) (*Bundle, error) {
	if res == nil || res.Book == nil {
		return nil, fmt.Errorf("report: new bundle: empty result")
	}
	book := res.Book
	capital := book.Config().InitialCapital
	curve := book.EquityCurve()
	trades := book.Trades()

	b := &Bundle{
		RunID:          meta.RunID,
		Strategy:       meta.Strategy,
		Symbols:        meta.Symbols,
		Config:         meta.Config,
		InitialCapital: capital,
		Start:          res.Start,
		End:            res.End,
		Cancelled:      res.Cancelled,
		Ticks:          res.Ticks,
		SkippedTicks:   res.Skipped,
		Report:         metrics.Calculate(curve, trades, capital),
		Risk:           metrics.CalculateRisk(curve),
		Monthly:        metrics.MonthlyReturns(curve),
		Counters:       book.Counters(),
		Trades:         trades,
		Equity:         curve,
		Funding:        book.FundingHistory(),
		Liquidations:   book.LiquidationHistory(),
		Decisions:      res.Decisions,
	}
	b.Metrics = b.Flat()
	return b, nil
}

// WriteJSON writes the bundle as indented JSON.
func (b *Bundle) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("report: encode bundle: %w", err)
	}
	return nil
}

// WriteJSONL writes one JSON document per line.
func WriteJSONL[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("report: encode record %d: %w", i, err)
		}
	}
	return nil
}
