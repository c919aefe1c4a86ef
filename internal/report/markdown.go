package report

import (
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// maxTradeRows caps the trade table in the rendered document; the full log
// lives in trades.jsonl.
const maxTradeRows = 20

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"ts": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
	"f2": func(v float64) string { return fixed(v, 2) },
	"f4": func(v float64) string { return fixed(v, 4) },
}).Parse(`# Backtest report {{.RunID}}

| | |
|---|---|
| Strategy | {{.Strategy}} |
| Symbols | {{.Symbols}} |
| Period | {{.Metrics.start_date}} to {{.Metrics.end_date}} ({{.Metrics.total_days}} days) |
| Ticks | {{.Ticks}} ({{.SkippedTicks}} skipped) |
{{- if .Cancelled}}
| Status | cancelled, positions closed at last prices |
{{- end}}

## Returns

| Metric | Value |
|---|---|
| Initial capital | {{.Metrics.initial_capital}} |
| Final equity | {{.Metrics.final_equity}} |
| Total return | {{.Metrics.total_return_pct}}% |
| Annualized return | {{.Metrics.annualized_return_pct}}% |
| Max drawdown | {{.Metrics.max_drawdown}} ({{.Metrics.max_drawdown_pct}}%) |
| Max drawdown duration | {{.Metrics.max_drawdown_duration_days}} days |
| Sharpe | {{.Metrics.sharpe_ratio}} |
| Sortino | {{.Metrics.sortino_ratio}} |
| Calmar | {{.Metrics.calmar_ratio}} |
| Volatility | {{.Metrics.volatility_pct}}% |
| VaR 95 / 99 | {{.Metrics.var_95_pct}}% / {{.Metrics.var_99_pct}}% |
| CVaR 95 / 99 | {{.Metrics.cvar_95_pct}}% / {{.Metrics.cvar_99_pct}}% |

## Trading

| Metric | Value |
|---|---|
| Closed trades | {{.Metrics.total_trades}} ({{.Metrics.winning_trades}} won, {{.Metrics.losing_trades}} lost) |
| Win rate | {{.Metrics.win_rate_pct}}% |
| Profit factor | {{.Metrics.profit_factor}} |
| Avg trade | {{.Metrics.avg_trade_pnl}} |
| Avg win / loss | {{.Metrics.avg_win}} / {{.Metrics.avg_loss}} |
| Largest win / loss | {{.Metrics.largest_win}} / {{.Metrics.largest_loss}} |
| Streaks | {{.Metrics.max_consecutive_wins}} wins, {{.Metrics.max_consecutive_losses}} losses |
| Avg holding | {{.Metrics.avg_holding_hours}} h |
| Long | {{.Metrics.long_trades}} trades, {{.Metrics.long_win_rate_pct}}% won, {{.Metrics.long_pnl}} |
| Short | {{.Metrics.short_trades}} trades, {{.Metrics.short_win_rate_pct}}% won, {{.Metrics.short_pnl}} |

## Costs

| Cost | Value |
|---|---|
| Fees | {{.Metrics.total_fees_paid}} |
| Slippage | {{.Metrics.total_slippage_cost}} |
| Net funding paid | {{.Metrics.total_funding_paid}} |
| Liquidations | {{.Metrics.liquidation_count}} |
| Rejected opens | {{.Metrics.rejected_opens}} |
{{- if .Monthly}}

## Monthly returns

| Month | Return |
|---|---|
{{- range .Monthly}}
| {{.Year}}-{{printf "%02d" .Month}} | {{f2 .Return}}% |
{{- end}}
{{- end}}
{{- if .Exits}}

## Exits{{if .Truncated}} (first {{len .Exits}}){{end}}

| Time | Symbol | Side | Qty | Entry | Exit | PnL | Reason |
|---|---|---|---|---|---|---|---|
{{- range .Exits}}
| {{ts .Timestamp}} | {{.Symbol}} | {{.Side}} | {{f4 .Quantity}} | {{f2 .EntryPrice}} | {{f2 .Price}} | {{f2 .PnL}} | {{.Reason}} |
{{- end}}
{{- end}}

## Summary

{{.Conclusion}}
`))

// RenderMarkdown writes a human readable summary of the bundle.
func RenderMarkdown(w io.Writer, b *Bundle) error {
	data := struct {
		*Bundle
		Exits      []domain.Trade
		Truncated  bool
		Conclusion string
		Symbols    string
	}{Bundle: b, Symbols: strings.Join(b.Symbols, ", "), Conclusion: conclusion(b)}

	for _, t := range b.Trades {
		if !t.IsExit() {
			continue
		}
		if len(data.Exits) == maxTradeRows {
			data.Truncated = true
			break
		}
		data.Exits = append(data.Exits, t)
	}

	if err := markdownTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("report: render markdown: %w", err)
	}
	return nil
}

func conclusion(b *Bundle) string {
	r := b.Report
	var parts []string
	switch {
	case r.TotalTrades == 0:
		parts = append(parts, "No position was closed during the run.")
	case r.TotalReturn > 0:
		parts = append(parts, fmt.Sprintf("The run returned %s%% over %d days.", fixed(r.TotalReturn, 2), r.TotalDays))
	default:
		parts = append(parts, fmt.Sprintf("The run lost %s%% over %d days.", fixed(-r.TotalReturn, 2), r.TotalDays))
	}
	if r.SharpeRatio > 1 {
		parts = append(parts, "Risk-adjusted return is good.")
	} else if r.TotalTrades > 0 && r.SharpeRatio < 0 {
		parts = append(parts, "Risk-adjusted return is negative.")
	}
	if r.MaxDrawdownPct > 20 {
		parts = append(parts, fmt.Sprintf("Drawdown reached %s%%; consider tighter stops.", fixed(r.MaxDrawdownPct, 2)))
	}
	if b.Counters.Liquidations > 0 {
		parts = append(parts, fmt.Sprintf("%d position(s) were liquidated.", b.Counters.Liquidations))
	}
	return strings.Join(parts, " ")
}
