package report

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Flat renders the metrics as string key-value pairs with fixed decimal
// places. Infinite values render as "inf" or "-inf".
func (b *Bundle) Flat() map[string]string {
	r := b.Report
	m := map[string]string{
		"initial_capital":            money(b.InitialCapital),
		"final_equity":               money(r.FinalEquity),
		"profit_amount":              money(r.ProfitAmount),
		"total_return_pct":           fixed(r.TotalReturn, 2),
		"annualized_return_pct":      fixed(r.AnnualizedReturn, 2),
		"max_drawdown":               money(r.MaxDrawdown),
		"max_drawdown_pct":           fixed(r.MaxDrawdownPct, 2),
		"max_drawdown_duration_days": strconv.Itoa(r.MaxDrawdownDuration),
		"sharpe_ratio":               fixed(r.SharpeRatio, 4),
		"sortino_ratio":              fixed(r.SortinoRatio, 4),
		"calmar_ratio":               fixed(r.CalmarRatio, 4),
		"volatility_pct":             fixed(r.Volatility, 2),
		"total_trades":               strconv.Itoa(r.TotalTrades),
		"winning_trades":             strconv.Itoa(r.WinningTrades),
		"losing_trades":              strconv.Itoa(r.LosingTrades),
		"win_rate_pct":               fixed(r.WinRate, 1),
		"profit_factor":              fixed(r.ProfitFactor, 4),
		"avg_trade_pnl":              money(r.AvgTradePnL),
		"avg_win":                    money(r.AvgWin),
		"avg_loss":                   money(r.AvgLoss),
		"largest_win":                money(r.LargestWin),
		"largest_loss":               money(r.LargestLoss),
		"avg_holding_hours":          fixed(r.AvgHoldingHours, 1),
		"max_consecutive_wins":       strconv.Itoa(r.MaxConsecutiveWins),
		"max_consecutive_losses":     strconv.Itoa(r.MaxConsecutiveLosses),
		"long_trades":                strconv.Itoa(r.Long.Trades),
		"long_win_rate_pct":          fixed(r.Long.WinRate, 1),
		"long_pnl":                   money(r.Long.TotalPnL),
		"short_trades":               strconv.Itoa(r.Short.Trades),
		"short_win_rate_pct":         fixed(r.Short.WinRate, 1),
		"short_pnl":                  money(r.Short.TotalPnL),
		"total_days":                 strconv.Itoa(r.TotalDays),
		"trading_days":               strconv.Itoa(r.TradingDays),
		"var_95_pct":                 fixed(b.Risk.VaR95, 4),
		"var_99_pct":                 fixed(b.Risk.VaR99, 4),
		"cvar_95_pct":                fixed(b.Risk.CVaR95, 4),
		"cvar_99_pct":                fixed(b.Risk.CVaR99, 4),
		"total_funding_paid":         fixed(b.Counters.FundingPaid, 4),
		"total_fees_paid":            fixed(b.Counters.FeesPaid, 4),
		"total_slippage_cost":        fixed(b.Counters.SlippageCost, 4),
		"liquidation_count":          strconv.Itoa(b.Counters.Liquidations),
		"rejected_opens":             strconv.Itoa(b.Counters.RejectedOpens),
		"cancelled":                  strconv.FormatBool(b.Cancelled),
		"start_date":                 "",
		"end_date":                   "",
	}
	if !r.StartDate.IsZero() {
		m["start_date"] = r.StartDate.UTC().Format(time.DateOnly)
		m["end_date"] = r.EndDate.UTC().Format(time.DateOnly)
	}
	return m
}

func money(v float64) string { return fixed(v, 2) }

func fixed(v float64, places int32) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}
