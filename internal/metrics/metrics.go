// Package metrics turns a finished equity curve and trade log into a
// performance report. Every function here is pure: the same inputs always
// produce the same output, and nothing depends on the engine.
package metrics

import (
	"math"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

const (
	riskFreeRate = 0.02
	daysPerYear  = 365
)

// Report is the evaluation of one run. Percentages are in percent units.
// ProfitFactor is +Inf when there are winning trades and no losing ones.
type Report struct {
	TotalReturn      float64
	AnnualizedReturn float64 // display only, misleading for short runs
	FinalEquity      float64
	ProfitAmount     float64

	MaxDrawdown         float64
	MaxDrawdownPct      float64
	MaxDrawdownDuration int // days

	SharpeRatio  float64
	SortinoRatio float64
	CalmarRatio  float64
	Volatility   float64 // annualized, display only

	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64
	ProfitFactor         float64
	AvgTradePnL          float64
	AvgWin               float64
	AvgLoss              float64
	LargestWin           float64
	LargestLoss          float64
	AvgHoldingHours      float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	Long  SideStats
	Short SideStats

	StartDate   time.Time
	EndDate     time.Time
	TotalDays   int
	TradingDays int
}

// SideStats mirrors the aggregate trade statistics for one side.
type SideStats struct {
	Trades   int
	WinRate  float64
	TotalPnL float64
}

// Calculate evaluates curve and trades against the starting capital. Only
// trades with action close count toward trade statistics; liquidations reach
// the report through the equity curve.
func Calculate(curve []domain.EquityPoint, trades []domain.Trade, initialCapital float64) Report {
	closed := closedTrades(trades)

	r := Report{FinalEquity: initialCapital}
	if n := len(curve); n > 0 {
		r.FinalEquity = curve[n-1].TotalEquity
		r.StartDate = curve[0].Timestamp
		r.EndDate = curve[n-1].Timestamp
		r.TotalDays = wholeDays(r.EndDate.Sub(r.StartDate))
	}
	r.ProfitAmount = r.FinalEquity - initialCapital
	if initialCapital > 0 && len(curve) > 0 {
		r.TotalReturn = r.ProfitAmount / initialCapital * 100
		if r.TotalDays > 0 {
			r.AnnualizedReturn = (math.Pow(1+r.TotalReturn/100, daysPerYear/float64(r.TotalDays)) - 1) * 100
		}
	}

	dd := maxDrawdown(curve)
	r.MaxDrawdown = dd.amount
	r.MaxDrawdownPct = dd.pct
	r.MaxDrawdownDuration = dd.days

	r.SharpeRatio, r.SortinoRatio, r.Volatility = riskAdjusted(Returns(curve), r.TotalReturn)
	if r.MaxDrawdownPct > 0 {
		r.CalmarRatio = r.TotalReturn / r.MaxDrawdownPct
	}

	tradeStats(&r, closed)
	r.Long = sideStats(closed, domain.SideLong)
	r.Short = sideStats(closed, domain.SideShort)
	r.TradingDays = tradingDays(closed)
	return r
}

func closedTrades(trades []domain.Trade) []domain.Trade {
	var out []domain.Trade
	for _, t := range trades {
		if t.Action == domain.TradeClose {
			out = append(out, t)
		}
	}
	return out
}

// riskAdjusted returns Sharpe and Sortino scaled by sample count, plus the
// annualized volatility of the per-sample returns.
func riskAdjusted(returns []float64, totalReturn float64) (sharpe, sortino, volatility float64) {
	n := len(returns)
	if n == 0 {
		return 0, 0, 0
	}
	std := stdDev(returns)
	excess := totalReturn - riskFreeRate*float64(n)/daysPerYear*100
	scale := math.Sqrt(float64(n))

	if std > 0 {
		sharpe = excess / (std * 100 * scale)
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if ds := stdDev(downside); ds > 0 {
		sortino = excess / (ds * 100 * scale)
	}

	volatility = std * math.Sqrt(daysPerYear) * 100
	return sharpe, sortino, volatility
}

func tradeStats(r *Report, closed []domain.Trade) {
	r.TotalTrades = len(closed)
	if len(closed) == 0 {
		return
	}

	var total, wins, losses, holding float64
	r.LargestWin = closed[0].PnL
	r.LargestLoss = closed[0].PnL
	var streakWin, streakLoss int
	for _, t := range closed {
		total += t.PnL
		holding += t.HoldingHours()
		r.LargestWin = math.Max(r.LargestWin, t.PnL)
		r.LargestLoss = math.Min(r.LargestLoss, t.PnL)

		switch {
		case t.PnL > 0:
			r.WinningTrades++
			wins += t.PnL
			streakWin++
			streakLoss = 0
		case t.PnL < 0:
			r.LosingTrades++
			losses += t.PnL
			streakLoss++
			streakWin = 0
		default:
			streakWin, streakLoss = 0, 0
		}
		r.MaxConsecutiveWins = max(r.MaxConsecutiveWins, streakWin)
		r.MaxConsecutiveLosses = max(r.MaxConsecutiveLosses, streakLoss)
	}

	n := float64(len(closed))
	r.WinRate = float64(r.WinningTrades) / n * 100
	r.AvgTradePnL = total / n
	r.AvgHoldingHours = holding / n
	if r.WinningTrades > 0 {
		r.AvgWin = wins / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = losses / float64(r.LosingTrades)
	}
	if losses < 0 {
		r.ProfitFactor = wins / math.Abs(losses)
	} else {
		r.ProfitFactor = math.Inf(1)
	}
}

func sideStats(closed []domain.Trade, side domain.Side) SideStats {
	var s SideStats
	var wins int
	for _, t := range closed {
		if t.Side != side {
			continue
		}
		s.Trades++
		s.TotalPnL += t.PnL
		if t.PnL > 0 {
			wins++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(wins) / float64(s.Trades) * 100
	}
	return s
}

func tradingDays(closed []domain.Trade) int {
	days := make(map[string]struct{})
	for _, t := range closed {
		days[t.Timestamp.UTC().Format(time.DateOnly)] = struct{}{}
	}
	return len(days)
}

func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
