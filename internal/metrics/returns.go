package metrics

import (
	"math"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Returns is the per-sample fractional change of total equity. A sample that
// follows a non-positive equity contributes zero.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if prev > 0 {
			out[i-1] = (curve[i].TotalEquity - prev) / prev
		}
	}
	return out
}

type drawdown struct {
	amount float64
	pct    float64
	days   int
}

// maxDrawdown scans the whole curve against its running peak. The duration
// runs from the peak preceding the deepest point to the first sample that
// regains that peak, or to the end of the curve.
func maxDrawdown(curve []domain.EquityPoint) drawdown {
	var dd drawdown
	if len(curve) == 0 {
		return dd
	}

	peak := curve[0].TotalEquity
	peakIdx, ddPeakIdx, ddIdx := 0, 0, -1
	for i, pt := range curve {
		if pt.TotalEquity > peak {
			peak = pt.TotalEquity
			peakIdx = i
		}
		amount := peak - pt.TotalEquity
		if amount > dd.amount {
			dd.amount = amount
			ddIdx = i
			ddPeakIdx = peakIdx
		}
		if peak > 0 {
			dd.pct = math.Max(dd.pct, amount/peak*100)
		}
	}
	if ddIdx < 0 {
		return dd
	}

	end := curve[len(curve)-1].Timestamp
	target := curve[ddPeakIdx].TotalEquity
	for _, pt := range curve[ddIdx:] {
		if pt.TotalEquity >= target {
			end = pt.Timestamp
			break
		}
	}
	dd.days = wholeDays(end.Sub(curve[ddPeakIdx].Timestamp))
	return dd
}

// stdDev is the sample standard deviation. Fewer than two values yield zero.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
