package metrics

import (
	"sort"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// RiskReport holds tail-risk figures from historical simulation over the
// equity returns, in percent. Values are positive losses.
type RiskReport struct {
	VaR95  float64 `json:"var_95"`
	VaR99  float64 `json:"var_99"`
	CVaR95 float64 `json:"cvar_95"`
	CVaR99 float64 `json:"cvar_99"`
}

// CalculateRisk computes value at risk and expected shortfall at 95% and 99%.
func CalculateRisk(curve []domain.EquityPoint) RiskReport {
	returns := Returns(curve)
	if len(returns) == 0 {
		return RiskReport{}
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	return RiskReport{
		VaR95:  valueAtRisk(sorted, 0.95) * 100,
		VaR99:  valueAtRisk(sorted, 0.99) * 100,
		CVaR95: expectedShortfall(sorted, 0.95) * 100,
		CVaR99: expectedShortfall(sorted, 0.99) * 100,
	}
}

func tailIndex(n int, confidence float64) int {
	idx := int(float64(n) * (1 - confidence))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func valueAtRisk(sorted []float64, confidence float64) float64 {
	return abs(sorted[tailIndex(len(sorted), confidence)])
}

func expectedShortfall(sorted []float64, confidence float64) float64 {
	idx := tailIndex(len(sorted), confidence)
	var sum float64
	for _, r := range sorted[:idx+1] {
		sum += r
	}
	return abs(sum / float64(idx+1))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
