package ledger

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tier is one row of the maintenance-margin table. The rate applies to
// positions whose notional is at most MaxNotional.
type Tier struct {
	MaxNotional float64
	Rate        float64
}

// DefaultTiers returns the exchange-style tier table used when none is
// configured. The last tier is unbounded.
func DefaultTiers() []Tier {
	return []Tier{
		{MaxNotional: 50_000, Rate: 0.004},
		{MaxNotional: 250_000, Rate: 0.005},
		{MaxNotional: 1_000_000, Rate: 0.01},
		{MaxNotional: 5_000_000, Rate: 0.025},
		{MaxNotional: 20_000_000, Rate: 0.05},
		{MaxNotional: math.Inf(1), Rate: 0.1},
	}
}

// DefaultLiquidationFee is charged on the notional of every liquidated position.
const DefaultLiquidationFee = 0.005

// FeeStructure is a maker/taker commission schedule.
type FeeStructure struct {
	Maker float64
	Taker float64
}

// Rate returns the maker or taker rate.
func (f FeeStructure) Rate(maker bool) float64 {
	if maker {
		return f.Maker
	}
	return f.Taker
}

var presets = map[string]FeeStructure{
	"vip0": {Maker: 0.0002, Taker: 0.0004},
	"vip1": {Maker: 0.00016, Taker: 0.0004},
	"vip2": {Maker: 0.00014, Taker: 0.00035},
	"bnb":  {Maker: 0.00015, Taker: 0.0003},
}

// Preset looks up a named fee schedule.
func Preset(name string) (FeeStructure, bool) {
	f, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// FeeModel holds the cost parameters of a run. All methods are pure.
type FeeModel struct {
	CommissionRate     float64
	SlippageRate       float64
	LiquidationFeeRate float64
	Tiers              []Tier
}

// Commission returns the commission charged on notional.
func (m FeeModel) Commission(notional float64) float64 {
	return notional * m.CommissionRate
}

// Fill returns the executed price for an order quoted at price, together with
// the per-unit slippage. Buys fill higher and sells fill lower.
func (m FeeModel) Fill(price float64, buy bool) (exec, impact float64) {
	impact = price * m.SlippageRate
	if buy {
		return price + impact, impact
	}
	return price - impact, impact
}

// MaintenanceRate returns the rate of the first tier whose bound covers
// notional. An empty table falls back to the defaults.
func (m FeeModel) MaintenanceRate(notional float64) float64 {
	tiers := m.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	for _, t := range tiers {
		if notional <= t.MaxNotional {
			return t.Rate
		}
	}
	return tiers[len(tiers)-1].Rate
}

// MaintenanceMargin returns notional times its tier rate.
func (m FeeModel) MaintenanceMargin(notional float64) float64 {
	return notional * m.MaintenanceRate(notional)
}

// LiquidationFee returns the penalty charged when notional is force-closed.
func (m FeeModel) LiquidationFee(notional float64) float64 {
	return notional * m.LiquidationFeeRate
}

// ValidateTiers checks that bounds ascend strictly and rates are in (0, 1].
// The final tier is made unbounded if it is not already.
func ValidateTiers(tiers []Tier) ([]Tier, error) {
	if len(tiers) == 0 {
		return DefaultTiers(), nil
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].MaxNotional < out[j].MaxNotional }) {
		return nil, fmt.Errorf("ledger: tiers must be sorted by max notional")
	}
	for i, t := range out {
		if t.Rate <= 0 || t.Rate > 1 {
			return nil, fmt.Errorf("ledger: tier %d rate %g out of range (0, 1]", i, t.Rate)
		}
		if i > 0 && t.MaxNotional == out[i-1].MaxNotional {
			return nil, fmt.Errorf("ledger: duplicate tier bound %g", t.MaxNotional)
		}
	}
	out[len(out)-1].MaxNotional = math.Inf(1)
	return out, nil
}
