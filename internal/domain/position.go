package domain

import "time"

// Side is the direction of an exposure.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// ContractType selects how notional and PnL are computed.
type ContractType string

const (
	ContractLinear  ContractType = "linear"  // quote-margined
	ContractInverse ContractType = "inverse" // coin-margined, fixed face value per contract
)

// MarginMode selects how liquidation is evaluated.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Position is one open exposure in one instrument. Derived values (notional,
// PnL, trigger checks) are computed from a supplied price and never stored.
type Position struct {
	Symbol          string
	Side            Side
	Quantity        float64
	EntryPrice      float64
	EntryTime       time.Time
	Leverage        float64
	Margin          float64 // initial margin currently posted
	StopLoss        *float64
	TakeProfit      *float64
	TrailingStopPct *float64
	HighestPrice    float64
	LowestPrice     float64
	ContractType    ContractType
	ContractSize    float64
}

// Notional returns the economic size of the position at price.
func (p Position) Notional(price float64) float64 {
	if p.ContractType == ContractInverse {
		return p.Quantity * p.ContractSize
	}
	return p.Quantity * price
}

// UnrealizedPnL returns the PnL in quote currency if the position were closed
// at price. Inverse PnL is computed in coin units and converted at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return p.pnlFor(p.Quantity, price)
}

func (p Position) pnlFor(qty, price float64) float64 {
	if price <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	sign := p.Side.Sign()
	if p.ContractType == ContractInverse {
		coin := (1/p.EntryPrice - 1/price) * qty * p.ContractSize * sign
		return coin * price
	}
	return (price - p.EntryPrice) * qty * sign
}

// PartialPnL returns the PnL of closing qty units at price.
func (p Position) PartialPnL(qty, price float64) float64 {
	return p.pnlFor(qty, price)
}

// PnLPct returns unrealized PnL as a percentage of the entry notional.
func (p Position) PnLPct(price float64) float64 {
	base := p.Notional(p.EntryPrice)
	if base == 0 {
		return 0
	}
	return p.UnrealizedPnL(price) / base * 100
}

// UpdateWatermark moves the trailing watermark for the position's side.
func (p *Position) UpdateWatermark(price float64) {
	if p.Side == SideLong {
		if price > p.HighestPrice {
			p.HighestPrice = price
		}
		return
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
}

func (p Position) StopLossHit(price float64) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == SideLong {
		return price <= *p.StopLoss
	}
	return price >= *p.StopLoss
}

func (p Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == SideLong {
		return price >= *p.TakeProfit
	}
	return price <= *p.TakeProfit
}

// TrailingStopHit reports whether price has retraced TrailingStopPct percent
// from the best price seen since entry.
func (p Position) TrailingStopHit(price float64) bool {
	if p.TrailingStopPct == nil || *p.TrailingStopPct <= 0 {
		return false
	}
	pct := *p.TrailingStopPct / 100
	if p.Side == SideLong {
		return price <= p.HighestPrice*(1-pct)
	}
	return price >= p.LowestPrice*(1+pct)
}

// HoldingTime returns the elapsed time since entry.
func (p Position) HoldingTime(now time.Time) time.Duration {
	if p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}
