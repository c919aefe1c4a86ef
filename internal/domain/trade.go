package domain

import "time"

// TradeAction identifies what a Trade record did to the book.
type TradeAction string

const (
	TradeOpen        TradeAction = "open"
	TradeClose       TradeAction = "close"
	TradeLiquidation TradeAction = "liquidation"
)

// CloseReason tags why a position was closed.
type CloseReason string

const (
	ReasonSignal       CloseReason = "signal"
	ReasonStopLoss     CloseReason = "stop_loss"
	ReasonTakeProfit   CloseReason = "take_profit"
	ReasonTrailingStop CloseReason = "trailing_stop"
	ReasonLiquidation  CloseReason = "liquidation"
	ReasonBacktestEnd  CloseReason = "backtest_end"
)

// Trade is an immutable ledger entry. PnL is zero for opens; for closes it is
// the realized PnL before the close commission.
type Trade struct {
	ID          int64         `json:"id"`
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	Action      TradeAction   `json:"action"`
	Quantity    float64       `json:"quantity"`
	Price       float64       `json:"price"`
	Timestamp   time.Time     `json:"timestamp"`
	PnL         float64       `json:"pnl"`
	PnLPct      float64       `json:"pnl_pct"`
	Commission  float64       `json:"commission"`
	Slippage    float64       `json:"slippage"`
	EntryPrice  float64       `json:"entry_price,omitempty"`
	HoldingTime time.Duration `json:"holding_time,omitempty"`
	Reason      CloseReason   `json:"reason,omitempty"`
}

// HoldingHours returns the holding duration in hours.
func (t Trade) HoldingHours() float64 {
	return t.HoldingTime.Hours()
}

// IsExit reports whether the trade removed exposure.
func (t Trade) IsExit() bool {
	return t.Action == TradeClose || t.Action == TradeLiquidation
}
