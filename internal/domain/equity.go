package domain

import "time"

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	TotalEquity   float64   `json:"total_equity"`
	Drawdown      float64   `json:"drawdown"`
	DrawdownPct   float64   `json:"drawdown_pct"`
}

// FundingEvent records one funding settlement against one position. Impact
// is signed from the account's point of view: negative means paid.
type FundingEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	PositionValue float64   `json:"position_value"`
	Rate          float64   `json:"rate"`
	Impact        float64   `json:"impact"`
}

// LiquidationEvent records one forced close.
type LiquidationEvent struct {
	Timestamp         time.Time  `json:"timestamp"`
	Symbol            string     `json:"symbol"`
	Side              Side       `json:"side"`
	Price             float64    `json:"price"`
	Mode              MarginMode `json:"mode"`
	Equity            float64    `json:"equity"`
	MaintenanceMargin float64    `json:"maintenance_margin"`
	Loss              float64    `json:"loss"`
}
