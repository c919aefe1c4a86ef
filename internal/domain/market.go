package domain

import "time"

// Bar is one OHLCV candle for a symbol. FundingRate and MarkPrice are set
// only on bars that carry a funding print.
type Bar struct {
	Symbol      string    `json:"symbol"`
	Time        time.Time `json:"time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	FundingRate *float64  `json:"funding_rate,omitempty"`
	MarkPrice   float64   `json:"mark_price,omitempty"`
}

// Funding is the rate and mark price applicable at a settlement instant.
type Funding struct {
	Rate      float64
	MarkPrice float64
}

// Snapshot is everything the feed knows at one timestamp.
type Snapshot struct {
	Timestamp time.Time
	Prices    map[string]float64
	// Funding is non-nil only at settlement instants.
	Funding map[string]Funding
	// History holds the trailing bars per symbol, oldest first, ending at
	// Timestamp.
	History map[string][]Bar
}

// Price returns the price for symbol and whether it was present.
func (s Snapshot) Price(symbol string) (float64, bool) {
	p, ok := s.Prices[symbol]
	return p, ok
}

// IsSettlement reports whether funding applies at this snapshot.
func (s Snapshot) IsSettlement() bool {
	return len(s.Funding) > 0
}
