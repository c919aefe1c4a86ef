// Package ledger is the margin accounting core of a backtest. A Portfolio owns
// cash, open positions, the trade log and the equity curve for exactly one
// run, and applies exchange-style rules for fees, slippage, funding, stops and
// liquidation. A Portfolio is not safe for concurrent use.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Config is validated once at construction and never changes.
type Config struct {
	InitialCapital float64
	Leverage       float64
	MarginMode     domain.MarginMode
	ContractType   domain.ContractType
	ContractSize   float64
	Fees           FeeModel
}

// Validate collects every violation into one error.
func (c Config) Validate() error {
	var errs []string
	if c.InitialCapital <= 0 {
		errs = append(errs, fmt.Sprintf("initial capital must be positive, got %g", c.InitialCapital))
	}
	if c.Leverage < 1 || c.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("leverage must be in [1, 125], got %g", c.Leverage))
	}
	if c.Fees.SlippageRate < 0 || c.Fees.SlippageRate > 1 {
		errs = append(errs, fmt.Sprintf("slippage rate must be in [0, 1], got %g", c.Fees.SlippageRate))
	}
	if c.Fees.CommissionRate < 0 || c.Fees.CommissionRate > 1 {
		errs = append(errs, fmt.Sprintf("commission rate must be in [0, 1], got %g", c.Fees.CommissionRate))
	}
	if c.Fees.LiquidationFeeRate < 0 || c.Fees.LiquidationFeeRate > 1 {
		errs = append(errs, fmt.Sprintf("liquidation fee rate must be in [0, 1], got %g", c.Fees.LiquidationFeeRate))
	}
	if c.MarginMode != domain.MarginCross && c.MarginMode != domain.MarginIsolated {
		errs = append(errs, fmt.Sprintf("margin mode must be cross or isolated, got %q", c.MarginMode))
	}
	if c.ContractType != domain.ContractLinear && c.ContractType != domain.ContractInverse {
		errs = append(errs, fmt.Sprintf("contract type must be linear or inverse, got %q", c.ContractType))
	}
	if c.ContractType == domain.ContractInverse && c.ContractSize <= 0 {
		errs = append(errs, fmt.Sprintf("contract size must be positive, got %g", c.ContractSize))
	}
	if _, err := ValidateTiers(c.Fees.Tiers); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Counters are the cumulative cost totals of a run. FundingPaid is net of
// funding received.
type Counters struct {
	FundingPaid   float64 `json:"total_funding_paid"`
	FeesPaid      float64 `json:"total_fees_paid"`
	SlippageCost  float64 `json:"total_slippage_cost"`
	Liquidations  int     `json:"liquidation_count"`
	RejectedOpens int     `json:"rejected_opens"`
}

// Rejection explains why an operation was a no-op. The empty value means the
// operation was applied.
type Rejection string

const (
	Accepted           Rejection = ""
	RejectDuplicate    Rejection = "position_exists"
	RejectNoPosition   Rejection = "no_position"
	RejectNoCash       Rejection = "insufficient_cash"
	RejectInvalid      Rejection = "invalid_request"
	RejectSideMismatch Rejection = "side_mismatch"
)

// Portfolio is the ledger of one backtest run.
type Portfolio struct {
	cfg          Config
	cash         float64
	peak         float64
	nextID       int64
	positions    map[string]*domain.Position
	trades       []domain.Trade
	curve        []domain.EquityPoint
	funding      []domain.FundingEvent
	liquidations []domain.LiquidationEvent
	counters     Counters
	logger       *slog.Logger
}

// NewPortfolio validates cfg and returns an empty book holding the initial
// capital in cash.
func NewPortfolio(cfg Config, logger *slog.Logger) (*Portfolio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: new portfolio: %w", err)
	}
	tiers, _ := ValidateTiers(cfg.Fees.Tiers)
	cfg.Fees.Tiers = tiers
	if cfg.ContractSize <= 0 {
		cfg.ContractSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Portfolio{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		peak:      cfg.InitialCapital,
		positions: make(map[string]*domain.Position),
		logger:    logger.With(slog.String("component", "ledger")),
	}, nil
}

// Config returns the validated configuration.
func (p *Portfolio) Config() Config { return p.cfg }

// Cash returns uninvested cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// PeakEquity returns the running all-time equity peak.
func (p *Portfolio) PeakEquity() float64 { return p.peak }

// Counters returns the cumulative cost totals.
func (p *Portfolio) Counters() Counters { return p.counters }

// Position returns a copy of the open position for symbol.
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol.
func (p *Portfolio) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, sym := range p.symbols() {
		out = append(out, *p.positions[sym])
	}
	return out
}

// HasPosition reports whether symbol is open.
func (p *Portfolio) HasPosition(symbol string) bool {
	_, ok := p.positions[symbol]
	return ok
}

// Trades returns the trade log.
func (p *Portfolio) Trades() []domain.Trade {
	return append([]domain.Trade(nil), p.trades...)
}

// EquityCurve returns the sampled equity curve.
func (p *Portfolio) EquityCurve() []domain.EquityPoint {
	return append([]domain.EquityPoint(nil), p.curve...)
}

// FundingHistory returns every funding settlement applied.
func (p *Portfolio) FundingHistory() []domain.FundingEvent {
	return append([]domain.FundingEvent(nil), p.funding...)
}

// LiquidationHistory returns every forced close.
func (p *Portfolio) LiquidationHistory() []domain.LiquidationEvent {
	return append([]domain.LiquidationEvent(nil), p.liquidations...)
}

// UsedMargin returns the margin posted across all open positions.
func (p *Portfolio) UsedMargin() float64 {
	var total float64
	for _, sym := range p.symbols() {
		total += p.positions[sym].Margin
	}
	return total
}

// Equity returns cash plus posted margin plus unrealized PnL. Positions with
// no price in prices are marked at entry.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	equity := p.cash
	for _, sym := range p.symbols() {
		pos := p.positions[sym]
		equity += pos.Margin + pos.UnrealizedPnL(markPrice(prices, pos))
	}
	return equity
}

// symbols returns open symbols in sorted order so every pass over the book is
// deterministic.
func (p *Portfolio) symbols() []string {
	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (p *Portfolio) appendTrade(t domain.Trade) domain.Trade {
	p.nextID++
	t.ID = p.nextID
	p.trades = append(p.trades, t)
	return t
}

func (p *Portfolio) notional(qty, price float64) float64 {
	if p.cfg.ContractType == domain.ContractInverse {
		return qty * p.cfg.ContractSize
	}
	return qty * price
}

func (p *Portfolio) slippageCost(qty, impact, price float64) float64 {
	if p.cfg.ContractType == domain.ContractInverse {
		if price <= 0 {
			return 0
		}
		return qty * p.cfg.ContractSize * impact / price
	}
	return qty * impact
}

func markPrice(prices map[string]float64, pos *domain.Position) float64 {
	if px, ok := prices[pos.Symbol]; ok && px > 0 {
		return px
	}
	return pos.EntryPrice
}

func ptr(v float64) *float64 { return &v }
