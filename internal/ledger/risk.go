package ledger

import (
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// ApplyFunding settles one funding payment for symbol and returns the signed
// cash impact (negative means paid). Longs pay a positive rate and shorts pay
// a negative one. Funding never touches the entry price.
func (p *Portfolio) ApplyFunding(symbol string, rate, mark float64, at time.Time) float64 {
	pos, ok := p.positions[symbol]
	if !ok || mark <= 0 {
		return 0
	}

	value := pos.Notional(mark)
	fee := value * math.Abs(rate)
	impact := fee
	if (pos.Side == domain.SideLong) == (rate > 0) {
		impact = -fee
	}

	p.cash += impact
	p.counters.FundingPaid -= impact
	p.funding = append(p.funding, domain.FundingEvent{
		Timestamp:     at,
		Symbol:        symbol,
		Side:          pos.Side,
		PositionValue: value,
		Rate:          rate,
		Impact:        impact,
	})

	p.logger.Debug("ledger: funding settled",
		slog.String("symbol", symbol),
		slog.Float64("rate", rate),
		slog.Float64("impact", impact),
	)
	return impact
}

// CheckStops updates each position's trailing watermark from prices, then
// evaluates stop-loss, take-profit and trailing stop in that order. The first
// condition that holds closes the whole position. Symbols absent from prices
// are skipped.
func (p *Portfolio) CheckStops(prices map[string]float64, at time.Time) []domain.Trade {
	type hit struct {
		symbol string
		price  float64
		reason domain.CloseReason
	}
	var hits []hit
	for _, sym := range p.symbols() {
		px, ok := prices[sym]
		if !ok || px <= 0 {
			continue
		}
		pos := p.positions[sym]
		pos.UpdateWatermark(px)
		switch {
		case pos.StopLossHit(px):
			hits = append(hits, hit{sym, px, domain.ReasonStopLoss})
		case pos.TakeProfitHit(px):
			hits = append(hits, hit{sym, px, domain.ReasonTakeProfit})
		case pos.TrailingStopHit(px):
			hits = append(hits, hit{sym, px, domain.ReasonTrailingStop})
		}
	}

	var out []domain.Trade
	for _, h := range hits {
		if t, rej := p.Close(h.symbol, h.price, at, h.reason); rej == Accepted {
			out = append(out, *t)
		}
	}
	return out
}

// CheckLiquidation force-closes positions whose margin is exhausted and
// returns the liquidated symbols.
//
// Cross: equity is cash plus the unrealized PnL of every position, compared
// with the sum of each position's own tiered maintenance margin; a breach
// liquidates the whole book. Isolated: each position's margin plus its PnL
// is compared with its maintenance margin independently.
func (p *Portfolio) CheckLiquidation(prices map[string]float64, at time.Time) []string {
	if len(p.positions) == 0 {
		return nil
	}

	var out []string
	if p.cfg.MarginMode == domain.MarginCross {
		equity := p.cash
		var maintenance float64
		for _, sym := range p.symbols() {
			pos := p.positions[sym]
			px := markPrice(prices, pos)
			equity += pos.UnrealizedPnL(px)
			maintenance += p.cfg.Fees.MaintenanceMargin(pos.Notional(px))
		}
		if equity >= maintenance {
			return nil
		}
		p.logger.Error("ledger: cross liquidation triggered",
			slog.Float64("equity", equity),
			slog.Float64("maintenance_margin", maintenance),
			slog.Int("positions", len(p.positions)),
		)
		for _, sym := range p.symbols() {
			p.liquidate(sym, markPrice(prices, p.positions[sym]), at, equity, maintenance)
			out = append(out, sym)
		}
		return out
	}

	for _, sym := range p.symbols() {
		pos := p.positions[sym]
		px := markPrice(prices, pos)
		equity := pos.Margin + pos.UnrealizedPnL(px)
		maintenance := p.cfg.Fees.MaintenanceMargin(pos.Notional(px))
		if equity < maintenance {
			p.logger.Error("ledger: isolated liquidation triggered",
				slog.String("symbol", sym),
				slog.Float64("equity", equity),
				slog.Float64("maintenance_margin", maintenance),
			)
			p.liquidate(sym, px, at, equity, maintenance)
			out = append(out, sym)
		}
	}
	return out
}

// liquidate closes symbol at the mark price without slippage. The margin and
// PnL settle into cash less the liquidation fee, and cash never goes below
// zero.
func (p *Portfolio) liquidate(symbol string, price float64, at time.Time, equity, maintenance float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}

	pnl := pos.UnrealizedPnL(price)
	fee := p.cfg.Fees.LiquidationFee(pos.Notional(price))
	before := p.cash
	p.cash = math.Max(0, p.cash+pos.Margin+pnl-fee)
	p.counters.FeesPaid += fee
	p.counters.Liquidations++

	p.appendTrade(domain.Trade{
		Symbol:      symbol,
		Side:        pos.Side,
		Action:      domain.TradeLiquidation,
		Quantity:    pos.Quantity,
		Price:       price,
		Timestamp:   at,
		PnL:         pnl - fee,
		PnLPct:      pos.PnLPct(price),
		EntryPrice:  pos.EntryPrice,
		HoldingTime: pos.HoldingTime(at),
		Reason:      domain.ReasonLiquidation,
	})
	p.liquidations = append(p.liquidations, domain.LiquidationEvent{
		Timestamp:         at,
		Symbol:            symbol,
		Side:              pos.Side,
		Price:             price,
		Mode:              p.cfg.MarginMode,
		Equity:            equity,
		MaintenanceMargin: maintenance,
		Loss:              p.cash - before - pos.Margin,
	})
	delete(p.positions, symbol)

	p.logger.Error("ledger: position liquidated",
		slog.String("symbol", symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("price", price),
		slog.Float64("pnl", pnl),
		slog.Float64("fee", fee),
	)
}

// RecordEquity samples the book at prices and appends an EquityPoint. Total
// equity is cash plus posted margin plus unrealized PnL; PositionValue is the
// margin-plus-PnL part of it.
func (p *Portfolio) RecordEquity(at time.Time, prices map[string]float64) domain.EquityPoint {
	var value float64
	for _, sym := range p.symbols() {
		pos := p.positions[sym]
		value += pos.Margin + pos.UnrealizedPnL(markPrice(prices, pos))
	}
	total := p.cash + value
	if total > p.peak {
		p.peak = total
	}
	dd := p.peak - total
	var ddPct float64
	if p.peak > 0 {
		ddPct = dd / p.peak * 100
	}

	pt := domain.EquityPoint{
		Timestamp:     at,
		Cash:          p.cash,
		PositionValue: value,
		TotalEquity:   total,
		Drawdown:      dd,
		DrawdownPct:   ddPct,
	}
	p.curve = append(p.curve, pt)
	return pt
}
