package ledger

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// OpenRequest describes a new exposure. Percentages are in percent units
// (1.5 means 1.5%); zero disables the corresponding stop.
type OpenRequest struct {
	Symbol          string
	Side            domain.Side
	Quantity        float64
	Price           float64
	Time            time.Time
	Leverage        float64 // zero uses the portfolio leverage
	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64
}

func (r OpenRequest) valid() bool {
	return r.Symbol != "" && r.Quantity > 0 && r.Price > 0 &&
		(r.Side == domain.SideLong || r.Side == domain.SideShort)
}

func (p *Portfolio) leverage(requested float64) float64 {
	lev := requested
	if lev <= 0 {
		lev = p.cfg.Leverage
	}
	if lev < 1 {
		lev = 1
	}
	if lev > 125 {
		lev = 125
	}
	return lev
}

// Open creates a position. It is a no-op when the symbol is already open or
// when margin plus commission exceeds cash.
func (p *Portfolio) Open(req OpenRequest) (*domain.Trade, Rejection) {
	if !req.valid() {
		return nil, RejectInvalid
	}
	if _, ok := p.positions[req.Symbol]; ok {
		p.logger.Warn("ledger: position already exists",
			slog.String("symbol", req.Symbol),
		)
		return nil, RejectDuplicate
	}

	lev := p.leverage(req.Leverage)
	exec, impact := p.cfg.Fees.Fill(req.Price, req.Side == domain.SideLong)
	notional := p.notional(req.Quantity, exec)
	commission := p.cfg.Fees.Commission(notional)
	margin := notional / lev

	if margin+commission > p.cash {
		p.counters.RejectedOpens++
		p.logger.Warn("ledger: insufficient cash",
			slog.String("symbol", req.Symbol),
			slog.Float64("cash", p.cash),
			slog.Float64("margin", margin),
			slog.Float64("commission", commission),
		)
		return nil, RejectNoCash
	}

	pos := &domain.Position{
		Symbol:       req.Symbol,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EntryPrice:   exec,
		EntryTime:    req.Time,
		Leverage:     lev,
		Margin:       margin,
		HighestPrice: exec,
		LowestPrice:  exec,
		ContractType: p.cfg.ContractType,
		ContractSize: p.cfg.ContractSize,
	}
	setStops(pos, req)
	p.positions[req.Symbol] = pos

	slip := p.slippageCost(req.Quantity, impact, req.Price)
	p.cash -= margin + commission
	p.counters.FeesPaid += commission
	p.counters.SlippageCost += slip

	t := p.appendTrade(domain.Trade{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Action:     domain.TradeOpen,
		Quantity:   req.Quantity,
		Price:      exec,
		Timestamp:  req.Time,
		Commission: commission,
		Slippage:   slip,
	})

	p.logger.Info("ledger: position opened",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", req.Quantity),
		slog.Float64("price", exec),
		slog.Float64("margin", margin),
	)
	return &t, Accepted
}

// Increase grows an existing same-side position by an incremental quantity.
// The entry price becomes the size-weighted average (harmonic for inverse
// contracts) and an open trade of the increment is appended.
func (p *Portfolio) Increase(req OpenRequest) (*domain.Trade, Rejection) {
	if !req.valid() {
		return nil, RejectInvalid
	}
	pos, ok := p.positions[req.Symbol]
	if !ok {
		return nil, RejectNoPosition
	}
	if pos.Side != req.Side {
		return nil, RejectSideMismatch
	}

	lev := p.leverage(req.Leverage)
	exec, impact := p.cfg.Fees.Fill(req.Price, req.Side == domain.SideLong)
	notional := p.notional(req.Quantity, exec)
	commission := p.cfg.Fees.Commission(notional)
	margin := notional / lev

	if margin+commission > p.cash {
		p.counters.RejectedOpens++
		p.logger.Warn("ledger: insufficient cash to add",
			slog.String("symbol", req.Symbol),
			slog.Float64("cash", p.cash),
			slog.Float64("margin", margin),
		)
		return nil, RejectNoCash
	}

	total := pos.Quantity + req.Quantity
	if pos.ContractType == domain.ContractInverse {
		pos.EntryPrice = total / (pos.Quantity/pos.EntryPrice + req.Quantity/exec)
	} else {
		pos.EntryPrice = (pos.Quantity*pos.EntryPrice + req.Quantity*exec) / total
	}
	pos.Quantity = total
	pos.Margin += margin
	if req.StopLossPct > 0 || req.TakeProfitPct > 0 || req.TrailingStopPct > 0 {
		setStops(pos, req)
	}

	slip := p.slippageCost(req.Quantity, impact, req.Price)
	p.cash -= margin + commission
	p.counters.FeesPaid += commission
	p.counters.SlippageCost += slip

	t := p.appendTrade(domain.Trade{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Action:     domain.TradeOpen,
		Quantity:   req.Quantity,
		Price:      exec,
		Timestamp:  req.Time,
		Commission: commission,
		Slippage:   slip,
	})

	p.logger.Info("ledger: position increased",
		slog.String("symbol", req.Symbol),
		slog.Float64("added", req.Quantity),
		slog.Float64("qty", pos.Quantity),
		slog.Float64("avg_entry", pos.EntryPrice),
	)
	return &t, Accepted
}

// setStops converts percentage stops into absolute prices around the
// position's entry.
func setStops(pos *domain.Position, req OpenRequest) {
	entry := pos.EntryPrice
	long := pos.Side == domain.SideLong
	if req.StopLossPct > 0 {
		if long {
			pos.StopLoss = ptr(entry * (1 - req.StopLossPct/100))
		} else {
			pos.StopLoss = ptr(entry * (1 + req.StopLossPct/100))
		}
	}
	if req.TakeProfitPct > 0 {
		if long {
			pos.TakeProfit = ptr(entry * (1 + req.TakeProfitPct/100))
		} else {
			pos.TakeProfit = ptr(entry * (1 - req.TakeProfitPct/100))
		}
	}
	if req.TrailingStopPct > 0 {
		pos.TrailingStopPct = ptr(req.TrailingStopPct)
	}
}

// Close fully closes symbol at price.
func (p *Portfolio) Close(symbol string, price float64, at time.Time, reason domain.CloseReason) (*domain.Trade, Rejection) {
	return p.CloseQuantity(symbol, 0, price, at, reason)
}

// CloseQuantity closes qty units of symbol. A qty of zero, or one at least
// as large as the holding, closes the whole position. A partial close returns
// only the proportional margin and keeps the position open.
func (p *Portfolio) CloseQuantity(symbol string, qty, price float64, at time.Time, reason domain.CloseReason) (*domain.Trade, Rejection) {
	pos, ok := p.positions[symbol]
	if !ok {
		p.logger.Debug("ledger: no position to close", slog.String("symbol", symbol))
		return nil, RejectNoPosition
	}
	if price <= 0 || qty < 0 {
		return nil, RejectInvalid
	}
	full := qty == 0 || qty >= pos.Quantity
	if full {
		qty = pos.Quantity
	}

	exec, impact := p.cfg.Fees.Fill(price, pos.Side == domain.SideShort)
	pnl := pos.PartialPnL(qty, exec)
	var pnlPct float64
	if base := p.notional(qty, pos.EntryPrice); base > 0 {
		pnlPct = pnl / base * 100
	}
	commission := p.cfg.Fees.Commission(p.notional(qty, exec))
	margin := pos.Margin
	if !full {
		margin = pos.Margin * qty / pos.Quantity
	}

	slip := p.slippageCost(qty, impact, price)
	p.cash += margin + pnl - commission
	p.counters.FeesPaid += commission
	p.counters.SlippageCost += slip

	t := p.appendTrade(domain.Trade{
		Symbol:      symbol,
		Side:        pos.Side,
		Action:      domain.TradeClose,
		Quantity:    qty,
		Price:       exec,
		Timestamp:   at,
		PnL:         pnl,
		PnLPct:      pnlPct,
		Commission:  commission,
		Slippage:    slip,
		EntryPrice:  pos.EntryPrice,
		HoldingTime: pos.HoldingTime(at),
		Reason:      reason,
	})

	if full {
		delete(p.positions, symbol)
	} else {
		pos.Quantity -= qty
		pos.Margin -= margin
	}

	p.logger.Info("ledger: position closed",
		slog.String("symbol", symbol),
		slog.String("side", string(t.Side)),
		slog.String("reason", string(reason)),
		slog.Float64("qty", qty),
		slog.Float64("price", exec),
		slog.Float64("pnl", pnl),
		slog.Bool("partial", !full),
	)
	return &t, Accepted
}

// CloseAll fully closes every open position, in symbol order. Symbols with no
// usable price close at their entry price.
func (p *Portfolio) CloseAll(prices map[string]float64, at time.Time, reason domain.CloseReason) []domain.Trade {
	var out []domain.Trade
	for _, sym := range p.symbols() {
		px := markPrice(prices, p.positions[sym])
		if t, rej := p.Close(sym, px, at, reason); rej == Accepted {
			out = append(out, *t)
		}
	}
	return out
}
