package engine

import (
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/ledger"
)

// Notes recorded on decisions that did not change the book.
const (
	noteLowConfidence = "low_confidence"
	noteAlreadyOpen   = "already_open"
	noteNoPosition    = "no_position"
	noteSideMismatch  = "side_mismatch"
	noteMinHold       = "min_hold"
	noteZeroSize      = "zero_size"
	noteUnknown       = "unknown_action"
)

// noteCloseOnly marks a reversal whose flattening close went through but
// whose fresh open was rejected.
const noteCloseOnly = "reversed_close_only"

// execute translates one decision into ledger calls. It reports whether the
// book changed and a short note when it did not, or when a reversal only
// got as far as the close.
func (e *Engine) execute(d domain.Decision, price float64, at time.Time) (bool, string) {
	if d.Confidence < e.cfg.MinConfidence {
		return false, noteLowConfidence
	}

	pos, held := e.book.Position(d.Symbol)
	switch d.Action.Kind {
	case domain.ActionLong, domain.ActionShort:
		side := domain.SideLong
		if d.Action.Kind == domain.ActionShort {
			side = domain.SideShort
		}
		if held && pos.Side == side {
			return false, noteAlreadyOpen
		}
		if !held {
			return e.open(d, side, price, at)
		}
		// Reversal: flatten first, never net in place.
		if _, rej := e.book.Close(d.Symbol, price, at, domain.ReasonSignal); rej != ledger.Accepted {
			return false, string(rej)
		}
		if ok, note := e.open(d, side, price, at); !ok {
			return true, noteCloseOnly + ":" + note
		}
		return true, ""

	case domain.ActionClose, domain.ActionCloseLong, domain.ActionCloseShort:
		if !held {
			return false, noteNoPosition
		}
		if (d.Action.Kind == domain.ActionCloseLong && pos.Side != domain.SideLong) ||
			(d.Action.Kind == domain.ActionCloseShort && pos.Side != domain.SideShort) {
			return false, noteSideMismatch
		}
		reason := closeReason(d.Reason)
		if e.holdBlocks(pos, price, at, reason) {
			return false, noteMinHold
		}
		if _, rej := e.book.Close(d.Symbol, price, at, reason); rej != ledger.Accepted {
			return false, string(rej)
		}
		return true, ""

	case domain.ActionAdd:
		if !held {
			return false, noteNoPosition
		}
		req, ok := e.request(d, pos.Side, price, at)
		if !ok {
			return false, noteZeroSize
		}
		if _, rej := e.book.Increase(req); rej != ledger.Accepted {
			return false, string(rej)
		}
		return true, ""

	case domain.ActionReduce:
		if !held {
			return false, noteNoPosition
		}
		pct := d.Action.ReducePct
		if pct <= 0 || pct > 100 {
			pct = e.cfg.ReducePct
		}
		qty := pos.Quantity * pct / 100
		if _, rej := e.book.CloseQuantity(d.Symbol, qty, price, at, domain.ReasonSignal); rej != ledger.Accepted {
			return false, string(rej)
		}
		return true, ""
	}
	return false, noteUnknown
}

func (e *Engine) open(d domain.Decision, side domain.Side, price float64, at time.Time) (bool, string) {
	req, ok := e.request(d, side, price, at)
	if !ok {
		return false, noteZeroSize
	}
	if _, rej := e.book.Open(req); rej != ledger.Accepted {
		return false, string(rej)
	}
	return true, ""
}

// request sizes an open from the decision parameters, falling back to the
// run configuration for anything the parameters leave at zero.
func (e *Engine) request(d domain.Decision, side domain.Side, price float64, at time.Time) (ledger.OpenRequest, bool) {
	var params domain.TradeParams
	if d.Action.Params != nil {
		params = *d.Action.Params
	}
	lev := firstPositive(params.Leverage, e.cfg.Leverage, e.book.Config().Leverage, 1)
	size := e.positionSize(params.PositionSizePct, lev)

	bookCfg := e.book.Config()
	var qty float64
	if bookCfg.ContractType == domain.ContractInverse {
		qty = size / bookCfg.ContractSize
	} else {
		qty = size / price
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return ledger.OpenRequest{}, false
	}

	return ledger.OpenRequest{
		Symbol:          d.Symbol,
		Side:            side,
		Quantity:        qty,
		Price:           price,
		Time:            at,
		Leverage:        lev,
		StopLossPct:     firstPositive(params.StopLossPct, e.cfg.StopLossPct),
		TakeProfitPct:   firstPositive(params.TakeProfitPct, e.cfg.TakeProfitPct),
		TrailingStopPct: firstPositive(params.TrailingStopPct, e.cfg.TrailingStopPct),
	}, true
}

// positionSize returns the notional to open. A zero MaxPositionSize leaves
// the size bounded by cash alone.
func (e *Engine) positionSize(pct, lev float64) float64 {
	cash := e.book.Cash()
	capped := math.Inf(1)
	if e.cfg.MaxPositionSize > 0 {
		capped = e.cfg.MaxPositionSize * lev
	}
	if pct > 0 {
		return math.Min(math.Min(cash*pct/100*lev, cash*0.98*lev), capped)
	}
	return math.Min(capped, cash*0.95)
}

// holdBlocks reports whether the minimum holding time vetoes a close.
func (e *Engine) holdBlocks(pos domain.Position, price float64, at time.Time, reason domain.CloseReason) bool {
	if e.cfg.MinHold <= 0 || pos.HoldingTime(at) >= e.cfg.MinHold {
		return false
	}
	if reason == domain.ReasonStopLoss || reason == domain.ReasonTrailingStop {
		return false
	}
	if e.cfg.SevereLossPct > 0 && pos.PnLPct(price) < -e.cfg.SevereLossPct {
		return false
	}
	return true
}

// closeReason maps free-form decision text to a close tag.
func closeReason(text string) domain.CloseReason {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "trailing"):
		return domain.ReasonTrailingStop
	case strings.Contains(lower, "stop_loss"), strings.Contains(lower, "stop loss"):
		return domain.ReasonStopLoss
	case strings.Contains(lower, "take_profit"), strings.Contains(lower, "take profit"):
		return domain.ReasonTakeProfit
	}
	return domain.ReasonSignal
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
