package domain

import "time"

// ActionKind enumerates what a decision source may ask for.
type ActionKind string

const (
	ActionHold       ActionKind = "hold"
	ActionLong       ActionKind = "long"
	ActionShort      ActionKind = "short"
	ActionClose      ActionKind = "close"
	ActionCloseLong  ActionKind = "close_long"
	ActionCloseShort ActionKind = "close_short"
	ActionAdd        ActionKind = "add_position"
	ActionReduce     ActionKind = "reduce_position"
)

// ParseActionKind maps wire names (including the open_long/open_short and
// wait aliases) to an ActionKind.
func ParseActionKind(s string) (ActionKind, bool) {
	switch s {
	case "hold", "wait", "":
		return ActionHold, true
	case "long", "open_long":
		return ActionLong, true
	case "short", "open_short":
		return ActionShort, true
	case "close":
		return ActionClose, true
	case "close_long":
		return ActionCloseLong, true
	case "close_short":
		return ActionCloseShort, true
	case "add_position":
		return ActionAdd, true
	case "reduce_position":
		return ActionReduce, true
	}
	return "", false
}

// TradeParams are optional sizing and risk overrides. A zero field means
// "use the run configuration".
type TradeParams struct {
	Leverage        float64 `json:"leverage,omitempty"`
	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct   float64 `json:"take_profit_pct,omitempty"`
	TrailingStopPct float64 `json:"trailing_stop_pct,omitempty"`
	PositionSizePct float64 `json:"position_size_pct,omitempty"`
}

// Action is a tagged variant. Only the fields relevant to Kind are read.
type Action struct {
	Kind      ActionKind
	Params    *TradeParams // long, short, add_position
	ReducePct float64      // reduce_position, percent of held quantity
}

func Hold() Action { return Action{Kind: ActionHold} }
func Long(p *TradeParams) Action { return Action{Kind: ActionLong, Params: p} }
func Short(p *TradeParams) Action { return Action{Kind: ActionShort, Params: p} }
func Close() Action { return Action{Kind: ActionClose} }
func CloseLong() Action { return Action{Kind: ActionCloseLong} }
func CloseShort() Action { return Action{Kind: ActionCloseShort} }
func AddPosition(p *TradeParams) Action { return Action{Kind: ActionAdd, Params: p} }
func ReducePosition(pct float64) Action { return Action{Kind: ActionReduce, ReducePct: pct} }

// IsOpen reports whether the action may create or grow exposure.
func (a Action) IsOpen() bool {
	return a.Kind == ActionLong || a.Kind == ActionShort || a.Kind == ActionAdd
}

// IsClose reports whether the action asks to exit.
func (a Action) IsClose() bool {
	return a.Kind == ActionClose || a.Kind == ActionCloseLong || a.Kind == ActionCloseShort
}

// Decision is what a decision source returns for one symbol.
type Decision struct {
	Symbol     string
	Action     Action
	Confidence float64 // 0-100
	Reason     string
}

// DecisionRecord is the audit entry kept for every non-hold decision.
type DecisionRecord struct {
	Timestamp  time.Time  `json:"timestamp"`
	Symbol     string     `json:"symbol"`
	Action     ActionKind `json:"action"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
	Price      float64    `json:"price"`
	Executed   bool       `json:"executed"`
	Note       string     `json:"note,omitempty"`
}
