package strategy

import "time"

// Kind distinguishes entry from exit signals.
type Kind int

const (
	KindEntry Kind = iota
	KindExit
)

func (k Kind) String() string {
	if k == KindEntry {
		return "entry"
	}
	return "exit"
}

// ExitReason identifies which rule produced an exit, in priority order.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitTrailingStop
	ExitTakeProfit
	ExitStopLoss
	ExitMarketShift
	ExitSignalReversal
	ExitForced
)

func (r ExitReason) String() string {
	switch r {
	case ExitTrailingStop:
		return "TRAILING_STOP"
	case ExitTakeProfit:
		return "TAKE_PROFIT"
	case ExitStopLoss:
		return "STOP_LOSS"
	case ExitMarketShift:
		return "MARKET_STATE_CHANGE"
	case ExitSignalReversal:
		return "SIGNAL_REVERSAL"
	case ExitForced:
		return "FORCED_LIQUIDATION"
	default:
		return "NONE"
	}
}

// Signal is an immutable trading intent. Produced once, consumed exactly once
// by the position state machine.
type Signal struct {
	Kind       Kind      `json:"kind"`
	Instrument string    `json:"instrument"`
	StrategyID string    `json:"strategy_id"`
	Reason     string    `json:"reason"`
	Strength   float64   `json:"strength"` // 0..1, informational
	Price      float64   `json:"price"`
	At         time.Time `json:"at"`
}
