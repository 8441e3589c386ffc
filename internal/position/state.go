// Package position tracks the single directional position held by the
// engine and decides which signals may change it.
package position

import (
	"fmt"
	"time"

	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// State is the engine's record of the position it opened. Side reuses the
// signal vocabulary (NONE, LONG, SHORT). EntryPrice is set iff Side != NONE.
type State struct {
	Symbol     string           `json:"symbol"`
	Side       strategy.Signal  `json:"side"`
	EntryPrice *decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time        `json:"opened_at,omitempty"`
}

// Flat returns the initial, position-less state for symbol.
func Flat(symbol string) State {
	return State{Symbol: symbol, Side: strategy.SignalNone}
}

// IsFlat reports whether no position is held.
func (s State) IsFlat() bool {
	return s.Side == "" || s.Side == strategy.SignalNone
}

// Validate checks the entry price invariant.
func (s State) Validate() error {
	switch s.Side {
	case strategy.SignalNone, "":
		if s.EntryPrice != nil {
			return fmt.Errorf("position: flat state with entry price %s", s.EntryPrice)
		}
	case strategy.SignalLong, strategy.SignalShort:
		if s.EntryPrice == nil {
			return fmt.Errorf("position: %s state without entry price", s.Side)
		}
	default:
		return fmt.Errorf("position: unknown side %q", s.Side)
	}
	return nil
}

// TransitionAllowed reports whether sig should change the current position:
// it must be a real direction and differ from what is already held.
func TransitionAllowed(current State, sig strategy.Signal) bool {
	if sig == strategy.SignalNone || sig == "" {
		return false
	}
	if current.IsFlat() {
		return true
	}
	return sig != current.Side
}
