// Package strategy turns indicator series into directional trading signals.
//
// The RSI/SMA-of-RSI crossover is the only strategy: RSI crossing above its
// own moving average signals LONG, crossing below signals SHORT.
package strategy

import "futures-signal-engine/internal/model"

// Signal is the directional outcome of one evaluation. It is derived per
// cycle and never persisted.
type Signal string

const (
	SignalNone  Signal = "NONE"
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
)

// OrderSide returns the side of the order that opens exposure for s.
// SignalNone has no side.
func (s Signal) OrderSide() (model.OrderSide, bool) {
	switch s {
	case SignalLong:
		return model.SideBuy, true
	case SignalShort:
		return model.SideSell, true
	}
	return "", false
}

// Opposite returns the reverse direction; SignalNone maps to itself.
func (s Signal) Opposite() Signal {
	switch s {
	case SignalLong:
		return SignalShort
	case SignalShort:
		return SignalLong
	}
	return SignalNone
}
