package position

import (
	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// StopLossPrice returns the price at which a position opened at entry would
// have lost stopLossPercent of its price. It is reported with every opened
// position; no order is placed at this level.
func StopLossPrice(side strategy.Signal, entry decimal.Decimal, stopLossPercent float64) (decimal.Decimal, bool) {
	if stopLossPercent <= 0 {
		return decimal.Zero, false
	}
	frac := decimal.NewFromFloat(stopLossPercent).Div(hundred)
	switch side {
	case strategy.SignalLong:
		return entry.Mul(decimal.NewFromInt(1).Sub(frac)), true
	case strategy.SignalShort:
		return entry.Mul(decimal.NewFromInt(1).Add(frac)), true
	}
	return decimal.Zero, false
}
