package model

import "github.com/shopspring/decimal"

// PositionSide is the direction of live exposure on the exchange.
type PositionSide string

const (
	PositionNone  PositionSide = "NONE"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Exposure is the live one-way-mode position of a symbol as reported by the
// exchange. Quantity is always non-negative; Side carries the direction.
type Exposure struct {
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
}

// ExposureFromAmount builds an Exposure from a signed position amount
// (positive = long, negative = short).
func ExposureFromAmount(symbol string, amt decimal.Decimal) Exposure {
	e := Exposure{Symbol: symbol, Side: PositionNone, Quantity: amt.Abs()}
	switch amt.Sign() {
	case 1:
		e.Side = PositionLong
	case -1:
		e.Side = PositionShort
	}
	return e
}

// IsFlat reports whether there is no exposure to close.
func (e Exposure) IsFlat() bool {
	return e.Side == PositionNone || e.Quantity.IsZero()
}

// CloseSide returns the order side that flattens the exposure.
func (e Exposure) CloseSide() OrderSide {
	if e.Side == PositionShort {
		return SideBuy
	}
	return SideSell
}
