// Package sizing turns a desired notional exposure into an order quantity
// that satisfies the exchange lot and notional filters.
//
// All arithmetic is fixed-point (shopspring/decimal); binary floats never
// touch a quantity.
package sizing

import (
	"fmt"
	"strings"

	"futures-signal-engine/internal/model"

	"github.com/shopspring/decimal"
)

// RejectionReason explains why no order may be sent.
type RejectionReason string

const (
	InsufficientQuantity RejectionReason = "INSUFFICIENT_QUANTITY"
	InsufficientNotional RejectionReason = "INSUFFICIENT_NOTIONAL"
)

// Rejection is a deliberate no-trade outcome. It carries the numbers that
// produced it so they can be logged and reported.
type Rejection struct {
	Reason          RejectionReason `json:"reason"`
	DesiredNotional decimal.Decimal `json:"desired_notional"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Notional        decimal.Decimal `json:"notional"`
	MinQty          decimal.Decimal `json:"min_qty"`
	MinNotional     decimal.Decimal `json:"min_notional"`
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: qty=%s notional=%s (minQty=%s minNotional=%s)",
		r.Reason, r.Quantity, r.Notional, r.MinQty, r.MinNotional)
}

// Precision returns the number of decimal places implied by a lot step,
// i.e. |log10(stepSize)| for power-of-ten steps. Steps >= 1 give 0.
func Precision(stepSize decimal.Decimal) int32 {
	if stepSize.Sign() <= 0 || stepSize.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0
	}
	// String() drops trailing zeros, so "0.0100" reads as "0.01".
	s := stepSize.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// Normalize computes the quantity for desiredNotional at price.
//
// The raw quantity is rounded half away from zero to the step precision and,
// when the step is not a power of ten, floored to a whole number of steps.
// A nil Rejection means the quantity may be submitted as is.
func Normalize(desiredNotional, price decimal.Decimal, f model.SymbolFilters) (decimal.Decimal, *Rejection) {
	rej := &Rejection{
		DesiredNotional: desiredNotional,
		Price:           price,
		MinQty:          f.MinQty,
		MinNotional:     f.MinNotional,
	}
	if price.Sign() <= 0 || desiredNotional.Sign() <= 0 {
		rej.Reason = InsufficientQuantity
		rej.Quantity = decimal.Zero
		rej.Notional = decimal.Zero
		return decimal.Zero, rej
	}

	precision := Precision(f.StepSize)
	qty := roundQuotient(desiredNotional, price, precision)
	if f.StepSize.Sign() > 0 && !f.StepSize.Equal(decimal.New(1, -precision)) {
		qty = qty.Div(f.StepSize).Floor().Mul(f.StepSize)
	}
	notional := qty.Mul(price)

	rej.Quantity = qty
	rej.Notional = notional
	switch {
	case qty.Sign() <= 0 || qty.LessThan(f.MinQty):
		rej.Reason = InsufficientQuantity
		return qty, rej
	case notional.LessThan(f.MinNotional):
		rej.Reason = InsufficientNotional
		return qty, rej
	}
	return qty, nil
}

// roundQuotient returns n/d rounded half away from zero to precision places
// without an intermediate rounding step. n and d are positive.
func roundQuotient(n, d decimal.Decimal, precision int32) decimal.Decimal {
	q, r := n.QuoRem(d, precision)
	unit := decimal.New(1, -precision)
	if r.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(d.Mul(unit)) {
		q = q.Add(unit)
	}
	return q
}

// DesiredNotional is the exposure to open: positionPercent of the available
// quote balance used as margin, multiplied by leverage.
func DesiredNotional(available decimal.Decimal, positionPercent float64, leverage int) decimal.Decimal {
	if available.Sign() <= 0 || positionPercent <= 0 || leverage <= 0 {
		return decimal.Zero
	}
	margin := available.Mul(decimal.NewFromFloat(positionPercent)).Div(decimal.NewFromInt(100))
	return margin.Mul(decimal.NewFromInt(int64(leverage)))
}
