package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the side that reduces exposure opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the exchange order type. Only MARKET is submitted.
type OrderType string

const OrderTypeMarket OrderType = "MARKET"

// OrderRequest is a market order ready for submission. Quantity must already
// satisfy the symbol filters.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReduceOnly bool            `json:"reduce_only"`
}

// OrderConfirmation is the exchange acknowledgement of a submitted order.
type OrderConfirmation struct {
	OrderID     int64           `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Status      string          `json:"status"` // NEW, FILLED, ...
	Quantity    decimal.Decimal `json:"quantity"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
