package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"futures-signal-engine/internal/model"

	"github.com/shopspring/decimal"
)

// Fill is a simulated order fill.
type Fill struct {
	OrderID   int64              `json:"order_id"`
	Request   model.OrderRequest `json:"request"`
	FillPrice decimal.Decimal    `json:"fill_price"`
	FilledAt  time.Time          `json:"filled_at"`
	Slippage  decimal.Decimal    `json:"slippage"`
}

// PaperExchange trades against live market data without touching the
// account: leverage, balance, position and fills are simulated in memory.
// Selected with DRY_RUN=true.
type PaperExchange struct {
	model.MarketData

	mu       sync.RWMutex
	balance  decimal.Decimal
	leverage map[string]int
	amounts  map[string]decimal.Decimal // signed position amount per symbol
	entries  map[string]decimal.Decimal
	fills    []Fill
	orderSeq int64

	// slippageBps is the simulated slippage in basis points (5 = 0.05%).
	slippageBps int64
}

// NewPaperExchange creates a paper exchange over md with a starting quote
// balance.
func NewPaperExchange(md model.MarketData, balance decimal.Decimal, slippageBps int64) *PaperExchange {
	return &PaperExchange{
		MarketData:  md,
		balance:     balance,
		leverage:    make(map[string]int),
		amounts:     make(map[string]decimal.Decimal),
		entries:     make(map[string]decimal.Decimal),
		fills:       make([]Fill, 0, 64),
		slippageBps: slippageBps,
	}
}

// Fills returns a snapshot of all fills.
func (p *PaperExchange) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExchange) GetPositionExposure(ctx context.Context, symbol string) (model.Exposure, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	exp := model.ExposureFromAmount(symbol, p.amounts[symbol])
	exp.EntryPrice = p.entries[symbol]
	exp.Leverage = p.leverage[symbol]
	return exp, nil
}

func (p *PaperExchange) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

func (p *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > MaxLeverage {
		return &model.ExchangeError{Op: "set_leverage", Code: -4028, Err: fmt.Errorf("leverage %d is not valid", leverage)}
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	return nil
}

// SubmitMarketOrder fills the whole quantity at the current price moved
// against the taker by the configured slippage.
func (p *PaperExchange) SubmitMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderConfirmation, error) {
	if req.Quantity.Sign() <= 0 {
		return model.OrderConfirmation{}, &model.ExchangeError{Op: "submit_order", Code: -4003, Err: fmt.Errorf("quantity %s must be positive", req.Quantity)}
	}
	price, err := p.GetPrice(ctx, req.Symbol)
	if err != nil {
		return model.OrderConfirmation{}, err
	}

	slippage := price.Mul(decimal.NewFromInt(p.slippageBps)).Div(decimal.NewFromInt(10000))
	fillPrice := price.Add(slippage) // buy higher
	if req.Side == model.SideSell {
		fillPrice = price.Sub(slippage) // sell lower
	}

	p.mu.Lock()
	amt := p.amounts[req.Symbol]
	delta := req.Quantity
	if req.Side == model.SideSell {
		delta = delta.Neg()
	}
	if req.ReduceOnly {
		// Never let a reduce-only order cross through zero.
		if amt.Sign() == 0 || amt.Sign() == delta.Sign() {
			p.mu.Unlock()
			return model.OrderConfirmation{}, &model.ExchangeError{Op: "submit_order", Code: -2022, Err: fmt.Errorf("reduce-only order rejected")}
		}
		if delta.Abs().GreaterThan(amt.Abs()) {
			delta = amt.Neg()
		}
	}
	next := amt.Add(delta)
	switch {
	case next.IsZero():
		delete(p.entries, req.Symbol)
	case amt.Sign() != next.Sign():
		p.entries[req.Symbol] = fillPrice
	}
	p.amounts[req.Symbol] = next

	p.orderSeq++
	fill := Fill{
		OrderID:   p.orderSeq,
		Request:   req,
		FillPrice: fillPrice,
		FilledAt:  time.Now().UTC(),
		Slippage:  slippage,
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	slog.Info("paper fill",
		"symbol", req.Symbol, "side", req.Side, "qty", delta.Abs().String(),
		"price", fillPrice.String(), "slippage", slippage.String(),
		"reduce_only", req.ReduceOnly, "order_id", fill.OrderID)

	return model.OrderConfirmation{
		OrderID:     fill.OrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      "FILLED",
		Quantity:    req.Quantity,
		ExecutedQty: delta.Abs(),
		AvgPrice:    fillPrice,
		UpdatedAt:   fill.FilledAt,
	}, nil
}
