package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Exchange Port ──
// The pipeline depends on this interface only. The Binance client, the paper
// exchange and the caching/breaker decorators all satisfy it.

// MarketData is the read-only half of the exchange.
type MarketData interface {
	// GetKlines returns up to limit candles, oldest first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)

	// GetPrice returns the latest traded price.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetSymbolFilters returns the lot and notional rules for symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
}

// Exchange is the authenticated futures account.
type Exchange interface {
	MarketData

	// GetPositionExposure returns the live position for symbol.
	GetPositionExposure(ctx context.Context, symbol string) (Exposure, error)

	// GetAvailableBalance returns the free balance of a margin asset.
	GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// SetLeverage changes the initial leverage of symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SubmitMarketOrder sends a MARKET order and returns the acknowledgement.
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderConfirmation, error)
}

// FilterInvalidator is implemented by exchanges that cache symbol filters.
type FilterInvalidator interface {
	InvalidateFilters(symbol string)
}
