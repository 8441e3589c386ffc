package model

import "github.com/shopspring/decimal"

// SymbolFilters are the per-symbol trading rules pulled from exchange
// metadata (LOT_SIZE and MIN_NOTIONAL).
type SymbolFilters struct {
	Symbol      string          `json:"symbol"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	QuoteAsset  string          `json:"quote_asset"`
}
