package execution

import (
	"strings"

	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/strategy"
)

const (
	// DefaultKlineLimit is the candle history fetched when Params.KlineLimit is 0.
	DefaultKlineLimit = 100
	// MaxKlineLimit is the largest page the futures klines endpoint serves.
	MaxKlineLimit = 1500
	// MaxLeverage is the highest leverage any USDⓈ-M symbol accepts.
	MaxLeverage = 125
)

// Params configures one cycle. They are read fresh for every cycle, so a
// reloaded configuration never affects a cycle already in flight.
type Params struct {
	Symbol          string  `json:"symbol"`
	Interval        string  `json:"interval"`
	RSIPeriod       int     `json:"rsi_period"`
	SMAPeriod       int     `json:"sma_period"`
	StopLossPercent float64 `json:"stop_loss_percent"`
	Leverage        int     `json:"leverage"`
	PositionPercent float64 `json:"position_percent"`
	KlineLimit      int     `json:"kline_limit"`
}

// Limit returns the number of candles to request.
func (p Params) Limit() int {
	if p.KlineLimit <= 0 {
		return DefaultKlineLimit
	}
	return p.KlineLimit
}

// Validate rejects malformed parameters. It runs before any exchange call.
func (p Params) Validate() error {
	switch {
	case p.Symbol == "":
		return model.NewValidationError("symbol", "must not be empty")
	case !model.IsSupportedInterval(p.Interval):
		return model.NewValidationError("interval", "unsupported interval %q", p.Interval)
	case p.RSIPeriod < 1:
		return model.NewValidationError("rsi_period", "must be >= 1, got %d", p.RSIPeriod)
	case p.SMAPeriod < 1:
		return model.NewValidationError("sma_period", "must be >= 1, got %d", p.SMAPeriod)
	case p.Leverage < 1 || p.Leverage > MaxLeverage:
		return model.NewValidationError("leverage", "must be in [1, %d], got %d", MaxLeverage, p.Leverage)
	case p.PositionPercent <= 0 || p.PositionPercent > 100:
		return model.NewValidationError("position_percent", "must be in (0, 100], got %g", p.PositionPercent)
	case p.StopLossPercent < 0 || p.StopLossPercent >= 100:
		return model.NewValidationError("stop_loss_percent", "must be in [0, 100), got %g", p.StopLossPercent)
	}

	limit, need := p.Limit(), strategy.MinCloses(p.RSIPeriod, p.SMAPeriod)
	if limit < need || limit > MaxKlineLimit {
		return model.NewValidationError("kline_limit", "must be in [%d, %d], got %d", need, MaxKlineLimit, limit)
	}
	return nil
}

// Overrides adjust the sizing of a single manually triggered cycle. Nil
// fields keep the configured value. Symbol, when set, must name the symbol
// the engine tracks; it cannot switch symbols.
type Overrides struct {
	Symbol          string   `json:"symbol,omitempty"`
	Leverage        *int     `json:"leverage,omitempty"`
	PositionPercent *float64 `json:"position_percent,omitempty"`
}

// Apply returns p with the overrides applied, validated.
func (o Overrides) Apply(p Params) (Params, error) {
	if o.Symbol != "" && !strings.EqualFold(o.Symbol, p.Symbol) {
		return p, model.NewValidationError("symbol", "engine tracks %s, request asked for %s", p.Symbol, o.Symbol)
	}
	if o.Leverage != nil {
		p.Leverage = *o.Leverage
	}
	if o.PositionPercent != nil {
		p.PositionPercent = *o.PositionPercent
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
