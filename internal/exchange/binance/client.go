// Package binance implements the exchange port on Binance USDⓈ-M futures
// through github.com/adshao/go-binance/v2/futures. Request signing and
// timestamps are handled by the library.
package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"futures-signal-engine/internal/model"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Config holds the client settings.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// BaseURL overrides the REST endpoint (tests point it at httptest).
	BaseURL string
	// RateLimit is the sustained request rate per second; burst is twice
	// that. Zero disables limiting.
	RateLimit float64
}

// Client is a rate-limited Binance futures client.
type Client struct {
	api     *futures.Client
	limiter *rate.Limiter
}

// NewClient creates a client. futures.UseTestnet is package-global in the
// library, so it is set here before the underlying client is built.
func NewClient(cfg Config) *Client {
	futures.UseTestnet = cfg.Testnet
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit*2)+1)
	}

	slog.Info("binance futures client ready", "testnet", cfg.Testnet, "base_url", api.BaseURL, "rate_limit", cfg.RateLimit)
	return &Client{api: api, limiter: limiter}
}

// wrap converts a library error into *model.ExchangeError, keeping the API
// code when Binance answered with one.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &model.ExchangeError{Op: op, Code: apiErr.Code, Err: errors.New(apiErr.Message)}
	}
	return &model.ExchangeError{Op: op, Err: err}
}

func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &model.ExchangeError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	return nil
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	if err := c.wait(ctx, "klines"); err != nil {
		return nil, err
	}
	raw, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrap("klines", err)
	}

	out := make([]model.Kline, 0, len(raw))
	for _, k := range raw {
		kl := model.Kline{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		}
		fields := []struct {
			dst *float64
			src string
		}{
			{&kl.Open, k.Open}, {&kl.High, k.High}, {&kl.Low, k.Low},
			{&kl.Close, k.Close}, {&kl.Volume, k.Volume},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f.src, 64)
			if err != nil {
				return nil, &model.ExchangeError{Op: "klines", Err: fmt.Errorf("parse %q: %w", f.src, err)}
			}
			*f.dst = v
		}
		out = append(out, kl)
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.wait(ctx, "price"); err != nil {
		return decimal.Zero, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, wrap("price", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			d, err := decimal.NewFromString(p.Price)
			if err != nil {
				return decimal.Zero, &model.ExchangeError{Op: "price", Err: fmt.Errorf("parse %q: %w", p.Price, err)}
			}
			return d, nil
		}
	}
	return decimal.Zero, &model.ExchangeError{Op: "price", Err: fmt.Errorf("no price for %s", symbol)}
}

func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (model.SymbolFilters, error) {
	if err := c.wait(ctx, "exchange_info"); err != nil {
		return model.SymbolFilters{}, err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return model.SymbolFilters{}, wrap("exchange_info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f, err := parseFilters(s.Filters)
		if err != nil {
			return model.SymbolFilters{}, &model.ExchangeError{Op: "exchange_info", Err: fmt.Errorf("%s: %w", symbol, err)}
		}
		f.Symbol = symbol
		f.QuoteAsset = s.QuoteAsset
		return f, nil
	}
	return model.SymbolFilters{}, &model.ExchangeError{Op: "exchange_info", Err: fmt.Errorf("unknown symbol %s", symbol)}
}

// parseFilters reads LOT_SIZE and MIN_NOTIONAL out of the raw filter list.
func parseFilters(raw []map[string]interface{}) (model.SymbolFilters, error) {
	var f model.SymbolFilters
	var haveLot bool
	for _, m := range raw {
		switch m["filterType"] {
		case "LOT_SIZE":
			step, err := decimalField(m, "stepSize")
			if err != nil {
				return f, err
			}
			minQty, err := decimalField(m, "minQty")
			if err != nil {
				return f, err
			}
			f.StepSize, f.MinQty, haveLot = step, minQty, true
		case "MIN_NOTIONAL":
			n, err := decimalField(m, "notional")
			if err != nil {
				return f, err
			}
			f.MinNotional = n
		}
	}
	if !haveLot {
		return f, errors.New("LOT_SIZE filter missing")
	}
	if f.StepSize.Sign() <= 0 {
		return f, fmt.Errorf("non-positive stepSize %s", f.StepSize)
	}
	return f, nil
}

func decimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	s, ok := m[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("filter field %s missing", key)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("filter field %s: %w", key, err)
	}
	return d, nil
}

func (c *Client) GetPositionExposure(ctx context.Context, symbol string) (model.Exposure, error) {
	if err := c.wait(ctx, "position_risk"); err != nil {
		return model.Exposure{}, err
	}
	risks, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return model.Exposure{}, wrap("position_risk", err)
	}

	// One-way mode reports a single BOTH entry; hedge mode entries are
	// summed, which nets them the same way the account does.
	amount := decimal.Zero
	var entry decimal.Decimal
	var leverage int
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			return model.Exposure{}, &model.ExchangeError{Op: "position_risk", Err: fmt.Errorf("parse positionAmt %q: %w", r.PositionAmt, err)}
		}
		amount = amount.Add(amt)
		if !amt.IsZero() {
			entry, _ = decimal.NewFromString(r.EntryPrice)
		}
		if l, err := strconv.Atoi(r.Leverage); err == nil {
			leverage = l
		}
	}

	exp := model.ExposureFromAmount(symbol, amount)
	exp.EntryPrice = entry
	exp.Leverage = leverage
	return exp, nil
}

func (c *Client) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := c.wait(ctx, "account"); err != nil {
		return decimal.Zero, err
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, wrap("account", err)
	}
	for _, a := range acct.Assets {
		if a.Asset != asset {
			continue
		}
		d, err := decimal.NewFromString(a.AvailableBalance)
		if err != nil {
			return decimal.Zero, &model.ExchangeError{Op: "account", Err: fmt.Errorf("parse availableBalance %q: %w", a.AvailableBalance, err)}
		}
		return d, nil
	}
	return decimal.Zero, &model.ExchangeError{Op: "account", Err: fmt.Errorf("%s: %w", asset, model.ErrAssetNotFound)}
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.wait(ctx, "change_leverage"); err != nil {
		return err
	}
	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return wrap("change_leverage", err)
}

func (c *Client) SubmitMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderConfirmation, error) {
	if err := c.wait(ctx, "submit_order"); err != nil {
		return model.OrderConfirmation{}, err
	}
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return model.OrderConfirmation{}, wrap("submit_order", err)
	}

	conf := model.OrderConfirmation{
		OrderID:   resp.OrderID,
		Symbol:    resp.Symbol,
		Side:      model.OrderSide(resp.Side),
		Status:    string(resp.Status),
		UpdatedAt: time.UnixMilli(resp.UpdateTime).UTC(),
	}
	conf.Quantity, _ = decimal.NewFromString(resp.OrigQuantity)
	conf.ExecutedQty, _ = decimal.NewFromString(resp.ExecutedQuantity)
	conf.AvgPrice, _ = decimal.NewFromString(resp.AvgPrice)
	return conf, nil
}
