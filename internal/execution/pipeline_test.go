package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/sizing"
	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Scripted exchange
// ────────────────────────────────────────────────────────────

type fakeExchange struct {
	mu sync.Mutex

	klines   []model.Kline
	price    decimal.Decimal
	filters  model.SymbolFilters
	balance  decimal.Decimal
	exposure model.Exposure

	errs       map[string]error // op → error returned every call
	submitErrs []error          // consumed one per SubmitMarketOrder call
	onLeverage func()

	calls       []string
	orders      []model.OrderRequest
	submitCtx   []error // ctx.Err() seen by each submission
	leverage    int
	invalidated []string
	nextID      int64
}

func newFakeExchange(closes []float64) *fakeExchange {
	return &fakeExchange{
		klines:  klinesFrom(closes),
		price:   decimal.NewFromInt(100),
		balance: decimal.NewFromInt(1000),
		filters: model.SymbolFilters{
			Symbol:      "BTCUSDT",
			StepSize:    decimal.RequireFromString("0.01"),
			MinQty:      decimal.RequireFromString("0.01"),
			MinNotional: decimal.NewFromInt(10),
		},
		exposure: model.Exposure{Symbol: "BTCUSDT", Side: model.PositionNone},
		errs:     map[string]error{},
		nextID:   1000,
	}
}

func klinesFrom(closes []float64) []model.Kline {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	out := make([]model.Kline, len(closes))
	for i, c := range closes {
		out[i] = model.Kline{
			Symbol:    "BTCUSDT",
			Interval:  "1h",
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1)*time.Hour - time.Millisecond),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return out
}

func (f *fakeExchange) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	if err := f.record("klines"); err != nil {
		return nil, err
	}
	return f.klines, nil
}

func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, f.record("price")
}

func (f *fakeExchange) GetSymbolFilters(ctx context.Context, symbol string) (model.SymbolFilters, error) {
	return f.filters, f.record("filters")
}

func (f *fakeExchange) GetPositionExposure(ctx context.Context, symbol string) (model.Exposure, error) {
	return f.exposure, f.record("position")
}

func (f *fakeExchange) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.balance, f.record("balance")
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := f.record("leverage"); err != nil {
		return err
	}
	f.leverage = leverage
	if f.onLeverage != nil {
		f.onLeverage()
	}
	return nil
}

func (f *fakeExchange) SubmitMarketOrder(ctx context.Context, req model.OrderRequest) (model.OrderConfirmation, error) {
	if err := f.record("submit"); err != nil {
		return model.OrderConfirmation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCtx = append(f.submitCtx, ctx.Err())
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return model.OrderConfirmation{}, err
		}
	}
	f.orders = append(f.orders, req)
	f.nextID++
	return model.OrderConfirmation{
		OrderID: f.nextID, Symbol: req.Symbol, Side: req.Side,
		Status: "NEW", Quantity: req.Quantity,
	}, nil
}

func (f *fakeExchange) InvalidateFilters(symbol string) {
	f.invalidated = append(f.invalidated, symbol)
}

func (f *fakeExchange) called(op string) bool {
	for _, c := range f.calls {
		if c == op {
			return true
		}
	}
	return false
}

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

// With RSI(3) / SMA(2):
//
//	first 7 closes      → RSI 83.97 crosses above SMA 78.35 → LONG
//	all 8 closes        → RSI stays above SMA               → NONE
//	8 closes + 10.9     → RSI 42.54 drops below SMA 65.15   → SHORT
var (
	longCloses  = []float64{10, 10.5, 10.2, 10.8, 11, 10.9, 11.3}
	noneCloses  = []float64{10, 10.5, 10.2, 10.8, 11, 10.9, 11.3, 11.5}
	shortCloses = []float64{10, 10.5, 10.2, 10.8, 11, 10.9, 11.3, 11.5, 10.9}
)

func testParams() Params {
	return Params{
		Symbol:          "BTCUSDT",
		Interval:        "1h",
		RSIPeriod:       3,
		SMAPeriod:       2,
		StopLossPercent: 2,
		Leverage:        5,
		PositionPercent: 10,
		KlineLimit:      20,
	}
}

func newTestPipeline(ex model.Exchange, observers ...Observer) (*Pipeline, *position.Tracker) {
	tr := position.NewTracker("BTCUSDT", nil)
	return NewPipeline(ex, tr, "USDT", observers...), tr
}

func holdLong(t *testing.T, tr *position.Tracker) position.State {
	t.Helper()
	st, err := tr.Open(context.Background(), strategy.SignalLong, decimal.NewFromInt(95))
	require.NoError(t, err)
	return st
}

// ────────────────────────────────────────────────────────────
// Tests
// ────────────────────────────────────────────────────────────

func TestRunCycle_ValidationBeforeExchange(t *testing.T) {
	ex := newFakeExchange(longCloses)
	p, tr := newTestPipeline(ex)

	params := testParams()
	params.Interval = "2m"
	res := p.RunCycle(context.Background(), params)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageIdle, res.FailedStage)
	assert.True(t, model.IsValidation(res.Err))
	assert.Empty(t, ex.calls)
	assert.True(t, tr.Current().IsFlat())
}

func TestRunCycle_InsufficientHistory(t *testing.T) {
	ex := newFakeExchange(longCloses[:6])
	p, _ := newTestPipeline(ex)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageEvaluating, res.FailedStage)
	assert.True(t, model.IsValidation(res.Err))
	assert.Equal(t, []string{"klines"}, ex.calls)
}

func TestRunCycle_NoSignalIsIdempotent(t *testing.T) {
	ex := newFakeExchange(noneCloses)
	p, tr := newTestPipeline(ex)
	before := tr.Current()

	for i := 0; i < 2; i++ {
		res := p.RunCycle(context.Background(), testParams())
		assert.Equal(t, OutcomeNoAction, res.Outcome, "cycle %d", i)
		assert.Equal(t, StageSettled, res.Stage)
		assert.Equal(t, strategy.SignalNone, res.Signal)
		assert.Equal(t, before, tr.Current())
	}
	assert.Equal(t, []string{"klines", "klines"}, ex.calls)
	assert.Empty(t, ex.orders)
}

func TestRunCycle_OpensLongFromFlat(t *testing.T) {
	ex := newFakeExchange(longCloses)
	var seen []Result
	p, tr := newTestPipeline(ex, ObserverFunc(func(ctx context.Context, r Result) { seen = append(seen, r) }))

	res := p.RunCycle(context.Background(), testParams())
	require.Equal(t, OutcomePositionOpened, res.Outcome, res.Error)

	// 1000 USDT * 10% = 100 margin, * 5x = 500 notional; 500 / 100 = 5.00.
	assert.Equal(t, strategy.SignalLong, res.Signal)
	assert.Equal(t, "5", res.Quantity.String())
	assert.True(t, res.Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1001), res.OrderID)
	require.NotNil(t, res.StopLossPrice)
	assert.True(t, res.StopLossPrice.Equal(decimal.NewFromInt(98)), res.StopLossPrice.String())
	assert.Equal(t, 5, ex.leverage)
	assert.NotEmpty(t, res.TraceID)

	require.Len(t, ex.orders, 1)
	assert.Equal(t, model.SideBuy, ex.orders[0].Side)
	assert.Equal(t, model.OrderTypeMarket, ex.orders[0].Type)
	assert.False(t, ex.orders[0].ReduceOnly)
	assert.False(t, ex.called("position"), "flat state must not query exposure")

	st := tr.Current()
	assert.Equal(t, strategy.SignalLong, st.Side)
	require.NotNil(t, st.EntryPrice)
	assert.True(t, st.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, st, res.Position)

	require.Len(t, seen, 1)
	assert.Equal(t, res.TraceID, seen[0].TraceID)
}

func TestRunCycle_SameSignalIsNoAction(t *testing.T) {
	ex := newFakeExchange(longCloses)
	p, tr := newTestPipeline(ex)
	held := holdLong(t, tr)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeNoAction, res.Outcome)
	assert.Equal(t, strategy.SignalLong, res.Signal)
	assert.Equal(t, held, tr.Current())
	assert.Empty(t, ex.orders)
}

func TestRunCycle_FlipsLongToShort(t *testing.T) {
	ex := newFakeExchange(shortCloses)
	ex.exposure = model.ExposureFromAmount("BTCUSDT", decimal.RequireFromString("4.2"))
	p, tr := newTestPipeline(ex)
	holdLong(t, tr)

	res := p.RunCycle(context.Background(), testParams())
	require.Equal(t, OutcomePositionOpened, res.Outcome, res.Error)

	require.Len(t, ex.orders, 2)
	closeReq, openReq := ex.orders[0], ex.orders[1]
	assert.Equal(t, model.SideSell, closeReq.Side)
	assert.True(t, closeReq.ReduceOnly)
	assert.Equal(t, "4.2", closeReq.Quantity.String())
	assert.Equal(t, model.SideSell, openReq.Side)
	assert.False(t, openReq.ReduceOnly)
	assert.Equal(t, "5", openReq.Quantity.String())

	require.Len(t, res.Orders, 2)
	assert.Equal(t, LegClose, res.Orders[0].Leg)
	assert.Equal(t, LegOpen, res.Orders[1].Leg)

	assert.Equal(t, strategy.SignalLong, res.Previous.Side)
	assert.Equal(t, strategy.SignalShort, tr.Current().Side)
	require.NotNil(t, res.StopLossPrice)
	assert.True(t, res.StopLossPrice.Equal(decimal.NewFromInt(102)))
}

func TestRunCycle_FlipWithoutLiveExposureSkipsClose(t *testing.T) {
	ex := newFakeExchange(shortCloses)
	p, tr := newTestPipeline(ex)
	holdLong(t, tr)

	res := p.RunCycle(context.Background(), testParams())
	require.Equal(t, OutcomePositionOpened, res.Outcome, res.Error)
	require.Len(t, ex.orders, 1)
	assert.Equal(t, model.SideSell, ex.orders[0].Side)
	assert.True(t, ex.called("position"))
}

func TestRunCycle_CloseFailureKeepsState(t *testing.T) {
	ex := newFakeExchange(shortCloses)
	ex.exposure = model.ExposureFromAmount("BTCUSDT", decimal.NewFromInt(5))
	ex.submitErrs = []error{&model.ExchangeError{Op: "submit_order", Err: errors.New("connection reset")}}
	p, tr := newTestPipeline(ex)
	held := holdLong(t, tr)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageClosing, res.FailedStage)
	assert.True(t, model.IsExchange(res.Err))
	assert.Equal(t, held, tr.Current())
	assert.Equal(t, held, res.Position)
	assert.False(t, ex.called("leverage"))
	assert.Empty(t, ex.orders)
}

func TestRunCycle_ExposureQueryFailure(t *testing.T) {
	ex := newFakeExchange(shortCloses)
	ex.errs["position"] = &model.ExchangeError{Op: "position_risk", Err: errors.New("timeout")}
	p, tr := newTestPipeline(ex)
	held := holdLong(t, tr)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageClosing, res.FailedStage)
	assert.Equal(t, held, tr.Current())
	assert.False(t, ex.called("submit"))
}

func TestRunCycle_LeverageFailureIsFatal(t *testing.T) {
	ex := newFakeExchange(longCloses)
	ex.errs["leverage"] = &model.ExchangeError{Op: "change_leverage", Code: -4028, Err: errors.New("leverage not valid")}
	p, tr := newTestPipeline(ex)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageSizing, res.FailedStage)
	assert.False(t, ex.called("price"))
	assert.False(t, ex.called("submit"))
	assert.True(t, tr.Current().IsFlat())

	var ee *model.ExchangeError
	require.ErrorAs(t, res.Err, &ee)
	assert.Equal(t, int64(-4028), ee.Code)
	assert.False(t, ee.Transport())
}

func TestRunCycle_RejectsInsufficientNotional(t *testing.T) {
	// 5 USDT * 10% * 1x = 0.5 notional at price 100 → qty 0.01, notional 1 < 10.
	ex := newFakeExchange(longCloses)
	ex.balance = decimal.NewFromInt(5)
	p, tr := newTestPipeline(ex)

	params := testParams()
	params.Leverage = 1
	res := p.RunCycle(context.Background(), params)

	require.Equal(t, OutcomeRejected, res.Outcome, res.Error)
	assert.Equal(t, StageRejected, res.Stage)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, sizing.InsufficientNotional, res.Rejection.Reason)
	assert.Equal(t, "0.01", res.Rejection.Quantity.String())
	assert.True(t, res.Rejection.Notional.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, []string{"BTCUSDT"}, ex.invalidated)
	assert.False(t, ex.called("submit"))
	assert.True(t, tr.Current().IsFlat())
}

func TestRunCycle_MissingQuoteAssetFails(t *testing.T) {
	ex := newFakeExchange(longCloses)
	ex.errs["balance"] = &model.ExchangeError{Op: "account", Err: fmt.Errorf("USDT: %w", model.ErrAssetNotFound)}
	p, tr := newTestPipeline(ex)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageSizing, res.FailedStage)
	assert.Nil(t, res.Rejection)
	assert.ErrorIs(t, res.Err, model.ErrAssetNotFound)
	assert.Empty(t, ex.invalidated, "no rejection, filters stay cached")
	assert.False(t, ex.called("submit"))
	assert.True(t, tr.Current().IsFlat())
}

func TestRunCycle_SubmitFailureKeepsState(t *testing.T) {
	ex := newFakeExchange(longCloses)
	ex.submitErrs = []error{&model.ExchangeError{Op: "submit_order", Err: context.DeadlineExceeded}}
	p, tr := newTestPipeline(ex)

	res := p.RunCycle(context.Background(), testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StageSubmitting, res.FailedStage)
	assert.True(t, tr.Current().IsFlat())
	assert.Nil(t, res.StopLossPrice)

	var ee *model.ExchangeError
	require.ErrorAs(t, res.Err, &ee)
	assert.True(t, ee.Transport())
}

func TestRunCycle_SubmissionIgnoresCancellation(t *testing.T) {
	ex := newFakeExchange(longCloses)
	p, tr := newTestPipeline(ex)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex.onLeverage = cancel

	res := p.RunCycle(ctx, testParams())
	require.Equal(t, OutcomePositionOpened, res.Outcome, res.Error)
	require.Len(t, ex.submitCtx, 1)
	assert.NoError(t, ex.submitCtx[0])
	assert.Equal(t, strategy.SignalLong, tr.Current().Side)
}

func TestRunCycle_CancelledBeforeSizing(t *testing.T) {
	ex := newFakeExchange(longCloses)
	p, tr := newTestPipeline(ex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.RunCycle(ctx, testParams())
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, ex.called("leverage"))
	assert.True(t, tr.Current().IsFlat())
}

func TestRunCycle_SymbolMismatch(t *testing.T) {
	ex := newFakeExchange(longCloses)
	p, _ := newTestPipeline(ex)

	params := testParams()
	params.Symbol = "ETHUSDT"
	res := p.RunCycle(context.Background(), params)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, model.IsValidation(res.Err))
	assert.Empty(t, ex.calls)
}

func TestParams_Validate(t *testing.T) {
	ok := testParams()
	require.NoError(t, ok.Validate())

	tests := []struct {
		name  string
		mut   func(*Params)
		field string
	}{
		{"empty symbol", func(p *Params) { p.Symbol = "" }, "symbol"},
		{"bad interval", func(p *Params) { p.Interval = "7m" }, "interval"},
		{"rsi period", func(p *Params) { p.RSIPeriod = 0 }, "rsi_period"},
		{"sma period", func(p *Params) { p.SMAPeriod = -1 }, "sma_period"},
		{"leverage", func(p *Params) { p.Leverage = 126 }, "leverage"},
		{"position percent", func(p *Params) { p.PositionPercent = 0 }, "position_percent"},
		{"stop loss", func(p *Params) { p.StopLossPercent = 100 }, "stop_loss_percent"},
		{"limit below history", func(p *Params) { p.KlineLimit = 6 }, "kline_limit"},
		{"limit above page", func(p *Params) { p.KlineLimit = 1501 }, "kline_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mut(&p)
			err := p.Validate()
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	// Zero limit falls back to the default page.
	p := testParams()
	p.KlineLimit = 0
	assert.NoError(t, p.Validate())
	assert.Equal(t, DefaultKlineLimit, p.Limit())
}

func TestOverrides_Apply(t *testing.T) {
	lev, pct := 20, 25.0
	p, err := Overrides{Symbol: "btcusdt", Leverage: &lev, PositionPercent: &pct}.Apply(testParams())
	require.NoError(t, err)
	assert.Equal(t, 20, p.Leverage)
	assert.Equal(t, 25.0, p.PositionPercent)
	assert.Equal(t, "BTCUSDT", p.Symbol)
	assert.Equal(t, 3, p.RSIPeriod, "untouched fields keep configured values")

	p, err = Overrides{}.Apply(testParams())
	require.NoError(t, err)
	assert.Equal(t, testParams(), p)

	var ve *model.ValidationError
	_, err = Overrides{Symbol: "ETHUSDT"}.Apply(testParams())
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "symbol", ve.Field)

	bad := 200
	_, err = Overrides{Leverage: &bad}.Apply(testParams())
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "leverage", ve.Field)
}
