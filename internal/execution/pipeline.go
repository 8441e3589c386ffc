// Package execution runs the signal-to-order cycle against an exchange.
//
// A cycle walks IDLE → FETCHING → EVALUATING → (CLOSING) → SIZING →
// SUBMITTING → SETTLED and stops early at REJECTED or FAILED. The position
// tracker is written at one point only: after the opening order of a cycle
// was acknowledged. Callers must serialize RunCycle (see internal/scheduler).
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"futures-signal-engine/internal/logger"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/sizing"
	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// Observer receives every finished cycle: metrics, alerts, the API result
// buffer and the WebSocket hub all hang off this.
type Observer interface {
	ObserveCycle(ctx context.Context, r Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Result)

func (f ObserverFunc) ObserveCycle(ctx context.Context, r Result) { f(ctx, r) }

// Pipeline executes cycles for the symbol held by its tracker.
type Pipeline struct {
	exchange   model.Exchange
	tracker    *position.Tracker
	quoteAsset string
	observers  []Observer
	now        func() time.Time
}

// NewPipeline creates a Pipeline. quoteAsset is the margin asset whose
// available balance sizes new positions (USDT for USDⓈ-M symbols).
func NewPipeline(ex model.Exchange, tracker *position.Tracker, quoteAsset string, observers ...Observer) *Pipeline {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Pipeline{
		exchange:   ex,
		tracker:    tracker,
		quoteAsset: quoteAsset,
		observers:  observers,
		now:        time.Now,
	}
}

// cycle is the mutable bookkeeping of one RunCycle call.
type cycle struct {
	res   Result
	stage Stage
	log   *slog.Logger
}

func (c *cycle) enter(s Stage) {
	c.log.Debug("cycle stage", "from", c.stage, "to", s)
	c.stage = s
}

func (c *cycle) fail(err error) Result {
	c.res.Outcome = OutcomeFailed
	c.res.FailedStage = c.stage
	c.res.Stage = StageFailed
	c.res.Err = err
	c.res.Error = err.Error()
	c.stage = StageFailed
	return c.res
}

// RunCycle performs one full cycle and reports how it ended. It never
// panics on exchange failures; errors come back as a FAILED Result.
func (p *Pipeline) RunCycle(ctx context.Context, params Params) Result {
	start := p.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(params.Symbol, start))

	c := &cycle{
		stage: StageIdle,
		log: logger.FromContext(ctx).With(
			slog.String("symbol", params.Symbol),
			slog.String("interval", params.Interval),
		),
	}
	c.res = Result{
		TraceID:   logger.TraceID(ctx),
		Symbol:    params.Symbol,
		Interval:  params.Interval,
		Signal:    strategy.SignalNone,
		Previous:  p.tracker.Current(),
		StartedAt: start.UTC(),
	}

	res := p.run(ctx, params, c)
	res.Position = p.tracker.Current()
	res.Duration = p.now().Sub(start)

	p.report(c.log, res)
	for _, o := range p.observers {
		o.ObserveCycle(ctx, res)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, params Params, c *cycle) Result {
	if err := params.Validate(); err != nil {
		return c.fail(err)
	}
	if sym := c.res.Previous.Symbol; sym != "" && sym != params.Symbol {
		return c.fail(model.NewValidationError("symbol", "engine tracks %s, cycle asked for %s", sym, params.Symbol))
	}

	// ── FETCHING ──
	c.enter(StageFetching)
	klines, err := p.exchange.GetKlines(ctx, params.Symbol, params.Interval, params.Limit())
	if err != nil {
		return c.fail(fmt.Errorf("fetch klines: %w", err))
	}

	// ── EVALUATING ──
	c.enter(StageEvaluating)
	ev, err := strategy.Evaluate(model.Closes(klines), params.RSIPeriod, params.SMAPeriod)
	if err != nil {
		return c.fail(err)
	}
	c.res.Signal = ev.Signal
	c.res.LastRSI = ev.LastRSI
	c.res.LastSMA = ev.LastSMA

	current := p.tracker.Current()
	if !position.TransitionAllowed(current, ev.Signal) {
		c.enter(StageSettled)
		c.res.Outcome = OutcomeNoAction
		c.res.Stage = StageSettled
		return c.res
	}
	c.log.Info("signal accepted", "signal", ev.Signal, "current", current.Side,
		"rsi", ev.LastRSI, "sma", ev.LastSMA)

	// ── CLOSING ──
	if !current.IsFlat() {
		c.enter(StageClosing)
		if err := p.closeExposure(ctx, params.Symbol, c); err != nil {
			return c.fail(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return c.fail(fmt.Errorf("cycle cancelled before sizing: %w", err))
	}

	// ── SIZING ──
	c.enter(StageSizing)
	if err := p.exchange.SetLeverage(ctx, params.Symbol, params.Leverage); err != nil {
		return c.fail(fmt.Errorf("set leverage %dx: %w", params.Leverage, err))
	}
	price, err := p.exchange.GetPrice(ctx, params.Symbol)
	if err != nil {
		return c.fail(fmt.Errorf("get price: %w", err))
	}
	filters, err := p.exchange.GetSymbolFilters(ctx, params.Symbol)
	if err != nil {
		return c.fail(fmt.Errorf("get symbol filters: %w", err))
	}
	balance, err := p.exchange.GetAvailableBalance(ctx, p.quoteAsset)
	if err != nil {
		return c.fail(fmt.Errorf("get %s balance: %w", p.quoteAsset, err))
	}

	notional := sizing.DesiredNotional(balance, params.PositionPercent, params.Leverage)
	qty, rej := sizing.Normalize(notional, price, filters)
	if rej != nil {
		if inv, ok := p.exchange.(model.FilterInvalidator); ok {
			inv.InvalidateFilters(params.Symbol)
		}
		c.enter(StageRejected)
		c.res.Outcome = OutcomeRejected
		c.res.Stage = StageRejected
		c.res.Rejection = rej
		return c.res
	}

	// ── SUBMITTING ──
	// From here on the order runs to completion regardless of shutdown.
	c.enter(StageSubmitting)
	side, _ := ev.Signal.OrderSide()
	req := model.OrderRequest{
		Symbol:   params.Symbol,
		Side:     side,
		Type:     model.OrderTypeMarket,
		Quantity: qty,
	}
	conf, err := p.exchange.SubmitMarketOrder(context.WithoutCancel(ctx), req)
	if err != nil {
		return c.fail(fmt.Errorf("submit %s order: %w", side, err))
	}
	c.res.Orders = append(c.res.Orders, OrderLeg{Leg: LegOpen, Request: req, Confirmation: conf})

	if _, err := p.tracker.Open(ctx, ev.Signal, price); err != nil {
		return c.fail(err)
	}

	c.enter(StageSettled)
	c.res.Outcome = OutcomePositionOpened
	c.res.Stage = StageSettled
	c.res.Price = price
	c.res.Quantity = qty
	c.res.OrderID = conf.OrderID
	if sl, ok := position.StopLossPrice(ev.Signal, price, params.StopLossPercent); ok {
		c.res.StopLossPrice = &sl
	}
	return c.res
}

// closeExposure flattens whatever the exchange reports for symbol with a
// reduce-only market order for the full absolute quantity.
func (p *Pipeline) closeExposure(ctx context.Context, symbol string, c *cycle) error {
	exp, err := p.exchange.GetPositionExposure(ctx, symbol)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if exp.IsFlat() {
		c.log.Info("no live exposure to close")
		return nil
	}

	req := model.OrderRequest{
		Symbol:     symbol,
		Side:       exp.CloseSide(),
		Type:       model.OrderTypeMarket,
		Quantity:   exp.Quantity,
		ReduceOnly: true,
	}
	conf, err := p.exchange.SubmitMarketOrder(context.WithoutCancel(ctx), req)
	if err != nil {
		return fmt.Errorf("close %s %s: %w", exp.Side, exp.Quantity, err)
	}
	c.res.Orders = append(c.res.Orders, OrderLeg{Leg: LegClose, Request: req, Confirmation: conf})
	c.log.Info("position closed", "side", exp.Side, "qty", exp.Quantity.String(), "order_id", conf.OrderID)
	return nil
}

func (p *Pipeline) report(log *slog.Logger, r Result) {
	attrs := []any{
		"outcome", r.Outcome,
		"signal", r.Signal,
		"rsi", r.LastRSI,
		"sma", r.LastSMA,
		"position", r.Position.Side,
		"duration_ms", r.Duration.Milliseconds(),
	}
	switch r.Outcome {
	case OutcomePositionOpened:
		attrs = append(attrs, "price", r.Price.String(), "qty", r.Quantity.String(), "order_id", r.OrderID)
		if r.StopLossPrice != nil {
			attrs = append(attrs, "stop_loss", r.StopLossPrice.String())
		}
		log.Info("cycle finished", attrs...)
	case OutcomeRejected:
		attrs = append(attrs, "reason", r.Rejection.Reason,
			"qty", r.Rejection.Quantity.String(), "notional", r.Rejection.Notional.String(),
			"min_qty", r.Rejection.MinQty.String(), "min_notional", r.Rejection.MinNotional.String())
		log.Warn("cycle finished", attrs...)
	case OutcomeFailed:
		attrs = append(attrs, "failed_stage", r.FailedStage, "error", r.Error)
		log.Error("cycle finished", attrs...)
	default:
		log.Info("cycle finished", attrs...)
	}
}

// stopLossOrZero is used by alerts; decimal.Zero when no level applies.
func stopLossOrZero(r Result) decimal.Decimal {
	if r.StopLossPrice == nil {
		return decimal.Zero
	}
	return *r.StopLossPrice
}
