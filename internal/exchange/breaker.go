// Package exchange holds decorators that sit between the pipeline and a
// concrete exchange client: a circuit breaker and a symbol filter cache.
package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"futures-signal-engine/internal/model"

	"github.com/shopspring/decimal"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = 0 // calls pass through
	BreakerOpen     BreakerState = 1 // calls fail fast
	BreakerHalfOpen BreakerState = 2 // one probe call allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the exchange while the breaker
// is open.
var ErrCircuitOpen = errors.New("exchange circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive transport failures and
// rejects calls for resetTimeout. Afterwards one probe is let through; its
// outcome closes or reopens the breaker.
//
// Only failures where the exchange never answered count. An API error such
// as "insufficient margin" means the exchange is reachable.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:        BreakerClosed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transition(BreakerHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if countsAsFailure(err) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(BreakerOpen)
		}
		return err
	}

	if cb.state == BreakerHalfOpen {
		cb.transition(BreakerClosed)
	}
	cb.failures = 0
	return err
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == BreakerClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

func countsAsFailure(err error) bool {
	if err == nil || model.IsValidation(err) {
		return false
	}
	var ee *model.ExchangeError
	if errors.As(err, &ee) {
		return ee.Transport()
	}
	return true
}

// ── Exchange decorator ──

// Guarded wraps an exchange so every call goes through a CircuitBreaker.
type Guarded struct {
	inner   model.Exchange
	breaker *CircuitBreaker
}

// NewGuarded decorates inner with breaker.
func NewGuarded(inner model.Exchange, breaker *CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

// Breaker returns the breaker guarding the exchange.
func (g *Guarded) Breaker() *CircuitBreaker { return g.breaker }

func (g *Guarded) call(op string, fn func() error) error {
	err := g.breaker.Execute(fn)
	if errors.Is(err, ErrCircuitOpen) {
		return &model.ExchangeError{Op: op, Err: err}
	}
	return err
}

func (g *Guarded) GetKlines(ctx context.Context, symbol, interval string, limit int) (out []model.Kline, err error) {
	err = g.call("klines", func() error {
		out, err = g.inner.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return out, err
}

func (g *Guarded) GetPrice(ctx context.Context, symbol string) (out decimal.Decimal, err error) {
	err = g.call("price", func() error {
		out, err = g.inner.GetPrice(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) GetSymbolFilters(ctx context.Context, symbol string) (out model.SymbolFilters, err error) {
	err = g.call("exchange_info", func() error {
		out, err = g.inner.GetSymbolFilters(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) GetPositionExposure(ctx context.Context, symbol string) (out model.Exposure, err error) {
	err = g.call("position_risk", func() error {
		out, err = g.inner.GetPositionExposure(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) GetAvailableBalance(ctx context.Context, asset string) (out decimal.Decimal, err error) {
	err = g.call("account", func() error {
		out, err = g.inner.GetAvailableBalance(ctx, asset)
		return err
	})
	return out, err
}

func (g *Guarded) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.call("change_leverage", func() error {
		return g.inner.SetLeverage(ctx, symbol, leverage)
	})
}

func (g *Guarded) SubmitMarketOrder(ctx context.Context, req model.OrderRequest) (out model.OrderConfirmation, err error) {
	err = g.call("submit_order", func() error {
		out, err = g.inner.SubmitMarketOrder(ctx, req)
		return err
	})
	return out, err
}

// InvalidateFilters forwards to the wrapped exchange when it caches filters.
func (g *Guarded) InvalidateFilters(symbol string) {
	if inv, ok := g.inner.(model.FilterInvalidator); ok {
		inv.InvalidateFilters(symbol)
	}
}
