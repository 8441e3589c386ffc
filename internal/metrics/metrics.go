package metrics

import (
	"context"
	"errors"
	"net/http"

	"futures-signal-engine/internal/exchange"
	"futures-signal-engine/internal/execution"
	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the signal engine.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec // labels: outcome
	CycleDuration   prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec // labels: signal
	OrdersTotal     *prometheus.CounterVec // labels: leg, side
	RejectionsTotal *prometheus.CounterVec // labels: reason
	FailuresTotal   *prometheus.CounterVec // labels: stage, kind
	SkippedTicks    *prometheus.CounterVec // labels: reason

	LastRSI      prometheus.Gauge
	LastSMA      prometheus.Gauge
	PositionSide prometheus.Gauge // -1=short, 0=flat, 1=long

	// Exchange circuit breaker
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses a fresh registry, which keeps tests independent.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_cycles_total",
			Help: "Finished pipeline cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_cycle_duration_seconds",
			Help:    "Wall time of one pipeline cycle, exchange calls included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Crossover classifications by signal",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_orders_total",
			Help: "Orders acknowledged by the exchange (leg=close|open)",
		}, []string{"leg", "side"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_rejections_total",
			Help: "Sizing rejections by reason",
		}, []string{"reason"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_failures_total",
			Help: "Failed cycles by stage and error kind (validation, transport, api, other)",
		}, []string{"stage", "kind"}),
		SkippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_skipped_ticks_total",
			Help: "Scheduler triggers that did not start a cycle",
		}, []string{"reason"}),
		LastRSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_last_rsi",
			Help: "RSI at the last evaluated candle",
		}),
		LastSMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_last_rsi_sma",
			Help: "SMA of RSI at the last evaluated candle",
		}),
		PositionSide: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_position_side",
			Help: "Tracked position (-1=short, 0=flat, 1=long)",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_exchange_circuit_breaker_state",
			Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_exchange_circuit_breaker_trips_total",
			Help: "Times the exchange circuit breaker tripped open",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SignalsTotal,
		m.OrdersTotal,
		m.RejectionsTotal,
		m.FailuresTotal,
		m.SkippedTicks,
		m.LastRSI,
		m.LastSMA,
		m.PositionSide,
		m.BreakerState,
		m.BreakerTrips,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(ctx context.Context, r execution.Result) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.CycleDuration.Observe(r.Duration.Seconds())

	if r.Outcome != execution.OutcomeFailed || stageEvaluated(r.FailedStage) {
		m.SignalsTotal.WithLabelValues(string(r.Signal)).Inc()
		m.LastRSI.Set(r.LastRSI)
		m.LastSMA.Set(r.LastSMA)
	}

	for _, o := range r.Orders {
		m.OrdersTotal.WithLabelValues(string(o.Leg), string(o.Request.Side)).Inc()
	}
	if r.Rejection != nil {
		m.RejectionsTotal.WithLabelValues(string(r.Rejection.Reason)).Inc()
	}
	if r.Outcome == execution.OutcomeFailed {
		m.FailuresTotal.WithLabelValues(string(r.FailedStage), errorKind(r.Err)).Inc()
	}
	m.PositionSide.Set(sideValue(r.Position.Side))
}

// TickSkipped implements scheduler.SkipObserver.
func (m *Metrics) TickSkipped(reason string) {
	m.SkippedTicks.WithLabelValues(reason).Inc()
}

// BreakerStateChanged is hooked to exchange.CircuitBreaker.OnStateChange.
func (m *Metrics) BreakerStateChanged(from, to exchange.BreakerState) {
	m.BreakerState.Set(float64(to))
	if to == exchange.BreakerOpen {
		m.BreakerTrips.Inc()
	}
}

// stageEvaluated reports whether a failure at s happened after the signal
// was computed.
func stageEvaluated(s execution.Stage) bool {
	switch s {
	case execution.StageClosing, execution.StageSizing, execution.StageSubmitting:
		return true
	}
	return false
}

func errorKind(err error) string {
	var ee *model.ExchangeError
	switch {
	case err == nil:
		return "other"
	case model.IsValidation(err):
		return "validation"
	case errors.As(err, &ee) && ee.Transport():
		return "transport"
	case errors.As(err, &ee):
		return "api"
	}
	return "other"
}

func sideValue(s strategy.Signal) float64 {
	switch s {
	case strategy.SignalLong:
		return 1
	case strategy.SignalShort:
		return -1
	}
	return 0
}
