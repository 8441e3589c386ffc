package execution

import (
	"time"

	"futures-signal-engine/internal/model"
	"futures-signal-engine/internal/position"
	"futures-signal-engine/internal/sizing"
	"futures-signal-engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// Stage is a state of the cycle state machine.
type Stage string

const (
	StageIdle       Stage = "IDLE"
	StageFetching   Stage = "FETCHING"
	StageEvaluating Stage = "EVALUATING"
	StageClosing    Stage = "CLOSING"
	StageSizing     Stage = "SIZING"
	StageSubmitting Stage = "SUBMITTING"
	StageSettled    Stage = "SETTLED"
	StageRejected   Stage = "REJECTED"
	StageFailed     Stage = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageSettled || s == StageRejected || s == StageFailed
}

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeNoAction       Outcome = "NO_ACTION"
	OutcomePositionOpened Outcome = "POSITION_OPENED"
	OutcomeRejected       Outcome = "REJECTED"
	OutcomeFailed         Outcome = "FAILED"
)

// Leg names the role of an order within a cycle.
type Leg string

const (
	LegClose Leg = "close"
	LegOpen  Leg = "open"
)

// OrderLeg is an order the cycle got acknowledged by the exchange.
type OrderLeg struct {
	Leg          Leg                     `json:"leg"`
	Request      model.OrderRequest      `json:"request"`
	Confirmation model.OrderConfirmation `json:"confirmation"`
}

// Result is the report of one cycle.
type Result struct {
	TraceID  string  `json:"trace_id"`
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Outcome  Outcome `json:"outcome"`
	Stage    Stage   `json:"stage"`

	// FailedStage is the stage that was running when the cycle failed.
	FailedStage Stage `json:"failed_stage,omitempty"`

	Signal  strategy.Signal `json:"signal"`
	LastRSI float64         `json:"last_rsi"`
	LastSMA float64         `json:"last_sma"`

	Previous position.State `json:"previous"`
	Position position.State `json:"position"`

	// Set for POSITION_OPENED.
	Price         decimal.Decimal  `json:"price"`
	Quantity      decimal.Decimal  `json:"quantity"`
	OrderID       int64            `json:"order_id,omitempty"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"`

	Rejection *sizing.Rejection `json:"rejection,omitempty"`
	Orders    []OrderLeg        `json:"orders,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Opened reports whether the cycle opened a new position.
func (r Result) Opened() bool { return r.Outcome == OutcomePositionOpened }
