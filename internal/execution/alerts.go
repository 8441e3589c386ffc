package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"futures-signal-engine/internal/notification"
)

// AlertFromResult maps a finished cycle to an alert. NO_ACTION cycles are
// silent and return ok=false.
func AlertFromResult(r Result) (notification.Alert, bool) {
	switch r.Outcome {
	case OutcomePositionOpened:
		msg := fmt.Sprintf("%s %s qty=%s price=%s order=%d",
			r.Signal, r.Symbol, r.Quantity, r.Price, r.OrderID)
		if sl := stopLossOrZero(r); !sl.IsZero() {
			msg += fmt.Sprintf(" stop=%s", sl)
		}
		if r.Previous.Side != r.Position.Side && !r.Previous.IsFlat() {
			msg += fmt.Sprintf(" (flipped from %s)", r.Previous.Side)
		}
		return notification.Alert{
			Level:   notification.AlertInfo,
			Title:   fmt.Sprintf("%s position opened", r.Signal),
			Message: msg,
			TraceID: r.TraceID,
			Fields: notification.Fields(
				"rsi", fmt.Sprintf("%.2f", r.LastRSI),
				"sma", fmt.Sprintf("%.2f", r.LastSMA),
				"orders", fmt.Sprint(len(r.Orders)),
			),
		}, true
	case OutcomeRejected:
		a := notification.Alert{
			Level:   notification.AlertWarning,
			Title:   fmt.Sprintf("%s order rejected", r.Symbol),
			Message: fmt.Sprintf("%s signal: %s", r.Signal, r.Rejection),
			TraceID: r.TraceID,
		}
		if rej := r.Rejection; rej != nil {
			a.Fields = notification.Fields(
				"reason", string(rej.Reason),
				"qty", rej.Quantity.String(),
				"min_qty", rej.MinQty.String(),
				"notional", rej.Notional.String(),
				"min_notional", rej.MinNotional.String(),
			)
		}
		return a, true
	case OutcomeFailed:
		return notification.Alert{
			Level:   notification.AlertCritical,
			Title:   fmt.Sprintf("%s cycle failed at %s", r.Symbol, r.FailedStage),
			Message: r.Error,
			TraceID: r.TraceID,
			Fields: notification.Fields(
				"position", string(r.Position.Side),
				"orders_sent", fmt.Sprint(len(r.Orders)),
			),
		}, true
	}
	return notification.Alert{}, false
}

// AlertObserver forwards cycle results to a notifier.
type AlertObserver struct {
	notifier notification.Notifier
	timeout  time.Duration
}

// NewAlertObserver creates an observer delivering alerts through n.
func NewAlertObserver(n notification.Notifier) *AlertObserver {
	return &AlertObserver{notifier: n, timeout: 10 * time.Second}
}

func (a *AlertObserver) ObserveCycle(ctx context.Context, r Result) {
	alert, ok := AlertFromResult(r)
	if !ok {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.notifier.Send(sendCtx, alert); err != nil {
		slog.Warn("alert delivery failed", "title", alert.Title, "error", err)
	}
}
