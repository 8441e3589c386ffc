// Package notification delivers trading alerts to external channels
// (Telegram, generic webhooks) and to the log.
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Field is one labelled detail of an alert, rendered in order.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TraceID string     `json:"trace_id,omitempty"`
	Fields  []Field    `json:"fields,omitempty"`
}

// Fields builds an ordered field list from alternating key/value pairs.
func Fields(kv ...string) []Field {
	out := make([]Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Field{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	attrs := []any{"level", alert.Level, "title", alert.Title, "message", alert.Message}
	if alert.TraceID != "" {
		attrs = append(attrs, "trace_id", alert.TraceID)
	}
	for _, f := range alert.Fields {
		attrs = append(attrs, f.Key, f.Value)
	}
	slog.Log(ctx, level, "alert", attrs...)
	return nil
}

// Multi fans an alert out to every backend. All backends are tried; the
// errors of the failing ones are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
