package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	source string
	client *http.Client
	now    func() time.Time
}

// webhookPayload is the JSON body sent to the endpoint.
type webhookPayload struct {
	Source  string            `json:"source"`
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	TS      string            `json:"ts"`
}

// NewWebhookNotifier creates a webhook notifier. source identifies this
// engine in the payload, e.g. "signalbot:BTCUSDT".
func NewWebhookNotifier(url, source string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		source: source,
		client: newHTTPClient(),
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	p := webhookPayload{
		Source:  w.source,
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		TraceID: alert.TraceID,
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	}
	if len(alert.Fields) > 0 {
		p.Fields = make(map[string]string, len(alert.Fields))
		for _, f := range alert.Fields {
			p.Fields[f.Key] = f.Value
		}
	}

	if _, err := postJSON(ctx, w.client, w.url, p); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	slog.Debug("webhook alert sent", "title", alert.Title, "trace_id", alert.TraceID)
	return nil
}
