package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via the Telegram Bot API as HTML messages.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier for chatID.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   newHTTPClient(),
	}
}

// telegramResponse is the Bot API envelope; failures carry a description
// and, when throttled, retry_after seconds.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	body, err := postJSON(ctx, t.client, url, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     renderTelegram(alert),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})

	var resp telegramResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &resp)
	}
	var se *StatusError
	if errors.As(err, &se) && resp.Description != "" {
		if resp.Parameters.RetryAfter > 0 {
			return fmt.Errorf("telegram: %d %s (retry after %ds)", se.Code, resp.Description, resp.Parameters.RetryAfter)
		}
		return fmt.Errorf("telegram: %d %s", se.Code, resp.Description)
	}
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if len(body) > 0 && !resp.OK {
		return fmt.Errorf("telegram: not ok: %s", resp.Description)
	}

	slog.Debug("telegram alert sent", "title", alert.Title, "trace_id", alert.TraceID)
	return nil
}

func levelIcon(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

// renderTelegram formats an alert as Telegram HTML: bold title, message,
// then one line per field and the trace id in monospace.
func renderTelegram(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>", levelIcon(a.Level), html.EscapeString(a.Title))
	if a.Message != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(a.Message))
	}
	if len(a.Fields) > 0 {
		b.WriteString("\n")
		for _, f := range a.Fields {
			fmt.Fprintf(&b, "\n%s: <code>%s</code>", html.EscapeString(f.Key), html.EscapeString(f.Value))
		}
	}
	if a.TraceID != "" {
		fmt.Fprintf(&b, "\n\n<i>trace %s</i>", html.EscapeString(a.TraceID))
	}
	return b.String()
}
