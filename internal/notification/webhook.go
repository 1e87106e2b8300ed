package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"trendwatch/internal/alert"
)

// WebhookNotifier POSTs alerts, including the structured notification, to a
// generic HTTP endpoint.
type WebhookNotifier struct {
	url  string
	http *resty.Client
	log  *slog.Logger
}

// NewWebhookNotifier creates a notifier posting JSON to url.
func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:  url,
		http: resty.New().SetTimeout(10 * time.Second),
		log:  log.With("component", "webhook"),
	}
}

type webhookPayload struct {
	Level   AlertLevel          `json:"level"`
	Title   string              `json:"title"`
	Message string              `json:"message"`
	TS      time.Time           `json:"ts"`
	Source  *alert.Notification `json:"notification,omitempty"`
}

func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	payload := webhookPayload{
		Level:   a.Level,
		Title:   a.Title,
		Message: a.Message,
		TS:      time.Now().UTC(),
		Source:  a.Source,
	}

	resp, err := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode())
	}

	w.log.Debug("sent alert", "url", w.url, "title", a.Title)
	return nil
}
