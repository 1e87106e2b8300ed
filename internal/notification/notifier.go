// Package notification delivers alerts to external channels (Telegram,
// webhooks, the log) and renders structured notifications for humans.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trendwatch/internal/alert"
	"trendwatch/internal/metrics"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is a rendered notification ready to be sent. Source carries the
// structured notification it was rendered from, when there is one.
type Alert struct {
	Level   AlertLevel          `json:"level"`
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Source  *alert.Notification `json:"notification,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, a Alert) error {
	attrs := []any{"level", string(a.Level), "title", a.Title, "message", a.Message}
	if a.Source != nil {
		attrs = append(attrs, "kind", a.Source.Kind.String(), "symbol", a.Source.Symbol, "interval", a.Source.Interval)
	}
	n.log.InfoContext(ctx, "alert", attrs...)
	return nil
}

// Channel is a named notifier; the name labels failure metrics.
type Channel struct {
	Name     string
	Notifier Notifier
}

// Multi sends every alert to all channels. One failing channel does not stop
// the others.
type Multi struct {
	channels []Channel
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewMulti creates a fan-out notifier. m may be nil.
func NewMulti(m *metrics.Metrics, log *slog.Logger, channels ...Channel) *Multi {
	return &Multi{channels: channels, metrics: m, log: log.With("component", "notify")}
}

// Len returns the number of channels.
func (m *Multi) Len() int { return len(m.channels) }

func (m *Multi) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notifier.Send(ctx, a); err != nil {
			m.log.Warn("delivery failed", "channel", ch.Name, "title", a.Title, "error", err)
			if m.metrics != nil {
				m.metrics.NotifyFailures.WithLabelValues(ch.Name).Inc()
			}
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}
