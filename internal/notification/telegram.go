package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trendwatch/internal/alert"
	"trendwatch/internal/signal"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API. Alerts carrying
// a structured notification get a compact per-kind layout; pullbacks are
// delivered silently.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	http     *resty.Client
	log      *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier for chatID.
func NewTelegramNotifier(botToken, chatID string, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		http: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
		log: log.With("component", "telegram"),
	}
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      telegramText(a),
		ParseMode: "MarkdownV2",
	}
	if a.Source != nil && a.Source.Kind == alert.KindPullback {
		msg.DisableNotification = true
	}

	var reply telegramReply
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&reply).
		SetError(&reply).
		Post(t.apiBase + "/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	if resp.IsError() {
		if reply.Description != "" {
			return fmt.Errorf("telegram: status %d: %s", resp.StatusCode(), reply.Description)
		}
		return fmt.Errorf("telegram: status %d", resp.StatusCode())
	}

	t.log.Debug("sent alert", "title", a.Title, "silent", msg.DisableNotification)
	return nil
}

// telegramText renders a MarkdownV2 message. Without a structured
// notification it falls back to the level badge, title and message.
func telegramText(a Alert) string {
	n := a.Source
	if n == nil {
		return fmt.Sprintf("%s *%s*\n\n%s", levelBadge(a.Level), escapeMarkdown(a.Title), escapeMarkdown(a.Message))
	}

	label := n.Symbol
	if n.Name != "" && n.Name != n.Symbol {
		label = n.Name + " (" + n.Symbol + ")"
	}

	var b strings.Builder
	var headline string
	switch n.Kind {
	case alert.KindStrongCrossover:
		b.WriteString(arrow(n.Crossover == signal.CrossBullish))
		headline = "Strong " + crossWord(n.Crossover) + " crossover"
	case alert.KindTrendReversal:
		b.WriteString("🔄")
		headline = fmt.Sprintf("Trend reversal: %s → %s", n.PreviousTrend, n.Trend)
	case alert.KindPullback:
		b.WriteString("🔔")
		side := "above"
		if n.Pullback == signal.PullbackFromBelow {
			side = "below"
		}
		headline = "Pullback to the slow SMA from " + side
	default:
		b.WriteString(levelBadge(a.Level))
		headline = n.Kind.String()
	}

	fmt.Fprintf(&b, " *%s · %s*\n", escapeMarkdown(label), escapeMarkdown(n.Interval))
	b.WriteString(escapeMarkdown(headline))
	b.WriteString("\n")
	line := "Price " + price(n.Price)
	if n.Kind != alert.KindPullback {
		line += ", strength " + strength(n.Strength)
	}
	b.WriteString(escapeMarkdown(line))
	if !n.BarTime.IsZero() {
		b.WriteString("\n_")
		b.WriteString(escapeMarkdown(n.BarTime.UTC().Format("2006-01-02 15:04 MST")))
		b.WriteString("_")
	}
	return b.String()
}

func levelBadge(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

const markdownSpecials = "\\_*[]()~`>#+-=|{}.!"

// escapeMarkdown escapes every MarkdownV2 special character in s.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
