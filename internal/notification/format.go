package notification

import (
	"fmt"
	"strings"

	"trendwatch/internal/alert"
	"trendwatch/internal/indicator"
	"trendwatch/internal/signal"
)

// Format renders a structured notification for humans.
func Format(n alert.Notification) Alert {
	label := n.Symbol
	if n.Name != "" && n.Name != n.Symbol {
		label = fmt.Sprintf("%s (%s)", n.Name, n.Symbol)
	}

	var b strings.Builder
	a := Alert{Source: &n}

	switch n.Kind {
	case alert.KindStrongCrossover:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s strong %s crossover on %s", arrow(n.Crossover == signal.CrossBullish), crossWord(n.Crossover), label)
		fmt.Fprintf(&b, "Interval: %s\n", n.Interval)
		fmt.Fprintf(&b, "Price: %s\n", price(n.Price))
		fmt.Fprintf(&b, "Strength: %s", strength(n.Strength))

	case alert.KindTrendReversal:
		a.Level = AlertCritical
		a.Title = fmt.Sprintf("🔄 Strong trend reversal on %s", label)
		fmt.Fprintf(&b, "Interval: %s\n", n.Interval)
		fmt.Fprintf(&b, "Trend: %s → %s\n", n.PreviousTrend, n.Trend)
		fmt.Fprintf(&b, "Price: %s\n", price(n.Price))
		fmt.Fprintf(&b, "Strength: %s", strength(n.Strength))

	case alert.KindPullback:
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("🔔 Pullback to the slow SMA on %s", label)
		fmt.Fprintf(&b, "Interval: %s\n", n.Interval)
		fmt.Fprintf(&b, "Price: %s\n", price(n.Price))
		side := "above"
		if n.Pullback == signal.PullbackFromBelow {
			side = "below"
		}
		fmt.Fprintf(&b, "Came back from %s the average", side)

	default:
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("%s on %s", n.Kind, label)
		fmt.Fprintf(&b, "Price: %s", price(n.Price))
	}

	if !n.BarTime.IsZero() {
		fmt.Fprintf(&b, "\nBar: %s", n.BarTime.UTC().Format("2006-01-02 15:04 MST"))
	}
	a.Message = b.String()
	return a
}

func arrow(up bool) string {
	if up {
		return "📈"
	}
	return "📉"
}

func crossWord(c signal.Crossover) string {
	if c == signal.CrossBullish {
		return "bullish"
	}
	return "bearish"
}

func price(p float64) string {
	return fmt.Sprintf("%.5f", p)
}

func strength(v indicator.Value) string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", v.V)
}
