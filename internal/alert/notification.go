// Package alert turns trend rows into notifications, remembering the last
// trend seen for every series.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"trendwatch/internal/indicator"
	"trendwatch/internal/signal"
)

// Kind identifies what a Notification reports.
type Kind int

const (
	KindStrongCrossover Kind = iota + 1
	KindTrendReversal
	KindPullback
)

func (k Kind) String() string {
	switch k {
	case KindStrongCrossover:
		return "strong_crossover"
	case KindTrendReversal:
		return "trend_reversal"
	case KindPullback:
		return "pullback"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "strong_crossover":
		*k = KindStrongCrossover
	case "trend_reversal":
		*k = KindTrendReversal
	case "pullback":
		*k = KindPullback
	default:
		return fmt.Errorf("unknown notification kind %q", text)
	}
	return nil
}

// Notification is a structured alert. Rendering for humans happens in the
// notification package.
type Notification struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Interval string `json:"interval"`

	Crossover     signal.Crossover    `json:"crossover,omitempty"` // KindStrongCrossover
	PreviousTrend indicator.Trend     `json:"previous_trend"`      // KindTrendReversal
	Trend         indicator.Trend     `json:"trend"`
	Pullback      signal.PullbackKind `json:"pullback,omitempty"` // KindPullback

	Price    float64         `json:"price"`
	Strength indicator.Value `json:"strength"`
	BarTime  time.Time       `json:"bar_time"`
	At       time.Time       `json:"at"`
}

func newNotification(kind Kind, at time.Time, row indicator.Row) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Trend:    row.Trend,
		Price:    row.Close,
		Strength: row.Strength,
		BarTime:  row.Time,
		At:       at,
	}
}
