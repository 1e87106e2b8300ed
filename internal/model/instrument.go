package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instrument represents a watched symbol.
type Instrument struct {
	Name   string `json:"name" toml:"name"`     // display name, e.g. "EUR/USD"
	Symbol string `json:"symbol" toml:"symbol"` // feed symbol, e.g. "EURUSD=X"
}

// Timeframe selects the bar interval and how far back a source should look.
type Timeframe struct {
	Interval string `json:"interval" toml:"interval"` // "1h", "1d", ...
	Lookback string `json:"lookback" toml:"lookback"` // "5d", "1mo", ...
}

// SeriesKey identifies one independently evaluated series.
type SeriesKey struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Key returns the series key for inst on tf.
func Key(inst Instrument, tf Timeframe) SeriesKey {
	return SeriesKey{Symbol: inst.Symbol, Interval: tf.Interval}
}

// String returns "symbol@interval".
func (k SeriesKey) String() string {
	return k.Symbol + "@" + k.Interval
}

// ParseLookback converts a range such as "5d", "2wk", "1mo", "1y" into a
// duration. "max" and "" mean unbounded and return 0.
func ParseLookback(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "max" {
		return 0, nil
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("lookback %q: missing count", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("lookback %q: invalid count", s)
	}

	day := 24 * time.Hour
	switch s[i:] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * day, nil
	case "wk", "w":
		return time.Duration(n) * 7 * day, nil
	case "mo":
		return time.Duration(n) * 30 * day, nil
	case "y":
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("lookback %q: unknown unit %q", s, s[i:])
	}
}

// TrimLookback returns the suffix of s whose bars fall within lookback of the
// newest bar. A zero lookback returns s unchanged.
func TrimLookback(s BarSeries, lookback time.Duration) BarSeries {
	last, ok := s.Last()
	if !ok || lookback <= 0 {
		return s
	}
	cutoff := last.Time.Add(-lookback)
	i := 0
	for i < len(s) && s[i].Time.Before(cutoff) {
		i++
	}
	return s[i:]
}
