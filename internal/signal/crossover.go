// Package signal detects discrete events between the last two trend rows.
// Detectors are stateless and consult nothing but the rows they are given.
package signal

import (
	"fmt"

	"trendwatch/internal/indicator"
)

// Crossover is the outcome of comparing the fast and slow averages across the
// last two rows.
type Crossover int

const (
	CrossNone Crossover = iota
	CrossBullish
	CrossBearish
)

func (c Crossover) String() string {
	switch c {
	case CrossBullish:
		return "bullish_cross"
	case CrossBearish:
		return "bearish_cross"
	default:
		return "none"
	}
}

func (c Crossover) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Crossover) UnmarshalText(text []byte) error {
	switch string(text) {
	case "bullish_cross":
		*c = CrossBullish
	case "bearish_cross":
		*c = CrossBearish
	case "none", "":
		*c = CrossNone
	default:
		return fmt.Errorf("unknown crossover %q", text)
	}
	return nil
}

// DetectCrossover reports whether the fast average crossed the slow average
// between the last two rows. Undefined averages or touching (equal) averages
// yield CrossNone.
func DetectCrossover(rows []indicator.Row) Crossover {
	prev, curr, ok := lastPair(rows)
	if !ok {
		return CrossNone
	}
	if !prev.SMAFast.Valid || !prev.SMASlow.Valid || !curr.SMAFast.Valid || !curr.SMASlow.Valid {
		return CrossNone
	}

	switch {
	case prev.SMAFast.V < prev.SMASlow.V && curr.SMAFast.V > curr.SMASlow.V:
		return CrossBullish
	case prev.SMAFast.V > prev.SMASlow.V && curr.SMAFast.V < curr.SMASlow.V:
		return CrossBearish
	default:
		return CrossNone
	}
}

func lastPair(rows []indicator.Row) (prev, curr indicator.Row, ok bool) {
	if len(rows) < 2 {
		return prev, curr, false
	}
	return rows[len(rows)-2], rows[len(rows)-1], true
}
