package signal

import (
	"fmt"

	"trendwatch/internal/indicator"
)

// Position is where the latest close sits relative to the slow average.
type Position int

const (
	PositionUnknown Position = iota // no rows, undefined average, or close on the average
	PositionAbove
	PositionBelow
)

func (p Position) String() string {
	switch p {
	case PositionAbove:
		return "above"
	case PositionBelow:
		return "below"
	default:
		return "unknown"
	}
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(text []byte) error {
	switch string(text) {
	case "above":
		*p = PositionAbove
	case "below":
		*p = PositionBelow
	case "unknown", "":
		*p = PositionUnknown
	default:
		return fmt.Errorf("unknown position %q", text)
	}
	return nil
}

// PricePosition compares the last close with the last slow average.
func PricePosition(rows []indicator.Row) Position {
	if len(rows) == 0 {
		return PositionUnknown
	}
	last := rows[len(rows)-1]
	if !last.SMASlow.Valid {
		return PositionUnknown
	}
	switch {
	case last.Close > last.SMASlow.V:
		return PositionAbove
	case last.Close < last.SMASlow.V:
		return PositionBelow
	default:
		return PositionUnknown
	}
}
