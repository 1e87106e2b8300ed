package signal

import (
	"fmt"
	"math"

	"trendwatch/internal/indicator"
)

// PullbackKind says from which side the close came back to the slow average.
type PullbackKind int

const (
	PullbackNone PullbackKind = iota
	PullbackFromAbove
	PullbackFromBelow
)

func (k PullbackKind) String() string {
	switch k {
	case PullbackFromAbove:
		return "from_above"
	case PullbackFromBelow:
		return "from_below"
	default:
		return "none"
	}
}

func (k PullbackKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PullbackKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "from_above":
		*k = PullbackFromAbove
	case "from_below":
		*k = PullbackFromBelow
	case "none", "":
		*k = PullbackNone
	default:
		return fmt.Errorf("unknown pullback kind %q", text)
	}
	return nil
}

// Pullback is the result of DetectPullback. Price is the current close and
// is zero when nothing was touched.
type Pullback struct {
	Kind  PullbackKind `json:"kind"`
	Price float64      `json:"price,omitempty"`
}

// Touched reports whether a pullback was detected.
func (p Pullback) Touched() bool {
	return p.Kind != PullbackNone
}

// DetectPullback flags the close touching or crossing the slow average after
// having been strictly on one side of it on the previous row.
func DetectPullback(rows []indicator.Row) Pullback {
	prev, curr, ok := lastPair(rows)
	if !ok || !prev.SMASlow.Valid || !curr.SMASlow.Valid {
		return Pullback{}
	}
	if !finite(prev.Close) || !finite(curr.Close) {
		return Pullback{}
	}

	switch {
	case prev.Close > prev.SMASlow.V && curr.Close <= curr.SMASlow.V:
		return Pullback{Kind: PullbackFromAbove, Price: curr.Close}
	case prev.Close < prev.SMASlow.V && curr.Close >= curr.SMASlow.V:
		return Pullback{Kind: PullbackFromBelow, Price: curr.Close}
	default:
		return Pullback{}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
