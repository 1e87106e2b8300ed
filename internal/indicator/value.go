// Package indicator derives Heikin-Ashi candles and moving-average trend rows
// from bar series.
//
// Everything here is a pure function over an immutable series: results are
// recomputed from scratch on every evaluation cycle and are safe to compute
// for many instruments in parallel.
package indicator

import (
	"encoding/json"

	talib "github.com/markcheno/go-talib"
)

// Value is an indicator reading that may be undefined, e.g. during the
// warm-up bars of a moving average. Undefined values encode as JSON null.
type Value struct {
	V     float64
	Valid bool
}

// Defined returns a valid Value holding v.
func Defined(v float64) Value {
	return Value{V: v, Valid: true}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}

// rollingMean returns the trailing simple mean of values over window.
// The first window-1 entries are undefined (no backfill); a series shorter
// than the window yields only undefined entries.
//
// talib keeps one running sum across the series, so rounding error from
// earlier bars leaks into later windows. A window of identical values is
// reported as exactly that value, which keeps equal averages equal once
// prices go flat.
func rollingMean(values []float64, window int) []Value {
	out := make([]Value, len(values))
	if window <= 0 || len(values) < window {
		return out
	}
	means := talib.Sma(values, window)
	run := 0 // length of the run of equal values ending at i
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			run++
		} else {
			run = 1
		}
		if i < window-1 {
			continue
		}
		if run >= window {
			out[i] = Defined(v)
		} else {
			out[i] = Defined(means[i])
		}
	}
	return out
}
