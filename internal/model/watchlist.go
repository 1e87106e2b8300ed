package model

import (
	"errors"
	"fmt"
)

// Watchlist is the set of instruments evaluated on every timeframe.
type Watchlist struct {
	Instruments []Instrument `toml:"instrument" json:"instruments"`
	Timeframes  []Timeframe  `toml:"timeframe" json:"timeframes"`
}

// Pair is one (instrument, timeframe) combination of a watchlist.
type Pair struct {
	Instrument Instrument
	Timeframe  Timeframe
}

// Key returns the pair's series key.
func (p Pair) Key() SeriesKey {
	return Key(p.Instrument, p.Timeframe)
}

// Pairs expands the watchlist instrument-major, matching display order.
func (w Watchlist) Pairs() []Pair {
	out := make([]Pair, 0, len(w.Instruments)*len(w.Timeframes))
	for _, inst := range w.Instruments {
		for _, tf := range w.Timeframes {
			out = append(out, Pair{Instrument: inst, Timeframe: tf})
		}
	}
	return out
}

// Keys returns every series key of the watchlist.
func (w Watchlist) Keys() []SeriesKey {
	pairs := w.Pairs()
	keys := make([]SeriesKey, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key()
	}
	return keys
}

// Validate checks for empty lists, blank symbols and duplicates.
func (w Watchlist) Validate() error {
	if len(w.Instruments) == 0 {
		return errors.New("watchlist: no instruments")
	}
	if len(w.Timeframes) == 0 {
		return errors.New("watchlist: no timeframes")
	}

	symbols := make(map[string]bool, len(w.Instruments))
	for i, inst := range w.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("watchlist: instrument %d has no symbol", i)
		}
		if symbols[inst.Symbol] {
			return fmt.Errorf("watchlist: duplicate symbol %q", inst.Symbol)
		}
		symbols[inst.Symbol] = true
	}

	intervals := make(map[string]bool, len(w.Timeframes))
	for _, tf := range w.Timeframes {
		if tf.Interval == "" {
			return errors.New("watchlist: timeframe without interval")
		}
		if intervals[tf.Interval] {
			return fmt.Errorf("watchlist: duplicate interval %q", tf.Interval)
		}
		intervals[tf.Interval] = true
		if _, err := ParseLookback(tf.Lookback); err != nil {
			return fmt.Errorf("watchlist: interval %s: %w", tf.Interval, err)
		}
	}
	return nil
}

// Find returns the instrument with the given symbol.
func (w Watchlist) Find(symbol string) (Instrument, bool) {
	for _, inst := range w.Instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return Instrument{}, false
}
