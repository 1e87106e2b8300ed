package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV time step. Volume is 0 when the feed carries none.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarSeries is a chronological sequence of bars for a single instrument and
// timeframe. It is owned by the evaluation that fetched it.
type BarSeries []Bar

var (
	// ErrEmptySeries is returned for a series without bars.
	ErrEmptySeries = errors.New("empty bar series")
	// ErrMissingField is returned when a required OHLC field holds no number.
	ErrMissingField = errors.New("bar missing required field")
	// ErrInsufficientBars is returned when a series is shorter than a window.
	ErrInsufficientBars = errors.New("insufficient bars")
)

// ValidateSeries checks that s is non-empty, that every bar carries finite
// OHLC values, and that it holds at least minLen bars.
//
// The returned errors describe "nothing to analyze" and are never fatal.
func ValidateSeries(s BarSeries, minLen int) error {
	if len(s) == 0 {
		return ErrEmptySeries
	}
	for i := range s {
		if !s[i].complete() {
			return fmt.Errorf("%w: bar %d", ErrMissingField, i)
		}
	}
	if len(s) < minLen {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBars, len(s), minLen)
	}
	return nil
}

func (b *Bar) complete() bool {
	return finite(b.Open) && finite(b.High) && finite(b.Low) && finite(b.Close)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Closes returns the close prices of the series.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Volumes returns the volumes of the series and their total.
func (s BarSeries) Volumes() ([]float64, float64) {
	out := make([]float64, len(s))
	total := 0.0
	for i := range s {
		out[i] = s[i].Volume
		total += s[i].Volume
	}
	return out, total
}

// Last returns the newest bar. ok is false for an empty series.
func (s BarSeries) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Since returns the suffix of s whose bars are at or after t. The bar at t
// is kept because the newest stored bar may still have been forming.
func (s BarSeries) Since(t time.Time) BarSeries {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	return s[i:]
}
