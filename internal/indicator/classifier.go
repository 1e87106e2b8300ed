package indicator

import (
	"fmt"
	"math"

	"trendwatch/internal/model"
)

// Trend is the direction implied by the fast and slow moving averages.
type Trend int

const (
	TrendUndefined Trend = iota // averages equal or not yet defined
	TrendRising
	TrendFalling
)

func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "undefined"
	}
}

func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Trend) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rising":
		*t = TrendRising
	case "falling":
		*t = TrendFalling
	case "undefined", "":
		*t = TrendUndefined
	default:
		return fmt.Errorf("unknown trend %q", text)
	}
	return nil
}

// Params configures the classifier windows and the strong-signal threshold.
type Params struct {
	FastWindow        int     `json:"fast_window"`
	SlowWindow        int     `json:"slow_window"`
	VolumeWindow      int     `json:"volume_window"`
	StrengthThreshold float64 `json:"strength_threshold"` // percent
}

// DefaultParams returns SMA 9/20, a 10-bar volume average and a 0.5% strength
// threshold.
func DefaultParams() Params {
	return Params{
		FastWindow:        9,
		SlowWindow:        20,
		VolumeWindow:      10,
		StrengthThreshold: 0.5,
	}
}

// MinBars is the shortest series Classify will analyze.
func (p Params) MinBars() int {
	return max(p.FastWindow, p.SlowWindow)
}

// Validate rejects windows that cannot produce an average.
func (p Params) Validate() error {
	if p.FastWindow <= 0 || p.SlowWindow <= 0 || p.VolumeWindow <= 0 {
		return fmt.Errorf("indicator: windows must be positive (fast=%d slow=%d volume=%d)",
			p.FastWindow, p.SlowWindow, p.VolumeWindow)
	}
	if p.StrengthThreshold < 0 || math.IsNaN(p.StrengthThreshold) {
		return fmt.Errorf("indicator: invalid strength threshold %v", p.StrengthThreshold)
	}
	return nil
}

// Row is a bar augmented with trend indicators.
type Row struct {
	model.Bar
	SMAFast      Value `json:"sma_fast"`
	SMASlow      Value `json:"sma_slow"`
	Trend        Trend `json:"trend"`
	Strength     Value `json:"trend_strength"` // (fast-slow)/slow*100
	VolumeMA     Value `json:"volume_ma"`
	HighVolume   bool  `json:"is_high_volume"`
	StrongSignal bool  `json:"is_strong_signal"`
}

// Classify computes trend rows for series.
//
// A series shorter than p.MinBars, empty, or with missing OHLC values returns
// nil rows and an error wrapping one of the model sentinel errors; callers
// treat that as "no signal".
//
// When the series carries no volume at all every row counts as high volume
// and VolumeMA reads 0, so a missing volume feed never blocks signals.
func Classify(series model.BarSeries, p Params) ([]Row, error) {
	if err := model.ValidateSeries(series, p.MinBars()); err != nil {
		return nil, err
	}

	closes := series.Closes()
	fast := rollingMean(closes, p.FastWindow)
	slow := rollingMean(closes, p.SlowWindow)

	vols, total := series.Volumes()
	noVolume := total == 0
	var volMA []Value
	if !noVolume {
		volMA = rollingMean(vols, p.VolumeWindow)
	}

	rows := make([]Row, len(series))
	for i := range series {
		r := Row{
			Bar:     series[i],
			SMAFast: fast[i],
			SMASlow: slow[i],
		}
		r.Trend = trendOf(r.SMAFast, r.SMASlow)
		r.Strength = strengthOf(r.SMAFast, r.SMASlow)

		if noVolume {
			r.VolumeMA = Defined(0)
			r.HighVolume = true
		} else {
			r.VolumeMA = volMA[i]
			r.HighVolume = volMA[i].Valid && series[i].Volume > volMA[i].V
		}

		r.StrongSignal = r.Strength.Valid && math.Abs(r.Strength.V) > p.StrengthThreshold && r.HighVolume
		rows[i] = r
	}
	return rows, nil
}

func trendOf(fast, slow Value) Trend {
	if !fast.Valid || !slow.Valid {
		return TrendUndefined
	}
	switch {
	case fast.V > slow.V:
		return TrendRising
	case fast.V < slow.V:
		return TrendFalling
	default:
		return TrendUndefined
	}
}

func strengthOf(fast, slow Value) Value {
	if !fast.Valid || !slow.Valid || slow.V == 0 {
		return Value{}
	}
	return Defined((fast.V - slow.V) / slow.V * 100)
}

// LiveRows drops rows whose trend is undefined. Only the live trend-change
// path uses it; detectors consume the full row set.
func LiveRows(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Trend != TrendUndefined {
			out = append(out, r)
		}
	}
	return out
}
