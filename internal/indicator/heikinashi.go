package indicator

import (
	"math"
	"time"

	"trendwatch/internal/model"
)

// HABar is a synthesized Heikin-Ashi candle.
type HABar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"ha_open"`
	High  float64   `json:"ha_high"`
	Low   float64   `json:"ha_low"`
	Close float64   `json:"ha_close"`
}

// HeikinAshi converts a raw OHLC series into Heikin-Ashi candles, one per bar.
// An empty or malformed series yields an empty result.
//
// Each candle's open depends on the previous candle, so the series is folded
// strictly left to right; there is no way to start mid-series.
func HeikinAshi(series model.BarSeries) []HABar {
	if err := model.ValidateSeries(series, 1); err != nil {
		return nil
	}

	out := make([]HABar, len(series))
	for i := range series {
		b := &series[i]
		haClose := (b.Open + b.High + b.Low + b.Close) / 4

		var haOpen float64
		if i == 0 {
			haOpen = (b.Open + b.Close) / 2
		} else {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}

		out[i] = HABar{
			Time:  b.Time,
			Open:  haOpen,
			High:  math.Max(b.High, math.Max(haOpen, haClose)),
			Low:   math.Min(b.Low, math.Min(haOpen, haClose)),
			Close: haClose,
		}
	}
	return out
}
