package engine

import (
	"time"

	"trendwatch/internal/alert"
	"trendwatch/internal/indicator"
	"trendwatch/internal/model"
	"trendwatch/internal/signal"
)

// Status is the outcome of evaluating one series.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusFetchFailed      Status = "fetch_failed"
)

// Evaluation is everything computed for one series in one cycle. It is plain
// data; rendering is left to the consumers.
type Evaluation struct {
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	Interval    string    `json:"interval"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Bars        int       `json:"bars"`

	HeikinAshi    []indicator.HABar    `json:"heikin_ashi,omitempty"`
	Rows          []indicator.Row      `json:"rows,omitempty"`
	Crossover     signal.Crossover     `json:"crossover"`
	Pullback      signal.Pullback      `json:"pullback"`
	Position      signal.Position      `json:"position"`
	Notifications []alert.Notification `json:"notifications,omitempty"`
}

// Key returns the evaluated series key.
func (e Evaluation) Key() model.SeriesKey {
	return model.SeriesKey{Symbol: e.Symbol, Interval: e.Interval}
}

// Latest returns the last indicator row.
func (e Evaluation) Latest() (indicator.Row, bool) {
	if len(e.Rows) == 0 {
		return indicator.Row{}, false
	}
	return e.Rows[len(e.Rows)-1], true
}

// Summary is the compact per-series view served to dashboards.
type Summary struct {
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	Interval     string           `json:"interval"`
	Status       Status           `json:"status"`
	Price        float64          `json:"price"`
	BarTime      time.Time        `json:"bar_time"`
	Trend        indicator.Trend  `json:"trend"`
	LiveTrend    indicator.Trend  `json:"live_trend"` // last defined trend
	Strength     indicator.Value  `json:"trend_strength"`
	StrongSignal bool             `json:"is_strong_signal"`
	HighVolume   bool             `json:"is_high_volume"`
	Crossover    signal.Crossover `json:"crossover"`
	Pullback     signal.Pullback  `json:"pullback"`
	Position     signal.Position  `json:"position"`
	EvaluatedAt  time.Time        `json:"evaluated_at"`
}

// Summary condenses the evaluation to its latest row.
func (e Evaluation) Summary() Summary {
	s := Summary{
		Symbol:      e.Symbol,
		Name:        e.Name,
		Interval:    e.Interval,
		Status:      e.Status,
		Crossover:   e.Crossover,
		Pullback:    e.Pullback,
		Position:    e.Position,
		EvaluatedAt: e.EvaluatedAt,
	}
	last, ok := e.Latest()
	if !ok {
		return s
	}
	s.Price = last.Close
	s.BarTime = last.Time
	s.Trend = last.Trend
	s.Strength = last.Strength
	s.StrongSignal = last.StrongSignal
	s.HighVolume = last.HighVolume
	if live := indicator.LiveRows(e.Rows); len(live) > 0 {
		s.LiveTrend = live[len(live)-1].Trend
	}
	return s
}
