package model

import "context"

// BarSource supplies bar series for an instrument and timeframe.
// Implementations may return an empty series on failure; callers treat empty
// or short series as "no signal".
type BarSource interface {
	Fetch(ctx context.Context, inst Instrument, tf Timeframe) (BarSeries, error)
}

// BarWriter stores bars for later retrieval by a BarSource.
type BarWriter interface {
	UpsertBars(ctx context.Context, symbol, interval string, bars BarSeries) error
}
