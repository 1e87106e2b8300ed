// Package source holds bar source decorators shared by the concrete sources
// in its subpackages.
package source

import (
	"context"
	"log/slog"

	"trendwatch/internal/model"
)

// Archive wraps a BarSource and copies every fetched series into a
// BarWriter. Archive failures are logged; the fetch result is returned
// unchanged.
type Archive struct {
	src model.BarSource
	dst model.BarWriter
	log *slog.Logger
}

// NewArchive returns src with archiving into dst.
func NewArchive(src model.BarSource, dst model.BarWriter, log *slog.Logger) *Archive {
	return &Archive{src: src, dst: dst, log: log.With("component", "archive")}
}

func (a *Archive) Fetch(ctx context.Context, inst model.Instrument, tf model.Timeframe) (model.BarSeries, error) {
	series, err := a.src.Fetch(ctx, inst, tf)
	if err != nil || len(series) == 0 {
		return series, err
	}
	if err := a.dst.UpsertBars(ctx, inst.Symbol, tf.Interval, series); err != nil {
		a.log.Warn("archive failed", "symbol", inst.Symbol, "interval", tf.Interval, "bars", len(series), "error", err)
	}
	return series, nil
}
