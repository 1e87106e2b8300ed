// Package parquet reads and writes bar series as one Parquet file per
// symbol and interval.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"trendwatch/internal/model"
)

// Bar is the on-disk row: millisecond timestamp and OHLCV.
type Bar struct {
	Timestamp int64   `json:"t" parquet:"t"` // Unix milliseconds
	Open      float64 `json:"o" parquet:"o"`
	High      float64 `json:"h" parquet:"h"`
	Low       float64 `json:"l" parquet:"l"`
	Close     float64 `json:"c" parquet:"c"`
	Volume    float64 `json:"v" parquet:"v"`
}

// Source serves series from a directory of Parquet files.
type Source struct {
	dir string
}

// New returns a source rooted at dir.
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Path returns the file holding symbol on interval.
func (s *Source) Path(symbol, interval string) string {
	return filepath.Join(s.dir, fileName(symbol, interval))
}

var unsafeChars = strings.NewReplacer("/", "-", `\`, "-", ":", "-")

func fileName(symbol, interval string) string {
	return unsafeChars.Replace(symbol) + "_" + interval + ".parquet"
}

// Fetch reads the series file, sorts it ascending and trims it to the
// lookback window measured from the newest bar. A missing file yields an
// empty series.
func (s *Source) Fetch(ctx context.Context, inst model.Instrument, tf model.Timeframe) (model.BarSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lookback, err := model.ParseLookback(tf.Lookback)
	if err != nil {
		return nil, err
	}

	path := s.Path(inst.Symbol, tf.Interval)
	rows, err := parquet.ReadFile[Bar](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
	series := make(model.BarSeries, len(rows))
	for i, r := range rows {
		series[i] = model.Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return model.TrimLookback(series, lookback), nil
}

// UpsertBars replaces the series file with bars.
func (s *Source) UpsertBars(ctx context.Context, symbol, interval string, bars model.BarSeries) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("parquet mkdir: %w", err)
	}

	rows := make([]Bar, len(bars))
	for i, b := range bars {
		rows[i] = Bar{
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(s.Path(symbol, interval), rows)
}
