package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(Config{
		DBPath:  filepath.Join(t.TempDir(), "bars.db"),
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func hourly(n int, from time.Time) model.BarSeries {
	s := make(model.BarSeries, n)
	for i := range s {
		p := float64(100 + i)
		s[i] = model.Bar{Time: from.Add(time.Duration(i) * time.Hour), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: float64(i)}
	}
	return s
}

func TestStore_UpsertAndFetch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	bars := hourly(48, from)

	require.NoError(t, s.UpsertBars(ctx, "GC=F", "1h", bars))

	inst := model.Instrument{Name: "Gold", Symbol: "GC=F"}
	got, err := s.Fetch(ctx, inst, model.Timeframe{Interval: "1h", Lookback: "max"})
	require.NoError(t, err)
	assert.Equal(t, bars, got)

	// lookback counts back from the newest stored bar, not from now
	got, err = s.Fetch(ctx, inst, model.Timeframe{Interval: "1h", Lookback: "1d"})
	require.NoError(t, err)
	require.Len(t, got, 25)
	assert.Equal(t, bars[23].Time, got[0].Time)
	assert.Equal(t, bars[47], got[24])
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertBars(ctx, "BTC-USD", "1d", hourly(3, from)))
	fixed := hourly(3, from)
	fixed[2].Close = 999
	require.NoError(t, s.UpsertBars(ctx, "BTC-USD", "1d", fixed[2:]))

	got, err := s.Fetch(ctx, model.Instrument{Symbol: "BTC-USD"}, model.Timeframe{Interval: "1d"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 999.0, got[2].Close)

	last, ok, err := s.LastTimestamp(ctx, "BTC-USD", "1d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fixed[2].Time, last)
}

func TestStore_UnknownSeries(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := s.Fetch(ctx, model.Instrument{Symbol: "SI=F"}, model.Timeframe{Interval: "1h", Lookback: "5d"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := s.LastTimestamp(ctx, "SI=F", "1h")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Fetch(ctx, model.Instrument{Symbol: "SI=F"}, model.Timeframe{Interval: "1h", Lookback: "5x"})
	assert.Error(t, err)
}

func TestStore_IncrementalImport(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	full := hourly(10, from)
	require.NoError(t, s.UpsertBars(ctx, "GC=F", "1h", full[:6]))

	last, ok, err := s.LastTimestamp(ctx, "GC=F", "1h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, full[5].Time, last)

	// the newest archived bar is rewritten together with the new ones
	fresh := full.Since(last)
	require.Len(t, fresh, 5)
	fresh[0].Close = 999
	require.NoError(t, s.UpsertBars(ctx, "GC=F", "1h", fresh))

	got, err := s.Fetch(ctx, model.Instrument{Symbol: "GC=F"}, model.Timeframe{Interval: "1h", Lookback: "max"})
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, 999.0, got[5].Close)
	assert.Equal(t, full[9].Time, got[9].Time)
}
