package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/engine"
	"trendwatch/internal/indicator"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
)

// unreachable returns a client whose every command fails fast.
func unreachable(t *testing.T) *goredis.Client {
	t.Helper()
	c := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPublisher_Keys(t *testing.T) {
	p := NewWithClient(unreachable(t), Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := model.SeriesKey{Symbol: "GC=F", Interval: "1h"}
	assert.Equal(t, "trendwatch:eval:1h:GC=F", p.EvalChannel(key))
	assert.Equal(t, "trendwatch:latest:1h:GC=F", p.LatestKey(key))
	assert.Equal(t, "trendwatch:alerts", p.AlertsChannel())

	p = NewWithClient(unreachable(t), Config{Prefix: "tw"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "tw:alerts", p.AlertsChannel())
}

func TestPublisher_HoldsLatestWhileOpen(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewWithClient(unreachable(t), Config{}, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	ev := engine.Evaluation{Symbol: "BTC-USD", Interval: "1d", Status: engine.StatusOK}
	for i := 0; i < 5; i++ {
		err := p.Publish(ctx, ev)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, StateOpen, p.cb.CurrentState())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisCircuitBreakerTrips))
	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(m.RedisCircuitBreakerState))

	// open: rejected without I/O, newest summary held per key
	assert.ErrorIs(t, p.Publish(ctx, ev), ErrCircuitOpen)
	assert.ErrorIs(t, p.Publish(ctx, ev), ErrCircuitOpen)
	other := engine.Evaluation{Symbol: "BTC-USD", Interval: "1h"}
	assert.ErrorIs(t, p.Publish(ctx, other), ErrCircuitOpen)
	assert.Equal(t, 2, p.Pending())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RedisDroppedPublishes))
}

func TestPublisher_RunStopsOnClose(t *testing.T) {
	p := NewWithClient(unreachable(t), Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	in := make(chan engine.Evaluation, 1)
	in <- engine.Evaluation{Symbol: "SI=F", Interval: "1h"}
	close(in)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
}

func priced(symbol string, price float64) engine.Evaluation {
	return engine.Evaluation{
		Symbol:   symbol,
		Interval: "1h",
		Status:   engine.StatusOK,
		Rows:     []indicator.Row{{Bar: model.Bar{Close: price}}},
	}
}

func TestPublisher_RecoveryKeepsNewestSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	p := NewWithClient(client, Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p.cb.now = clock.now
	ctx := context.Background()

	gold := model.SeriesKey{Symbol: "GC=F", Interval: "1h"}
	silver := model.SeriesKey{Symbol: "SI=F", Interval: "1h"}

	mr.SetError("LOADING redis is loading the dataset in memory")
	for i := 0; i < 5; i++ {
		require.Error(t, p.Publish(ctx, priced("GC=F", 1)))
	}
	require.Equal(t, StateOpen, p.cb.CurrentState())

	assert.ErrorIs(t, p.Publish(ctx, priced("GC=F", 2)), ErrCircuitOpen)
	assert.ErrorIs(t, p.Publish(ctx, priced("SI=F", 20)), ErrCircuitOpen)
	require.Equal(t, 2, p.Pending())

	mr.SetError("")
	clock.advance(11 * time.Second)
	require.NoError(t, p.Publish(ctx, priced("GC=F", 3)))
	assert.Equal(t, StateClosed, p.cb.CurrentState())

	// the held silver summary is flushed in the background
	require.Eventually(t, func() bool {
		_, ok, err := p.Latest(ctx, silver)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.Pending())

	s, ok, err := p.Latest(ctx, gold)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, s.Price)

	s, _, err = p.Latest(ctx, silver)
	require.NoError(t, err)
	assert.Equal(t, 20.0, s.Price)
}
