package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/indicator"
	"trendwatch/internal/model"
	"trendwatch/internal/signal"
)

var (
	now   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	goldH = model.SeriesKey{Symbol: "GC=F", Interval: "1h"}
)

func row(trend indicator.Trend, strong bool) indicator.Row {
	return indicator.Row{
		Bar:          model.Bar{Time: now.Add(-time.Hour), Close: 2300},
		Trend:        trend,
		Strength:     indicator.Defined(0.8),
		StrongSignal: strong,
	}
}

func TestMachine_FirstEvaluationNeverReverses(t *testing.T) {
	m := NewMachine(nil)
	got := m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, true)}, signal.CrossNone)
	assert.Empty(t, got)

	trend, ok := m.Memory().Get(goldH)
	require.True(t, ok)
	assert.Equal(t, indicator.TrendRising, trend)
}

func TestMachine_MemoryAlwaysUpdated(t *testing.T) {
	m := NewMachine(NewMemory())
	m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, false)}, signal.CrossNone)

	// weak reversal: no notification but memory moves
	got := m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendFalling, false)}, signal.CrossNone)
	assert.Empty(t, got)
	trend, _ := m.Memory().Get(goldH)
	assert.Equal(t, indicator.TrendFalling, trend)

	got = m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendUndefined, false)}, signal.CrossNone)
	assert.Empty(t, got)
	trend, ok := m.Memory().Get(goldH)
	assert.True(t, ok)
	assert.Equal(t, indicator.TrendUndefined, trend)
}

func TestMachine_StrongReversal(t *testing.T) {
	m := NewMachine(nil)
	m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendFalling, false)}, signal.CrossNone)

	got := m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, true)}, signal.CrossNone)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, KindTrendReversal, n.Kind)
	assert.Equal(t, indicator.TrendFalling, n.PreviousTrend)
	assert.Equal(t, indicator.TrendRising, n.Trend)
	assert.Equal(t, 2300.0, n.Price)
	assert.Equal(t, "GC=F", n.Symbol)
	assert.Equal(t, "1h", n.Interval)
	assert.Equal(t, now, n.At)
	assert.NotEmpty(t, n.ID)

	// same trend again: nothing
	assert.Empty(t, m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, true)}, signal.CrossNone))
}

func TestMachine_CrossoverAndReversalSameCycle(t *testing.T) {
	m := NewMachine(nil)
	m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendFalling, false)}, signal.CrossNone)

	rows := []indicator.Row{row(indicator.TrendFalling, false), row(indicator.TrendRising, true)}
	got := m.Evaluate(now, goldH, rows, signal.CrossBullish)
	require.Len(t, got, 2)
	assert.Equal(t, KindStrongCrossover, got[0].Kind)
	assert.Equal(t, signal.CrossBullish, got[0].Crossover)
	assert.Equal(t, indicator.Defined(0.8), got[0].Strength)
	assert.Equal(t, KindTrendReversal, got[1].Kind)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestMachine_CrossoverNeedsStrongRow(t *testing.T) {
	m := NewMachine(nil)
	got := m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, false)}, signal.CrossBullish)
	assert.Empty(t, got)

	// crossover fires on first evaluation; only reversals need history
	got = NewMachine(nil).Evaluate(now, goldH, []indicator.Row{row(indicator.TrendRising, true)}, signal.CrossBullish)
	require.Len(t, got, 1)
	assert.Equal(t, KindStrongCrossover, got[0].Kind)
}

func TestMachine_EmptyRowsLeaveMemory(t *testing.T) {
	m := NewMachine(nil)
	assert.Empty(t, m.Evaluate(now, goldH, nil, signal.CrossBullish))
	_, ok := m.Memory().Get(goldH)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Memory().Len())
}

func TestMachine_KeysIndependent(t *testing.T) {
	m := NewMachine(nil)
	goldD := model.SeriesKey{Symbol: "GC=F", Interval: "1d"}
	m.Evaluate(now, goldH, []indicator.Row{row(indicator.TrendFalling, false)}, signal.CrossNone)

	assert.Empty(t, m.Evaluate(now, goldD, []indicator.Row{row(indicator.TrendRising, true)}, signal.CrossNone))
	trend, _ := m.Memory().Get(goldH)
	assert.Equal(t, indicator.TrendFalling, trend)
}

func TestPullbackNotification(t *testing.T) {
	rows := []indicator.Row{row(indicator.TrendRising, false)}
	_, ok := PullbackNotification(now, goldH, rows, signal.Pullback{})
	assert.False(t, ok)

	n, ok := PullbackNotification(now, goldH, rows, signal.Pullback{Kind: signal.PullbackFromAbove, Price: 2299.5})
	require.True(t, ok)
	assert.Equal(t, KindPullback, n.Kind)
	assert.Equal(t, signal.PullbackFromAbove, n.Pullback)
	assert.Equal(t, 2299.5, n.Price)
	assert.Equal(t, "GC=F", n.Symbol)
}

func TestMemory_ConcurrentUpdatesSerialize(t *testing.T) {
	mem := NewMemory()
	const workers = 50

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem.Update(goldH, func(prev indicator.Trend, known bool) indicator.Trend {
				counter++ // guarded by the key lock
				if prev == indicator.TrendRising {
					return indicator.TrendFalling
				}
				return indicator.TrendRising
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, workers, counter)
	assert.Equal(t, 1, mem.Len())
}

func TestMemory_RetainForgetReset(t *testing.T) {
	mem := NewMemory()
	keys := []model.SeriesKey{
		{Symbol: "EURUSD=X", Interval: "1h"},
		{Symbol: "EURUSD=X", Interval: "1d"},
		{Symbol: "BTC-USD", Interval: "1h"},
	}
	for _, k := range keys {
		mem.Update(k, func(indicator.Trend, bool) indicator.Trend { return indicator.TrendRising })
	}

	assert.Equal(t, 1, mem.Retain(keys[:2]))
	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, map[string]indicator.Trend{
		"EURUSD=X@1h": indicator.TrendRising,
		"EURUSD=X@1d": indicator.TrendRising,
	}, mem.Snapshot())

	mem.Forget(keys[0])
	_, ok := mem.Get(keys[0])
	assert.False(t, ok)

	mem.Reset()
	assert.Equal(t, 0, mem.Len())
}
