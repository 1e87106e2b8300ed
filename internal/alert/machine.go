package alert

import (
	"time"

	"trendwatch/internal/indicator"
	"trendwatch/internal/model"
	"trendwatch/internal/signal"
)

// Machine applies the alert rules to the latest row of a series.
type Machine struct {
	memory *Memory
}

// NewMachine returns a machine backed by mem. A nil mem gets a fresh Memory.
func NewMachine(mem *Memory) *Machine {
	if mem == nil {
		mem = NewMemory()
	}
	return &Machine{memory: mem}
}

// Memory returns the machine's trend memory.
func (m *Machine) Memory() *Memory {
	return m.memory
}

// Evaluate runs one cycle for key against the last row:
//
//  1. a crossover on a strong row emits KindStrongCrossover;
//  2. a strong row whose trend differs from the remembered one emits
//     KindTrendReversal (never on the first evaluation of key);
//  3. the current trend is always stored.
//
// Empty rows emit nothing and leave memory untouched.
func (m *Machine) Evaluate(now time.Time, key model.SeriesKey, rows []indicator.Row, cross signal.Crossover) []Notification {
	if len(rows) == 0 {
		return nil
	}
	last := rows[len(rows)-1]

	var out []Notification
	if cross != signal.CrossNone && last.StrongSignal {
		n := newNotification(KindStrongCrossover, now, last)
		n.Crossover = cross
		out = append(out, n)
	}

	m.memory.Update(key, func(prev indicator.Trend, known bool) indicator.Trend {
		if known && prev != last.Trend && last.StrongSignal {
			n := newNotification(KindTrendReversal, now, last)
			n.PreviousTrend = prev
			out = append(out, n)
		}
		return last.Trend
	})

	for i := range out {
		out[i].Symbol = key.Symbol
		out[i].Interval = key.Interval
	}
	return out
}

// PullbackNotification builds a KindPullback notification for p on the last
// row. Pullbacks are not gated by memory.
func PullbackNotification(now time.Time, key model.SeriesKey, rows []indicator.Row, p signal.Pullback) (Notification, bool) {
	if !p.Touched() || len(rows) == 0 {
		return Notification{}, false
	}
	n := newNotification(KindPullback, now, rows[len(rows)-1])
	n.Symbol = key.Symbol
	n.Interval = key.Interval
	n.Pullback = p.Kind
	n.Price = p.Price
	return n, true
}
