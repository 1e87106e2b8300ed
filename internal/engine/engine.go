// Package engine runs the per-series pipeline (Heikin-Ashi, trend
// classification, crossover and pullback detection, alerting) over a watch
// list on a fixed cadence.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"trendwatch/internal/alert"
	"trendwatch/internal/indicator"
	"trendwatch/internal/logger"
	"trendwatch/internal/metrics"
	"trendwatch/internal/model"
	"trendwatch/internal/signal"
)

// Config holds the engine settings.
type Config struct {
	Indicator      indicator.Params
	PullbackAlerts bool
	Concurrency    int
	SourceName     string // metrics label for the bar source
}

// Engine evaluates series fetched from a BarSource.
type Engine struct {
	cfg     Config
	source  model.BarSource
	machine *alert.Machine
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	log     *slog.Logger
}

// New creates an engine.
func New(cfg Config, source model.BarSource, machine *alert.Machine, m *metrics.Metrics, log *slog.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "unknown"
	}
	return &Engine{
		cfg:     cfg,
		source:  source,
		machine: machine,
		metrics: m,
		log:     log.With("component", "engine"),
	}
}

// SetHealth makes every cycle report its outcome to h.
func (e *Engine) SetHealth(h *metrics.HealthStatus) {
	e.health = h
}

// Evaluate runs the full pipeline for one series. It never fails: short or
// malformed series come back with StatusInsufficientData, no notifications
// and trend memory left untouched.
func (e *Engine) Evaluate(now time.Time, inst model.Instrument, tf model.Timeframe, series model.BarSeries) Evaluation {
	start := time.Now()
	key := model.Key(inst, tf)

	ev := Evaluation{
		Symbol:      inst.Symbol,
		Name:        inst.Name,
		Interval:    tf.Interval,
		Status:      StatusOK,
		EvaluatedAt: now,
		Bars:        len(series),
		HeikinAshi:  indicator.HeikinAshi(series),
	}

	rows, err := indicator.Classify(series, e.cfg.Indicator)
	if err != nil {
		ev.Status = StatusInsufficientData
		ev.Error = err.Error()
		e.metrics.EvaluationsTotal.WithLabelValues(tf.Interval, string(ev.Status)).Inc()
		return ev
	}

	ev.Rows = rows
	ev.Crossover = signal.DetectCrossover(rows)
	ev.Pullback = signal.DetectPullback(rows)
	ev.Position = signal.PricePosition(rows)

	notes := e.machine.Evaluate(now, key, rows, ev.Crossover)
	if e.cfg.PullbackAlerts {
		if n, ok := alert.PullbackNotification(now, key, rows, ev.Pullback); ok {
			notes = append(notes, n)
		}
	}
	for i := range notes {
		notes[i].Name = inst.Name
		e.metrics.NotificationsTotal.WithLabelValues(notes[i].Kind.String()).Inc()
	}
	ev.Notifications = notes

	e.metrics.EvaluationsTotal.WithLabelValues(tf.Interval, string(ev.Status)).Inc()
	e.metrics.EvaluateDur.Observe(time.Since(start).Seconds())
	return ev
}

func (e *Engine) fetch(ctx context.Context, inst model.Instrument, tf model.Timeframe) (model.BarSeries, error) {
	start := time.Now()
	series, err := e.source.Fetch(ctx, inst, tf)
	e.metrics.FetchDur.WithLabelValues(e.cfg.SourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.FetchFailures.WithLabelValues(e.cfg.SourceName).Inc()
	}
	return series, err
}

// RunCycle fetches and evaluates every watch-list pair concurrently and
// returns the evaluations in watch-list order. A failing fetch only affects
// its own series. Memory entries for keys no longer watched are dropped.
// The only error is ctx cancellation.
func (e *Engine) RunCycle(ctx context.Context, w model.Watchlist) ([]Evaluation, error) {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("cycle", start))
	log := e.log.With(logger.LogWithTrace(ctx)...)

	pairs := w.Pairs()
	out := make([]Evaluation, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			series, err := e.fetch(gctx, p.Instrument, p.Timeframe)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn("fetch failed", "symbol", p.Instrument.Symbol, "interval", p.Timeframe.Interval, "error", err)
				out[i] = Evaluation{
					Symbol:      p.Instrument.Symbol,
					Name:        p.Instrument.Name,
					Interval:    p.Timeframe.Interval,
					Status:      StatusFetchFailed,
					Error:       err.Error(),
					EvaluatedAt: start,
				}
				e.metrics.EvaluationsTotal.WithLabelValues(p.Timeframe.Interval, string(StatusFetchFailed)).Inc()
				return nil
			}
			out[i] = e.Evaluate(start, p.Instrument, p.Timeframe, series)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if removed := e.machine.Memory().Retain(w.Keys()); removed > 0 {
		log.Info("pruned trend memory", "removed", removed)
	}

	var ok, failed, short, notes int
	for _, ev := range out {
		switch ev.Status {
		case StatusOK:
			ok++
		case StatusFetchFailed:
			failed++
		case StatusInsufficientData:
			short++
		}
		notes += len(ev.Notifications)
	}

	e.metrics.CyclesTotal.Inc()
	e.metrics.CycleDur.Observe(time.Since(start).Seconds())
	e.metrics.LastCycleTimestamp.Set(float64(time.Now().Unix()))
	e.metrics.MemoryKeys.Set(float64(e.machine.Memory().Len()))
	if e.health != nil {
		e.health.RecordCycle(time.Now(), len(out), ok+short, failed)
	}

	log.Info("cycle complete",
		"series", len(out),
		"ok", ok,
		"insufficient", short,
		"failed", failed,
		"notifications", notes,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return out, nil
}

// Run evaluates the watch list immediately and then every interval, sending
// each evaluation to out. A full out drops the evaluation. Run closes out
// and returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, w model.Watchlist, every time.Duration, out chan<- Evaluation) {
	defer close(out)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		evs, err := e.RunCycle(ctx, w)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("cycle aborted", "error", err)
		}
		for _, ev := range evs {
			select {
			case out <- ev:
			default:
				e.log.Warn("output full, dropping evaluation", "symbol", ev.Symbol, "interval", ev.Interval)
			}
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return
		case <-ticker.C:
		}
	}
}
